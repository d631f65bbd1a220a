package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/service"
)

// AdminHandler starts grading runs in the background, one at a time.
type AdminHandler struct {
	pipeline *service.Pipeline
	defaults config.SimilarityConfig
	baseCtx  context.Context
	logger   *logger.Logger
	wg       sync.WaitGroup

	// Run state
	mu            sync.RWMutex
	isRunning     bool
	currentRunID  string
	done, total   int
	lastRunTime   time.Time
	lastRunStatus string
	lastSummary   *RunSummary
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - ctx: lifetime of background runs; cancelling it interrupts a running grading run.
//   - pipeline: pipeline executing the runs.
//   - defaults: similarity settings used when a request leaves them unset.
//   - log: logger instance.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(ctx context.Context, pipeline *service.Pipeline, defaults config.SimilarityConfig, log *logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &AdminHandler{
		pipeline: pipeline,
		defaults: defaults,
		baseCtx:  ctx,
		logger:   log,
	}
}

// RunRequest represents the start-run API request.
type RunRequest struct {
	Fresh       bool     `json:"fresh"`
	StudentID   string   `json:"student_id"`
	RetryFailed bool     `json:"retry_failed"`
	Concurrency int      `json:"concurrency" binding:"min=0,max=32"`
	Similarity  *bool    `json:"similarity"`
	Threshold   *float64 `json:"threshold" binding:"omitempty,min=0,max=1"`
}

// RunSummary summarises a finished run.
type RunSummary struct {
	RunID         string `json:"run_id"`
	Total         int    `json:"total"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	Skipped       int    `json:"skipped"`
	Abandoned     int    `json:"abandoned"`
	CatalogErrors int    `json:"catalog_errors"`
	FlaggedPairs  int    `json:"flagged_pairs"`
	DurationMs    int64  `json:"duration_ms"`
}

// RunStatusResponse represents the run status.
type RunStatusResponse struct {
	IsRunning     bool        `json:"is_running"`
	CurrentRunID  string      `json:"current_run_id,omitempty"`
	Done          int         `json:"done"`
	Total         int         `json:"total"`
	LastRunTime   string      `json:"last_run_time,omitempty"`
	LastRunStatus string      `json:"last_run_status,omitempty"`
	LastSummary   *RunSummary `json:"last_summary,omitempty"`
}

// TriggerRun handles POST /api/v1/admin/runs.
// The run continues after the response; 409 is returned while another run is active.
func (h *AdminHandler) TriggerRun(c *gin.Context) {
	ctx := c.Request.Context()

	var req RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.CtxWarn(ctx, "Invalid run request: client_ip=%s, error=%v", c.ClientIP(), err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	opts := service.PipelineOptions{
		Fresh:       req.Fresh,
		StudentID:   req.StudentID,
		RetryFailed: req.RetryFailed,
		Concurrency: req.Concurrency,
		Similarity:  h.defaults.Enabled,
		Threshold:   h.defaults.Threshold,
	}
	if req.Similarity != nil {
		opts.Similarity = *req.Similarity
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}

	// Check-and-set under one lock so two requests cannot both start
	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Run request rejected: already running, client_ip=%s", c.ClientIP())
		c.JSON(http.StatusConflict, gin.H{"error": "A grading run is already running"})
		return
	}
	h.isRunning = true
	h.currentRunID = uuid.New().String()
	opts.RunID = h.currentRunID
	h.done, h.total = 0, 0
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting grading run: fresh=%v, student=%q, retry_failed=%v, concurrency=%d, similarity=%v",
		opts.Fresh, opts.StudentID, opts.RetryFailed, opts.Concurrency, opts.Similarity)

	opts.Progress = func(done, total int) {
		h.mu.Lock()
		h.done, h.total = done, total
		h.mu.Unlock()
	}

	// Detach from the request; the run is bound to the server lifetime instead
	runCtx := logger.SetComponent(h.logger.WithContext(h.baseCtx), "admin")
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.execute(runCtx, opts)
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Grading run started"})
}

func (h *AdminHandler) execute(ctx context.Context, opts service.PipelineOptions) {
	start := time.Now()
	res, err := h.pipeline.Run(ctx, opts)
	duration := time.Since(start)

	var summary *RunSummary
	if res != nil {
		summary = &RunSummary{RunID: res.RunID, CatalogErrors: len(res.CatalogErrors), DurationMs: duration.Milliseconds()}
		if r := res.Run; r != nil {
			summary.Total = r.Total
			summary.Succeeded = r.Succeeded
			summary.Failed = r.Failed
			summary.Skipped = r.Skipped
			summary.Abandoned = r.Abandoned
		}
		if res.Analysis != nil {
			summary.FlaggedPairs = len(res.Analysis.Pairs)
		}
	}

	h.mu.Lock()
	h.isRunning = false
	h.currentRunID = ""
	h.lastRunTime = time.Now()
	h.lastSummary = summary
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(nil).Took(duration).Status("failed").Error(ctx, "Grading run failed: %v", err)
		return
	}
	logger.With(nil).Took(duration).Count(summary.Total).Status("success").Info(ctx, "Grading run completed: succeeded=%d, failed=%d, skipped=%d, flagged_pairs=%d",
		summary.Succeeded, summary.Failed, summary.Skipped, summary.FlaggedPairs)
}

// Wait blocks until a background run, if any, has returned.
func (h *AdminHandler) Wait() {
	h.wg.Wait()
}

// GetRunStatus handles GET /api/v1/admin/runs/status.
func (h *AdminHandler) GetRunStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	logger.CtxDebug(c.Request.Context(), "Run status requested: client_ip=%s, is_running=%v", c.ClientIP(), h.isRunning)

	resp := RunStatusResponse{
		IsRunning:     h.isRunning,
		CurrentRunID:  h.currentRunID,
		Done:          h.done,
		Total:         h.total,
		LastRunStatus: h.lastRunStatus,
		LastSummary:   h.lastSummary,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}
