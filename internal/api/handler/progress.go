package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/repository"
)

// ProgressHandler serves the per-student grading state.
type ProgressHandler struct {
	store repository.ProgressStore
}

// NewProgressHandler creates a new progress handler.
// Parameters:
//   - store: progress store to read from.
//
// Returns:
//   - *ProgressHandler: initialized handler.
func NewProgressHandler(store repository.ProgressStore) *ProgressHandler {
	return &ProgressHandler{store: store}
}

// ProgressListResponse lists progress records with per-status counts.
type ProgressListResponse struct {
	Total   int                     `json:"total"`
	Counts  map[string]int          `json:"counts"`
	Records []domain.ProgressRecord `json:"records"`
}

// ListProgress handles GET /api/v1/progress.
// An optional status query parameter filters the records.
func (h *ProgressHandler) ListProgress(c *gin.Context) {
	status := domain.ProgressStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown status: " + string(status),
		})
		return
	}

	records, err := h.store.Snapshot(c.Request.Context())
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to read progress: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read progress: " + err.Error(),
		})
		return
	}

	resp := ProgressListResponse{
		Counts:  make(map[string]int),
		Records: make([]domain.ProgressRecord, 0, len(records)),
	}
	for _, rec := range records {
		resp.Counts[string(rec.Status)]++
		if status == "" || rec.Status == status {
			resp.Records = append(resp.Records, rec)
		}
	}
	resp.Total = len(resp.Records)

	c.JSON(http.StatusOK, resp)
}

// GetProgress handles GET /api/v1/progress/:id.
func (h *ProgressHandler) GetProgress(c *gin.Context) {
	id := c.Param("id")

	records, err := h.store.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read progress: " + err.Error(),
		})
		return
	}

	rec, ok := records[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No progress for student " + id,
		})
		return
	}

	c.JSON(http.StatusOK, rec)
}
