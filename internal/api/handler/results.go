package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/autograde/internal/catalog"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/report"
	"github.com/timmy/autograde/internal/service"
	"github.com/timmy/autograde/internal/similarity"
)

// ResultsHandler serves aggregated results and similarity analyses.
type ResultsHandler struct {
	pipeline         *service.Pipeline
	defaultThreshold float64
}

// NewResultsHandler creates a new results handler.
// Parameters:
//   - pipeline: pipeline giving access to the store, the catalog and the similarity engine.
//   - threshold: similarity threshold used when a request does not set one.
//
// Returns:
//   - *ResultsHandler: initialized handler.
func NewResultsHandler(pipeline *service.Pipeline, threshold float64) *ResultsHandler {
	return &ResultsHandler{
		pipeline:         pipeline,
		defaultThreshold: threshold,
	}
}

// ResultsResponse is the aggregated result set with its statistics.
type ResultsResponse struct {
	*domain.ResultSet
	Statistics report.Statistics `json:"statistics"`
}

// SimilarityResponse is one similarity analysis of the current corpus.
type SimilarityResponse struct {
	Threshold   float64                 `json:"threshold"`
	Submissions int                     `json:"submissions"`
	Compared    int                     `json:"compared"`
	Pruned      int                     `json:"pruned"`
	DurationMs  int64                   `json:"duration_ms"`
	Pairs       []domain.SimilarityPair `json:"pairs"`
	Groups      [][]string              `json:"groups"`
	ParseErrors []string                `json:"parse_errors"`
}

// GetResults handles GET /api/v1/results.
// With similarity=true the current corpus is analysed and flags are attached.
func (h *ResultsHandler) GetResults(c *gin.Context) {
	ctx := c.Request.Context()

	var pairs []domain.SimilarityPair
	if withSimilarity, _ := strconv.ParseBool(c.DefaultQuery("similarity", "false")); withSimilarity {
		threshold, ok := h.threshold(c)
		if !ok {
			return
		}
		analysis, err := h.analyze(ctx, threshold)
		if err != nil {
			writeAnalysisError(c, err)
			return
		}
		pairs = analysis.Pairs
	}

	set, err := h.pipeline.Results(ctx, pairs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to aggregate results: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ResultsResponse{
		ResultSet:  set,
		Statistics: report.Summarize(set),
	})
}

// GetSimilarity handles GET /api/v1/similarity.
func (h *ResultsHandler) GetSimilarity(c *gin.Context) {
	threshold, ok := h.threshold(c)
	if !ok {
		return
	}

	analysis, err := h.analyze(c.Request.Context(), threshold)
	if err != nil {
		writeAnalysisError(c, err)
		return
	}

	resp := SimilarityResponse{
		Threshold:   analysis.Threshold,
		Submissions: analysis.Submissions,
		Compared:    analysis.Compared,
		Pruned:      analysis.Pruned,
		DurationMs:  analysis.Duration.Milliseconds(),
		Pairs:       analysis.Pairs,
		Groups:      similarity.Groups(analysis.Pairs),
		ParseErrors: make([]string, 0, len(analysis.ParseErrors)),
	}
	if resp.Pairs == nil {
		resp.Pairs = []domain.SimilarityPair{}
	}
	for _, pe := range analysis.ParseErrors {
		resp.ParseErrors = append(resp.ParseErrors, pe.StudentID)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ResultsHandler) threshold(c *gin.Context) (float64, bool) {
	raw := c.Query("threshold")
	if raw == "" {
		return h.defaultThreshold, true
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil || threshold < 0 || threshold > 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "threshold must be a number within [0, 1]",
		})
		return 0, false
	}
	return threshold, true
}

func (h *ResultsHandler) analyze(ctx context.Context, threshold float64) (*similarity.Analysis, error) {
	scan, err := h.pipeline.Scan(ctx, "")
	if err != nil {
		return nil, err
	}
	ref, err := h.pipeline.Reference()
	if err != nil && !errors.Is(err, service.ErrReferenceNotFound) {
		return nil, err
	}
	return h.pipeline.Analyze(ctx, scan.Submissions, ref, threshold)
}

func writeAnalysisError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, catalog.ErrDirNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{
		"error": "Similarity analysis failed: " + err.Error(),
	})
}
