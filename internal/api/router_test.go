package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/autograde/internal/api/handler"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/metrics"
	"github.com/timmy/autograde/internal/repository"
	"github.com/timmy/autograde/internal/service"
)

const solution = `def fib(n):
    a, b = 0, 1
    for _ in range(n):
        a, b = b, a + b
    return a
`

const unrelated = `import json

class Config:
    def __init__(self, path):
        with open(path) as fh:
            self.data = json.load(fh)
`

// gatedScorer blocks every call until release is closed.
type gatedScorer struct {
	release chan struct{}
}

func (s *gatedScorer) Score(ctx context.Context, task domain.GradingTask) (*domain.GradingResult, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return domain.NewSucceededResult(task.StudentID(), 88, "good"), nil
}

type fixture struct {
	cfg    *config.Config
	store  repository.ProgressStore
	scorer *gatedScorer
	admin  *handler.AdminHandler
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "submissions")
	require.NoError(t, os.Mkdir(dir, 0o755))
	for name, content := range map[string]string{
		"S001_lab.py": solution,
		"S002_lab.py": solution,
		"S003_lab.py": unrelated,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(base, "template.py"), []byte("def fib(n):\n    pass\n"), 0o644))

	cfg := &config.Config{
		BasePath:       base,
		SubmissionsDir: "submissions",
		ReferenceFile:  "template.py",
		Server:         config.ServerConfig{Mode: "test", CORS: config.CORSConfig{AllowAllOrigins: true}},
		Catalog:        config.CatalogConfig{Extensions: []string{".py"}},
		Grading:        config.GradingConfig{Workers: 2, MaxAttempts: 1, DrainOnCancel: true},
		Similarity: config.SimilarityConfig{
			Enabled:   true,
			Threshold: 0.9,
			Weights:   config.WeightsConfig{Text: 1, Structural: 1, Identifier: 1},
		},
	}
	store := repository.NewFileProgressStore(filepath.Join(base, "progress.json"), nil)
	scorer := &gatedScorer{release: make(chan struct{})}
	pipeline := service.NewPipeline(cfg, store, scorer, nil, nil)
	admin := handler.NewAdminHandler(context.Background(), pipeline, cfg.Similarity, nil)

	return &fixture{
		cfg:    cfg,
		store:  store,
		scorer: scorer,
		admin:  admin,
		router: SetupRouter(Deps{
			Pipeline: pipeline,
			Admin:    admin,
			Metrics:  metrics.NewRecorder().Handler(),
			Config:   cfg,
		}),
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, domain.ProgressRecord{
		StudentID: "S001",
		Status:    domain.ProgressStatusSucceeded,
		Result:    domain.NewSucceededResult("S001", 92, "clean"),
		UpdatedAt: time.Now(),
	}))
	require.NoError(t, f.store.Upsert(ctx, domain.ProgressRecord{
		StudentID: "S002",
		Status:    domain.ProgressStatusFailed,
		Result:    domain.NewFailedResult("S002", domain.ErrorKindParse, "no score"),
		UpdatedAt: time.Now(),
	}))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]interface{}](t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "autograde_tasks_in_progress")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/progress", nil)
	req.Header.Set("Origin", "https://grader.example.edu")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestProgress(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/progress", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[handler.ProgressListResponse](t, w)
		assert.Equal(t, 2, resp.Total)
		assert.Equal(t, map[string]int{"succeeded": 1, "failed": 1}, resp.Counts)
		assert.Equal(t, "S001", resp.Records[0].StudentID)
	})

	t.Run("filter", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/progress?status=failed", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[handler.ProgressListResponse](t, w)
		require.Len(t, resp.Records, 1)
		assert.Equal(t, "S002", resp.Records[0].StudentID)
		assert.Equal(t, domain.ErrorKindParse, resp.Records[0].Result.Error.Kind)
	})

	t.Run("unknown status", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/progress?status=done", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("by id", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/progress/S001", "")
		require.Equal(t, http.StatusOK, w.Code)
		rec := decode[domain.ProgressRecord](t, w)
		assert.Equal(t, 92.0, rec.Result.Score)

		w = f.do(t, http.MethodGet, "/api/v1/progress/S404", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestResults(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	w := f.do(t, http.MethodGet, "/api/v1/results", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handler.ResultsResponse](t, w)
	require.Len(t, resp.Entries, 2)
	assert.Empty(t, resp.Entries[0].Flags)
	assert.Equal(t, 1, resp.Statistics.Count)
	assert.Equal(t, 92.0, resp.Statistics.Mean)

	w = f.do(t, http.MethodGet, "/api/v1/results?similarity=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[handler.ResultsResponse](t, w)
	require.Len(t, resp.Entries[0].Flags, 1)
	assert.Equal(t, "S002", resp.Entries[0].Flags[0].Peer)
	assert.Equal(t, 2, resp.Counts.Flagged)

	w = f.do(t, http.MethodGet, "/api/v1/results?similarity=true&threshold=1.5", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSimilarity(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/similarity", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handler.SimilarityResponse](t, w)
	assert.Equal(t, 0.9, resp.Threshold)
	assert.Equal(t, 3, resp.Submissions)
	require.Len(t, resp.Pairs, 1)
	assert.Equal(t, [][]string{{"S001", "S002"}}, resp.Groups)
	assert.Equal(t, 3, resp.Compared+resp.Pruned)

	w = f.do(t, http.MethodGet, "/api/v1/similarity?threshold=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[handler.SimilarityResponse](t, w)
	assert.Len(t, resp.Pairs, 3)

	f.cfg.SubmissionsDir = "gone"
	w = f.do(t, http.MethodGet, "/api/v1/similarity", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRun(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/admin/runs", `{"similarity": false}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/runs", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/admin/runs/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[handler.RunStatusResponse](t, w)
	assert.True(t, status.IsRunning)
	assert.NotEmpty(t, status.CurrentRunID)

	close(f.scorer.release)
	f.admin.Wait()

	w = f.do(t, http.MethodGet, "/api/v1/admin/runs/status", "")
	status = decode[handler.RunStatusResponse](t, w)
	assert.False(t, status.IsRunning)
	assert.Equal(t, "success", status.LastRunStatus)
	require.NotNil(t, status.LastSummary)
	assert.Equal(t, 3, status.LastSummary.Succeeded)
	assert.Equal(t, 0, status.LastSummary.FlaggedPairs)
	assert.Equal(t, 3, status.Done)

	// the store now holds every record, so a new run is accepted and skips them all
	w = f.do(t, http.MethodPost, "/api/v1/admin/runs", `{"concurrency": 1}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	f.admin.Wait()
	status = decode[handler.RunStatusResponse](t, f.do(t, http.MethodGet, "/api/v1/admin/runs/status", ""))
	assert.Equal(t, 3, status.LastSummary.Skipped)
	assert.Equal(t, 1, status.LastSummary.FlaggedPairs)
}

func TestAdminRun_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/admin/runs", `{"concurrency": 99}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/api/v1/admin/runs", `{"threshold": 2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
