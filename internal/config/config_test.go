package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkers, cfg.Grading.Workers)
	assert.Equal(t, 3, cfg.Grading.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Grading.RetryDelay)
	assert.True(t, cfg.Grading.DrainOnCancel)
	assert.Equal(t, ProgressBackendFile, cfg.Progress.Backend)
	assert.Equal(t, 0.85, cfg.Similarity.Threshold)
	assert.Equal(t, WeightsConfig{Text: 1, Structural: 1, Identifier: 1}, cfg.Similarity.Weights)
	assert.Equal(t, []string{".py"}, cfg.Catalog.Extensions)
	assert.Equal(t, filepath.Join(".", DefaultProgressFile), cfg.ProgressPath())
	assert.Equal(t, "", cfg.CriteriaPath())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grading.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_path: /srv/course
submissions_dir: hw3
grading:
  workers: 12
  retry_delay: 2s
progress:
  backend: sqlite
similarity:
  threshold: 0.75
  weights:
    text: 0.5
    structural: 2
    identifier: 0
`), 0o644))

	t.Setenv("AUTOGRADE_GRADING_MAX_ATTEMPTS", "5")
	t.Setenv("SCORING_MODEL", "qwen-coder")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Grading.Workers)
	assert.Equal(t, 5, cfg.Grading.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Grading.RetryDelay)
	assert.Equal(t, "qwen-coder", cfg.Scoring.Model)
	assert.True(t, cfg.Scoring.Cache)
	assert.Equal(t, 0.75, cfg.Similarity.Threshold)
	assert.Equal(t, WeightsConfig{Text: 0.5, Structural: 2, Identifier: 0}, cfg.Similarity.Weights)
	assert.Equal(t, "/srv/course/hw3", cfg.SubmissionsPath())
	assert.Equal(t, "/srv/course/"+DefaultProgressDB, cfg.ProgressPath())
	assert.Equal(t, "/srv/course/template.py", cfg.ReferencePath())
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("similarity:\n  threshold: 3\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "similarity.threshold")
}

func validConfig() *Config {
	return &Config{
		Scoring:    ScoringConfig{Timeout: time.Minute, ScoreMin: 0, ScoreMax: 100},
		Grading:    GradingConfig{Workers: 4, MaxAttempts: 3},
		Progress:   ProgressConfig{Backend: ProgressBackendFile},
		Similarity: SimilarityConfig{Threshold: 0.8, Weights: WeightsConfig{Text: 1}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errs   int
	}{
		{"valid", func(*Config) {}, 0},
		{"zero workers", func(c *Config) { c.Grading.Workers = 0 }, 1},
		{"too many workers", func(c *Config) { c.Grading.Workers = MaxWorkers + 1 }, 1},
		{"no attempts", func(c *Config) { c.Grading.MaxAttempts = 0 }, 1},
		{"inverted score range", func(c *Config) { c.Scoring.ScoreMin = 100 }, 1},
		{"postgres without dsn", func(c *Config) { c.Progress.Backend = ProgressBackendPostgres }, 1},
		{"unknown backend", func(c *Config) { c.Progress.Backend = "redis" }, 1},
		{"negative weight", func(c *Config) { c.Similarity.Weights.Structural = -1 }, 1},
		{"all weights zero", func(c *Config) { c.Similarity.Weights = WeightsConfig{} }, 1},
		{"several problems", func(c *Config) {
			c.Grading.Workers = 0
			c.Similarity.Threshold = 1.5
			c.Progress.Backend = "redis"
		}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errs == 0 {
				assert.NoError(t, err)
				return
			}
			var merr *multierror.Error
			require.ErrorAs(t, err, &merr)
			assert.Len(t, merr.Errors, tt.errs)
		})
	}
}
