package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultWorkers is the default size of the grading pool.
	DefaultWorkers = 5
	// MaxWorkers caps the grading pool regardless of configuration.
	MaxWorkers = 32

	DefaultProgressFile = "grading_progress.json"
	DefaultProgressDB   = "grading_progress.db"
)

// Progress store backends.
const (
	ProgressBackendFile     = "file"
	ProgressBackendSQLite   = "sqlite"
	ProgressBackendPostgres = "postgres"
)

// ScoringConfig configures the OpenAI-compatible scoring endpoint.
type ScoringConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`     // API key (can be set directly or via env var)
	APIKeyEnv   string        `mapstructure:"api_key_env"` // Environment variable name for API key
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	ScoreMin    float64       `mapstructure:"score_min"`
	ScoreMax    float64       `mapstructure:"score_max"`
	Cache       bool          `mapstructure:"cache"` // score byte-identical submissions once per run
}

// ResolveEnvVars loads the API key from APIKeyEnv when no key is set directly.
func (c *ScoringConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
}

// ProgressConfig selects and configures the progress store backend.
type ProgressConfig struct {
	Backend         string        `mapstructure:"backend"` // file, sqlite, postgres
	Path            string        `mapstructure:"path"`
	DSNValue        string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the connection string for database backends.
// For SQLite an explicit DSN wins, otherwise the path is used with durable pragmas.
func (p *ProgressConfig) DSN(path string) string {
	if p.DSNValue != "" {
		return p.DSNValue
	}
	if p.Backend == ProgressBackendSQLite {
		return path + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL"
	}
	return ""
}

// Validate checks the whole configuration at load time.
// Every problem is reported, not only the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Grading.Workers < 1 || c.Grading.Workers > MaxWorkers {
		result = multierror.Append(result, fmt.Errorf("grading.workers must be in [1, %d], got %d", MaxWorkers, c.Grading.Workers))
	}
	if c.Grading.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("grading.max_attempts must be at least 1, got %d", c.Grading.MaxAttempts))
	}
	if c.Grading.RetryDelay < 0 || c.Grading.MaxRetryDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("grading retry delays must not be negative"))
	}
	if c.Scoring.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("scoring.timeout must be positive, got %s", c.Scoring.Timeout))
	}
	if c.Scoring.ScoreMin >= c.Scoring.ScoreMax {
		result = multierror.Append(result, fmt.Errorf("scoring.score_min (%g) must be below scoring.score_max (%g)", c.Scoring.ScoreMin, c.Scoring.ScoreMax))
	}
	switch c.Progress.Backend {
	case ProgressBackendFile, ProgressBackendSQLite:
	case ProgressBackendPostgres:
		if c.Progress.DSNValue == "" {
			result = multierror.Append(result, fmt.Errorf("progress.dsn is required for the postgres backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown progress.backend %q", c.Progress.Backend))
	}
	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1 {
		result = multierror.Append(result, fmt.Errorf("similarity.threshold must be in [0, 1], got %g", c.Similarity.Threshold))
	}
	if err := c.Similarity.Weights.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// Validate requires non-negative weights with a positive sum.
func (w WeightsConfig) Validate() error {
	if w.Text < 0 || w.Structural < 0 || w.Identifier < 0 {
		return fmt.Errorf("similarity weights must not be negative (text=%g structural=%g identifier=%g)", w.Text, w.Structural, w.Identifier)
	}
	if w.Text+w.Structural+w.Identifier == 0 {
		return fmt.Errorf("similarity weights must not all be zero")
	}
	return nil
}
