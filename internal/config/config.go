package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	BasePath       string `mapstructure:"base_path"`
	SubmissionsDir string `mapstructure:"submissions_dir"`
	ReferenceFile  string `mapstructure:"reference_file"`
	CriteriaFile   string `mapstructure:"criteria_file"`

	Server     ServerConfig     `mapstructure:"server"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Grading    GradingConfig    `mapstructure:"grading"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Export     ExportConfig     `mapstructure:"export"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type CatalogConfig struct {
	Extensions       []string `mapstructure:"extensions"`
	FallbackEncoding string   `mapstructure:"fallback_encoding"` // empty derives it from the locale
}

// GradingConfig controls the worker pool of a grading run.
type GradingConfig struct {
	Workers       int           `mapstructure:"workers"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	DrainOnCancel bool          `mapstructure:"drain_on_cancel"`
}

type SimilarityConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold float64       `mapstructure:"threshold"`
	Weights   WeightsConfig `mapstructure:"weights"`
}

// WeightsConfig enumerates the weight of each similarity metric.
// Weights are normalised by their sum, so they need not add up to 1.
type WeightsConfig struct {
	Text       float64 `mapstructure:"text"`
	Structural float64 `mapstructure:"structural"`
	Identifier float64 `mapstructure:"identifier"`
}

type ExportConfig struct {
	Formats []string      `mapstructure:"formats"`
	Dir     string        `mapstructure:"dir"`
	Upload  StorageConfig `mapstructure:"upload"`
}

// StorageConfig holds S3-compatible object storage settings for report upload.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // r2, s3, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
	PublicURL string `mapstructure:"public_url"`
}

// Load reads configuration from file, .env and environment, then validates it.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working directory.
//
// Returns:
//   - *Config: validated configuration.
//   - error: non-nil if the file is unreadable or validation fails.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AUTOGRADE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("scoring.api_key", "OPENAI_API_KEY")
	v.BindEnv("scoring.base_url", "OPENAI_BASE_URL")
	v.BindEnv("scoring.model", "SCORING_MODEL")
	v.BindEnv("progress.dsn", "DATABASE_DSN")
	v.BindEnv("export.upload.endpoint", "S3_ENDPOINT")
	v.BindEnv("export.upload.access_key", "S3_ACCESS_KEY")
	v.BindEnv("export.upload.secret_key", "S3_SECRET_KEY")
	v.BindEnv("export.upload.bucket", "S3_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Scoring.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_path", ".")
	v.SetDefault("submissions_dir", "submissions")
	v.SetDefault("reference_file", "template.py")
	v.SetDefault("criteria_file", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("catalog.extensions", []string{".py"})
	v.SetDefault("catalog.fallback_encoding", "")
	v.SetDefault("scoring.base_url", "https://api.openai.com/v1")
	v.SetDefault("scoring.model", "gpt-4o-mini")
	v.SetDefault("scoring.timeout", "60s")
	v.SetDefault("scoring.max_tokens", 500)
	v.SetDefault("scoring.temperature", 0.3)
	v.SetDefault("scoring.score_min", 0)
	v.SetDefault("scoring.score_max", 100)
	v.SetDefault("scoring.cache", true)
	v.SetDefault("grading.workers", DefaultWorkers)
	v.SetDefault("grading.max_attempts", 3)
	v.SetDefault("grading.retry_delay", "5s")
	v.SetDefault("grading.max_retry_delay", "60s")
	v.SetDefault("grading.drain_on_cancel", true)
	v.SetDefault("progress.backend", ProgressBackendFile)
	v.SetDefault("progress.path", "")
	v.SetDefault("progress.max_idle_conns", 2)
	v.SetDefault("progress.max_open_conns", 4)
	v.SetDefault("progress.conn_max_lifetime", "1h")
	v.SetDefault("similarity.enabled", true)
	v.SetDefault("similarity.threshold", 0.85)
	v.SetDefault("similarity.weights.text", 1.0)
	v.SetDefault("similarity.weights.structural", 1.0)
	v.SetDefault("similarity.weights.identifier", 1.0)
	v.SetDefault("export.formats", []string{"json"})
	v.SetDefault("export.dir", "reports")
	v.SetDefault("export.upload.enabled", false)
	v.SetDefault("export.upload.use_ssl", true)
	v.SetDefault("export.upload.prefix", "autograde")
}

// SubmissionsPath returns the submissions directory resolved against base_path.
func (c *Config) SubmissionsPath() string {
	return c.resolve(c.SubmissionsDir)
}

// ReferencePath returns the reference-answer file resolved against base_path.
func (c *Config) ReferencePath() string {
	if c.ReferenceFile == "" {
		return ""
	}
	return c.resolve(c.ReferenceFile)
}

// CriteriaPath returns the criteria document resolved against base_path, or "" if unset.
func (c *Config) CriteriaPath() string {
	if c.CriteriaFile == "" {
		return ""
	}
	return c.resolve(c.CriteriaFile)
}

// ExportPath returns the report directory resolved against base_path.
func (c *Config) ExportPath() string {
	return c.resolve(c.Export.Dir)
}

// ProgressPath returns the location of the progress file or SQLite database.
// The default is stable for a given base_path so that re-runs resume.
func (c *Config) ProgressPath() string {
	if c.Progress.Path != "" {
		return c.resolve(c.Progress.Path)
	}
	switch c.Progress.Backend {
	case ProgressBackendSQLite:
		return filepath.Join(c.BasePath, DefaultProgressDB)
	default:
		return filepath.Join(c.BasePath, DefaultProgressFile)
	}
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BasePath, p)
}
