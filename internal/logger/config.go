package logger

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// envPrefix namespaces the grader's logging variables. AUTOGRADE_LOG_LEVEL wins over LOG_LEVEL.
const envPrefix = "AUTOGRADE_"

// EnvConfig configures a process logger.
type EnvConfig struct {
	Level       string    // debug, info, warn, error
	Format      string    // json or text
	Output      io.Writer // replaces stdout and file output when set
	ServiceName string
	Environment string // "local" never writes the log file

	LogFile     string
	LogFileOnly bool

	// rotation of LogFile
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LoadFromEnv reads the logger configuration of service from the environment.
// The log file defaults to ./logs/<service>.log so the CLI and the API server rotate separately.
func LoadFromEnv(service string) *EnvConfig {
	if service == "" {
		service = "autograde"
	}
	return &EnvConfig{
		Level:       envString("LOG_LEVEL", "info"),
		Format:      envString("LOG_FORMAT", "json"),
		ServiceName: envString("SERVICE_NAME", service),
		Environment: envString("APP_ENV", "local"),

		LogFile:     envString("LOG_FILE", "./logs/"+service+".log"),
		LogFileOnly: envBool("LOG_FILE_ONLY", false),

		MaxSizeMB:  envInt("LOG_MAX_SIZE", 100),
		MaxBackups: envInt("LOG_MAX_BACKUPS", 7),
		MaxAgeDays: envInt("LOG_MAX_AGE", 30),
		Compress:   envBool("LOG_COMPRESS", true),
	}
}

// ApplyLevel replaces the configured level. An empty level keeps the current one.
func (e *EnvConfig) ApplyLevel(level string) error {
	if level == "" {
		return nil
	}
	if _, err := logrus.ParseLevel(level); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	e.Level = level
	return nil
}

func (e *EnvConfig) level() logrus.Level {
	lvl, err := logrus.ParseLevel(e.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// writers returns the configured outputs and the rotating file, if any.
func (e *EnvConfig) writers() ([]io.Writer, *lumberjack.Logger) {
	if e.Output != nil {
		return []io.Writer{e.Output}, nil
	}

	var out []io.Writer
	var file *lumberjack.Logger
	if e.Environment != "local" && e.LogFile != "" {
		file = &lumberjack.Logger{
			Filename:   e.LogFile,
			MaxSize:    e.MaxSizeMB,
			MaxBackups: e.MaxBackups,
			MaxAge:     e.MaxAgeDays,
			Compress:   e.Compress,
		}
	}
	if file == nil || !e.LogFileOnly {
		out = append(out, os.Stdout)
	}
	if file != nil {
		out = append(out, file)
	}
	return out, file
}

func lookupEnv(key string) (string, bool) {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v, true
	}
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	return "", false
}

func envString(key, def string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := lookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := lookupEnv(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
