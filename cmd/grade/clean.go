package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/report"
)

const (
	cleanBase  = "base"  // base_path, its export directory and the configured progress store
	cleanLocal = "local" // the working directory, ./reports and ./logs
	cleanAll   = "all"
)

type cleanTarget struct {
	dir      string
	patterns []string
}

// runClean removes generated reports and saved progress, then exits without grading.
func runClean(appLogger *logger.Logger, cfg *config.Config, opts options) int {
	opts.clean = strings.ToLower(strings.TrimSpace(opts.clean))
	cwd, err := os.Getwd()
	if err != nil {
		appLogger.WithError(err).Error("Failed to resolve working directory")
		return 1
	}
	targets, err := cleanTargets(cfg, opts, cwd)
	if err != nil {
		appLogger.WithError(err).Error("Invalid arguments")
		return 2
	}
	if cfg.Progress.Backend == config.ProgressBackendPostgres && opts.clean != cleanLocal {
		appLogger.Warn("Progress is kept in PostgreSQL; use -fresh to discard it")
	}

	var (
		total  int
		result *multierror.Error
	)
	for _, t := range targets {
		removed, err := report.Clean(t.dir, t.patterns...)
		for _, p := range removed {
			fmt.Printf("Removed: %s\n", p)
		}
		total += len(removed)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	log := appLogger.WithFields(logger.Fields{"scope": opts.clean, logger.FieldCount: total})
	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).Error("Some files could not be removed")
		return 1
	}
	log.Info("Clean finished")
	return 0
}

// cleanTargets resolves the -clean scope into directories and the file patterns removed from each.
func cleanTargets(cfg *config.Config, opts options, cwd string) ([]cleanTarget, error) {
	if opts.fresh || opts.retryFailed || opts.student != "" || opts.export != "" || opts.criteria != "" {
		return nil, errors.New("-clean cannot be combined with grading flags")
	}

	scope := strings.ToLower(strings.TrimSpace(opts.clean))
	var targets []cleanTarget
	if scope == cleanBase || scope == cleanAll {
		targets = append(targets,
			cleanTarget{dir: cfg.BasePath, patterns: report.ReportPatterns},
			cleanTarget{dir: cfg.ExportPath(), patterns: report.ReportPatterns},
		)
		if cfg.Progress.Backend != config.ProgressBackendPostgres {
			p := cfg.ProgressPath()
			targets = append(targets, cleanTarget{dir: filepath.Dir(p), patterns: progressPatterns(filepath.Base(p))})
		}
	}
	if scope == cleanLocal || scope == cleanAll {
		patterns := append([]string{"*.log"}, report.ReportPatterns...)
		patterns = append(patterns, progressPatterns(config.DefaultProgressFile)...)
		patterns = append(patterns, progressPatterns(config.DefaultProgressDB)...)
		targets = append(targets,
			cleanTarget{dir: cwd, patterns: patterns},
			cleanTarget{dir: filepath.Join(cwd, "reports"), patterns: report.ReportPatterns},
			cleanTarget{dir: filepath.Join(cwd, "logs"), patterns: []string{"*.log", "*.log.gz"}},
		)
	}
	if targets == nil {
		return nil, fmt.Errorf("-clean must be %s, %s or %s, got %q", cleanBase, cleanLocal, cleanAll, opts.clean)
	}
	return targets, nil
}

// progressPatterns matches a progress store and the SQLite journal files next to it.
// The ".corrupt" backup is kept.
func progressPatterns(name string) []string {
	return []string{name, name + "-wal", name + "-shm", name + "-journal"}
}
