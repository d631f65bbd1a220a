package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/timmy/autograde/internal/catalog"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/report"
	"github.com/timmy/autograde/internal/repository"
	"github.com/timmy/autograde/internal/service"
	"github.com/timmy/autograde/internal/storage"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	parallel := flag.Int("parallel", 0, "Number of concurrent grading workers (0 uses grading.workers)")
	fresh := flag.Bool("fresh", false, "Discard saved progress and grade everything again")
	student := flag.String("student", "", "Grade only this student ID")
	retryFailed := flag.Bool("retry-failed", false, "Re-grade submissions whose last attempt failed")
	noSimilarity := flag.Bool("no-similarity", false, "Skip the similarity analysis")
	threshold := flag.Float64("threshold", -1, "Similarity threshold in [0, 1] (default similarity.threshold)")
	export := flag.String("export", "", "Comma-separated export formats: json, csv, markdown, xlsx, all, none (default export.formats)")
	criteria := flag.String("criteria", "", "Path to a grading criteria document")
	clean := flag.String("clean", "", "Remove generated reports and progress instead of grading: base, local or all")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.Parse()

	envCfg := logger.LoadFromEnv("autograde-grade")
	if err := envCfg.ApplyLevel(*logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)

	os.Exit(run(appLogger, options{
		configPath:   *configPath,
		parallel:     *parallel,
		fresh:        *fresh,
		student:      *student,
		retryFailed:  *retryFailed,
		noSimilarity: *noSimilarity,
		threshold:    *threshold,
		export:       *export,
		criteria:     *criteria,
		clean:        *clean,
	}))
}

type options struct {
	configPath   string
	parallel     int
	fresh        bool
	student      string
	retryFailed  bool
	noSimilarity bool
	threshold    float64
	export       string
	criteria     string
	clean        string
}

// run returns the process exit status.
func run(appLogger *logger.Logger, opts options) int {
	defer logger.Sync()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		appLogger.WithError(err).Error("Failed to load config")
		return 2
	}

	if opts.clean != "" {
		return runClean(appLogger, cfg, opts)
	}

	pipelineOpts, formats, err := resolveOptions(cfg, opts)
	if err != nil {
		appLogger.WithError(err).Error("Invalid arguments")
		return 2
	}

	store, err := repository.NewProgressStore(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Error("Failed to open progress store")
		return 1
	}
	defer store.Close()

	if cfg.Scoring.APIKey == "" {
		appLogger.Warn("No scoring API key configured; every task will fail with an authentication error")
	}
	scorer := service.NewChatScorer(&service.ScoringConfig{
		BaseURL:     cfg.Scoring.BaseURL,
		APIKey:      cfg.Scoring.APIKey,
		Model:       cfg.Scoring.Model,
		Timeout:     cfg.Scoring.Timeout,
		MaxTokens:   cfg.Scoring.MaxTokens,
		Temperature: cfg.Scoring.Temperature,
		ScoreMin:    cfg.Scoring.ScoreMin,
		ScoreMax:    cfg.Scoring.ScoreMax,
	})

	pipeline := service.NewPipeline(cfg, store, scorer, nil, appLogger)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(appLogger.WithContext(context.Background()), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipelineOpts.Progress = progressLogger(appLogger)

	appLogger.WithFields(logger.Fields{
		"submissions":  cfg.SubmissionsPath(),
		"progress":     cfg.ProgressPath(),
		"fresh":        pipelineOpts.Fresh,
		"student":      pipelineOpts.StudentID,
		"retry_failed": pipelineOpts.RetryFailed,
		"similarity":   pipelineOpts.Similarity,
		"model":        scorer.GetModel(),
	}).Info("Starting grading")

	res, runErr := pipeline.Run(ctx, pipelineOpts)
	if res == nil {
		switch {
		case errors.Is(runErr, catalog.ErrDirNotFound), errors.Is(runErr, service.ErrReferenceNotFound):
			appLogger.WithError(runErr).Error("Corpus is incomplete; nothing was graded")
			return 2
		default:
			appLogger.WithError(runErr).Error("Grading could not start")
			return 1
		}
	}

	printSummary(res)

	exitCode := 0
	if ctx.Err() != nil {
		appLogger.Info("Received shutdown signal, dispatch stopped")
	}
	if runErr != nil {
		if service.IsStoreError(runErr) {
			appLogger.WithError(runErr).Error("Progress store failed; the run was aborted")
		} else {
			appLogger.WithError(runErr).Warn("Grading run interrupted; re-run to resume")
		}
		exitCode = 1
	}

	if len(formats) > 0 && res.Results != nil {
		// exports are written even after an interrupt, from whatever is terminal
		if err := exportReports(context.WithoutCancel(ctx), cfg, res, pipelineOpts.Threshold, scorer.GetModel(), formats, appLogger); err != nil {
			appLogger.WithError(err).Error("Export finished with errors")
			if exitCode == 0 {
				exitCode = 1
			}
		}
	}

	return exitCode
}

func resolveOptions(cfg *config.Config, opts options) (service.PipelineOptions, []report.Format, error) {
	po := service.PipelineOptions{
		Fresh:        opts.fresh,
		StudentID:    opts.student,
		RetryFailed:  opts.retryFailed,
		Concurrency:  opts.parallel,
		Similarity:   cfg.Similarity.Enabled && !opts.noSimilarity,
		Threshold:    cfg.Similarity.Threshold,
		CriteriaPath: opts.criteria,
	}
	if opts.parallel < 0 || opts.parallel > config.MaxWorkers {
		return po, nil, fmt.Errorf("-parallel must be in [0, %d], got %d", config.MaxWorkers, opts.parallel)
	}
	if opts.threshold >= 0 {
		if opts.threshold > 1 {
			return po, nil, fmt.Errorf("-threshold must be in [0, 1], got %g", opts.threshold)
		}
		po.Threshold = opts.threshold
	}
	if opts.fresh && opts.retryFailed {
		return po, nil, errors.New("-fresh and -retry-failed are mutually exclusive")
	}

	names := cfg.Export.Formats
	if opts.export != "" {
		names = strings.Split(opts.export, ",")
	}
	if len(names) == 1 && strings.EqualFold(strings.TrimSpace(names[0]), "none") {
		return po, nil, nil
	}
	formats, err := report.ParseFormats(names)
	if err != nil {
		return po, nil, err
	}
	return po, formats, nil
}

func progressLogger(log *logger.Logger) func(done, total int) {
	return func(done, total int) {
		step := max(total/10, 1)
		if done%step == 0 || done == total {
			log.WithFields(logger.Fields{
				"done":  done,
				"total": total,
			}).Infof("Progress: %d/%d (%.0f%%)", done, total, 100*float64(done)/float64(total))
		}
	}
}

func printSummary(res *service.PipelineResult) {
	fmt.Println()
	fmt.Println("=== Grading summary ===")
	if r := res.Run; r != nil {
		fmt.Printf("Run %s: %d submissions, %d succeeded, %d failed, %d skipped", r.RunID, r.Total, r.Succeeded, r.Failed, r.Skipped)
		if r.Abandoned > 0 {
			fmt.Printf(", %d interrupted", r.Abandoned)
		}
		fmt.Printf(" (%s)\n", r.Duration().Round(time.Millisecond))
	}
	for _, e := range res.CatalogErrors {
		fmt.Printf("  skipped %s: %v\n", e.Filename, e.Err)
	}

	if set := res.Results; set != nil {
		failed := 0
		for _, e := range set.Entries {
			if e.Status != domain.ProgressStatusFailed || e.Result == nil || e.Result.Error == nil {
				continue
			}
			if failed == 0 {
				fmt.Println("Failed:")
			}
			failed++
			fmt.Printf("  %s  [%s] %s\n", e.StudentID, e.Result.Error.Kind, e.Result.Error.Message)
		}
		if failed > 0 {
			fmt.Println("Re-run with -retry-failed to grade failed submissions again.")
		}
	}

	if a := res.Analysis; a != nil {
		fmt.Printf("Similarity (threshold %.2f): %d pairs flagged among %d submissions\n", a.Threshold, len(a.Pairs), a.Submissions)
		for _, p := range a.Pairs {
			fmt.Printf("  %s ~ %s  %.3f (text %.3f, structure %.3f, identifiers %.3f)\n",
				p.StudentA, p.StudentB, p.Score, p.Text, p.Structural, p.Identifier)
		}
	}
}

func exportReports(
	ctx context.Context,
	cfg *config.Config,
	res *service.PipelineResult,
	threshold float64,
	model string,
	formats []report.Format,
	log *logger.Logger,
) error {
	var opts []report.ExporterOption
	if up := cfg.Export.Upload; up.Enabled {
		store, err := storage.Open(ctx, up)
		if err != nil {
			return fmt.Errorf("failed to initialize report storage: %w", err)
		}
		opts = append(opts, report.WithUpload(store, up.Prefix))
	}

	rep := &report.Report{
		RunID:     res.RunID,
		Results:   res.Results,
		Stats:     report.Summarize(res.Results),
		Threshold: threshold,
		Metadata: map[string]interface{}{
			"model":       model,
			"submissions": cfg.SubmissionsPath(),
		},
	}
	if a := res.Analysis; a != nil {
		for _, pe := range a.ParseErrors {
			rep.ParseFails = append(rep.ParseFails, pe.StudentID)
		}
	}

	exporter := report.NewExporter(cfg.ExportPath(), log, opts...)
	paths, err := exporter.Export(ctx, rep, formats)
	for _, p := range paths {
		if url, ok := exporter.Uploaded()[p]; ok {
			fmt.Printf("Report: %s (%s)\n", p, url)
		} else {
			fmt.Printf("Report: %s\n", p)
		}
	}
	return err
}
