package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/timmy/autograde/internal/catalog"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/repository"
	"github.com/timmy/autograde/internal/similarity"
	"golang.org/x/sync/errgroup"
)

// ErrReferenceNotFound is returned when the configured reference answer does not exist.
var ErrReferenceNotFound = errors.New("reference answer not found")

// SimilarityObserver is implemented by hooks that also record similarity analyses.
type SimilarityObserver interface {
	SimilarityAnalyzed(pairs int)
}

// Pipeline wires the catalog, the grading run, the similarity pass and aggregation
// over one configuration and progress store.
type Pipeline struct {
	cfg     *config.Config
	store   repository.ProgressStore
	grading *GradingService
	cache   *CachingScorer // nil when scoring.cache is off
	hook    Hook
	logger  *logger.Logger
}

// NewPipeline creates a pipeline.
// Parameters:
//   - cfg: validated configuration.
//   - store: progress store shared by every run.
//   - scorer: scoring collaborator.
//   - hook: task lifecycle observer; nil disables it.
//   - log: logger used when the context carries none.
//
// Returns:
//   - *Pipeline: initialized pipeline.
func NewPipeline(cfg *config.Config, store repository.ProgressStore, scorer Scorer, hook Hook, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetDefault()
	}
	if hook == nil {
		hook = NopHook{}
	}
	var cache *CachingScorer
	if cfg.Scoring.Cache {
		cache = NewCachingScorer(scorer)
		scorer = cache
	}
	grading := NewGradingService(store, scorer, hook, log, &GradingConfig{
		Workers:       cfg.Grading.Workers,
		MaxAttempts:   cfg.Grading.MaxAttempts,
		RetryDelay:    cfg.Grading.RetryDelay,
		MaxRetryDelay: cfg.Grading.MaxRetryDelay,
		DrainOnCancel: cfg.Grading.DrainOnCancel,
	})
	return &Pipeline{
		cfg:     cfg,
		store:   store,
		grading: grading,
		cache:   cache,
		hook:    hook,
		logger:  log,
	}
}

// Store returns the progress store of the pipeline.
func (p *Pipeline) Store() repository.ProgressStore {
	return p.store
}

// PipelineOptions selects what one pipeline run does.
type PipelineOptions struct {
	RunID        string  // generated when empty
	Fresh        bool    // clear the progress store first
	StudentID    string  // grade only this student
	RetryFailed  bool    // re-dispatch records currently failed
	Concurrency  int     // 0 uses grading.workers
	Similarity   bool    // run the similarity pass alongside grading
	Threshold    float64 // similarity threshold in [0, 1]
	CriteriaPath string  // overrides criteria_file when set
	Progress     func(done, total int)
}

// PipelineResult is the outcome of one pipeline run.
type PipelineResult struct {
	RunID         string
	Run           *RunReport
	CatalogErrors []*catalog.EntryError
	Analysis      *similarity.Analysis // nil when the similarity pass was skipped or failed
	Results       *domain.ResultSet
}

// Scan enumerates the submissions directory, optionally for a single student.
// Per-file failures are logged and returned in the scan result.
func (p *Pipeline) Scan(ctx context.Context, studentID string) (*catalog.ScanResult, error) {
	scan, err := catalog.New(catalog.Options{
		Dir:              p.cfg.SubmissionsPath(),
		Extensions:       p.cfg.Catalog.Extensions,
		ReferencePath:    p.cfg.ReferencePath(),
		StudentID:        studentID,
		FallbackEncoding: p.cfg.Catalog.FallbackEncoding,
	}).Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range scan.Errors {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldStudentID: e.StudentID,
			logger.FieldErrorKind: string(e.Kind()),
			"file":                e.Filename,
		}).WithError(e.Err).Warn("Skipping submission")
	}
	return scan, nil
}

// Reference loads the reference answer. It returns nil when no reference file is configured.
func (p *Pipeline) Reference() (*domain.Submission, error) {
	path := p.cfg.ReferencePath()
	if path == "" {
		return nil, nil
	}
	text, err := catalog.LoadReference(path, p.cfg.Catalog.FallbackEncoding)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrReferenceNotFound, path)
		}
		return nil, err
	}
	return &domain.Submission{
		StudentID: "reference",
		Filename:  path,
		Path:      path,
		Language:  domain.LanguageFromFilename(path),
		Content:   text,
	}, nil
}

// Analyze runs the similarity engine over subs with the configured weights.
// Identifiers of ref are excluded from identifier similarity.
func (p *Pipeline) Analyze(ctx context.Context, subs []domain.Submission, ref *domain.Submission, threshold float64) (*similarity.Analysis, error) {
	w := p.cfg.Similarity.Weights
	engine, err := similarity.NewEngine(similarity.Options{
		Weights:   similarity.Weights{Text: w.Text, Structural: w.Structural, Identifier: w.Identifier},
		Reference: ref,
		Logger:    logger.FromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	analysis, err := engine.Analyze(ctx, subs, threshold)
	if err != nil {
		return nil, err
	}
	if o, ok := p.hook.(SimilarityObserver); ok {
		o.SimilarityAnalyzed(len(analysis.Pairs))
	}
	return analysis, nil
}

// Results aggregates the current progress snapshot with pairs.
func (p *Pipeline) Results(ctx context.Context, pairs []domain.SimilarityPair) (*domain.ResultSet, error) {
	records, err := p.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Aggregate(records, pairs), nil
}

// Run scans the corpus, grades every pending submission and, when enabled, runs the
// similarity pass concurrently. The similarity pass never fails the run.
// Parameters:
//   - ctx: cancelling it interrupts grading; finished records stay in the store.
//   - opts: run selection and similarity settings.
//
// Returns:
//   - *PipelineResult: grading report, catalog errors, similarity analysis and aggregated results.
//   - error: catalog or reference errors before grading starts, or the grading run's error.
func (p *Pipeline) Run(ctx context.Context, opts PipelineOptions) (*PipelineResult, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx = logger.SetRunID(ctx, runID)

	// cached scores live for one run, so a fresh run always asks the model again
	if p.cache != nil {
		p.cache.Reset()
	}
	if opts.Fresh {
		if err := p.grading.Reset(ctx); err != nil {
			return nil, err
		}
	}

	scan, err := p.Scan(ctx, opts.StudentID)
	if err != nil {
		return nil, err
	}
	ref, err := p.Reference()
	if err != nil {
		return nil, err
	}
	criteriaPath := p.cfg.CriteriaPath()
	if opts.CriteriaPath != "" {
		criteriaPath = opts.CriteriaPath
	}
	criteria, err := catalog.LoadCriteria(criteriaPath)
	if err != nil {
		return nil, err
	}

	var refText string
	if ref != nil {
		refText = ref.Content
	}
	tasks := make([]domain.GradingTask, len(scan.Submissions))
	for i, sub := range scan.Submissions {
		tasks[i] = domain.GradingTask{Submission: sub, Reference: refText, Criteria: criteria}
	}

	result := &PipelineResult{RunID: runID, CatalogErrors: scan.Errors}

	logger.With(nil).Count(len(tasks)).Info(ctx, "Catalog scanned: %d submissions, %d skipped", len(tasks), len(scan.Errors))

	similarityOn := opts.Similarity && opts.StudentID == "" && len(scan.Submissions) > 1
	if opts.Similarity && !similarityOn {
		logger.CtxInfo(ctx, "Similarity pass skipped: needs the whole corpus")
	}

	var g errgroup.Group
	g.Go(func() error {
		report, err := p.grading.Run(ctx, tasks, RunOptions{
			RunID:       runID,
			Concurrency: opts.Concurrency,
			RetryFailed: opts.RetryFailed,
			Progress:    opts.Progress,
		})
		result.Run = report
		return err
	})
	if similarityOn {
		g.Go(func() error {
			analysis, err := p.Analyze(ctx, scan.Submissions, ref, opts.Threshold)
			if err != nil {
				logger.FromContext(ctx).WithError(err).Warn("Similarity analysis failed")
				return nil
			}
			result.Analysis = analysis
			return nil
		})
	}
	runErr := g.Wait()
	if p.cache != nil {
		if hits := p.cache.Hits(); hits > 0 {
			logger.With(nil).Count(hits).Info(ctx, "Reused scores of identical submissions")
		}
	}

	var pairs []domain.SimilarityPair
	if result.Analysis != nil {
		pairs = result.Analysis.Pairs
	}
	// aggregation must see the records even if the caller's context is cancelled
	results, err := p.Results(context.WithoutCancel(ctx), pairs)
	if err != nil {
		if runErr == nil {
			runErr = err
		}
	} else {
		result.Results = results
	}

	return result, runErr
}
