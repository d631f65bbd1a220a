package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/repository"
)

// Hook observes task lifecycle events of a grading run. Calls come from the coordinating
// goroutine except TaskRetried, which is called from workers.
type Hook interface {
	TaskStarted(studentID string)
	TaskRetried(studentID string, attempt int, kind domain.ErrorKind)
	TaskFinished(studentID string, status domain.ProgressStatus, elapsed time.Duration)
}

// NopHook ignores every event.
type NopHook struct{}

func (NopHook) TaskStarted(string)                                        {}
func (NopHook) TaskRetried(string, int, domain.ErrorKind)                 {}
func (NopHook) TaskFinished(string, domain.ProgressStatus, time.Duration) {}

// GradingService runs grading tasks through a bounded worker pool and records every
// outcome in the progress store.
type GradingService struct {
	store  repository.ProgressStore
	scorer Scorer
	logger *logger.Logger
	hook   Hook

	workers       int
	maxAttempts   int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	drainOnCancel bool
}

// GradingConfig holds configuration for the grading service.
type GradingConfig struct {
	Workers       int
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	DrainOnCancel bool
}

// NewGradingService creates a new grading service.
// Parameters:
//   - store: progress store; the service is its only writer during a run.
//   - scorer: scorer called once per attempt.
//   - hook: lifecycle observer; nil disables it.
//   - log: logger used when the context carries none.
//   - cfg: pool size and retry policy.
//
// Returns:
//   - *GradingService: initialized service.
func NewGradingService(
	store repository.ProgressStore,
	scorer Scorer,
	hook Hook,
	log *logger.Logger,
	cfg *GradingConfig,
) *GradingService {
	if hook == nil {
		hook = NopHook{}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &GradingService{
		store:         store,
		scorer:        scorer,
		logger:        log,
		hook:          hook,
		workers:       clampWorkers(cfg.Workers),
		maxAttempts:   maxAttempts,
		retryDelay:    cfg.RetryDelay,
		maxRetryDelay: cfg.MaxRetryDelay,
		drainOnCancel: cfg.DrainOnCancel,
	}
}

// log returns a logger from context if available, otherwise returns the service logger
func (s *GradingService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

func clampWorkers(n int) int {
	switch {
	case n <= 0:
		return config.DefaultWorkers
	case n > config.MaxWorkers:
		return config.MaxWorkers
	default:
		return n
	}
}

// RunOptions holds options for one grading run.
type RunOptions struct {
	RunID       string                // generated when empty
	Concurrency int                   // 0 uses the configured pool size
	RetryFailed bool                  // also dispatch records currently failed
	Progress    func(done, total int) // called after each persisted outcome
}

// RunReport summarises a grading run.
type RunReport struct {
	RunID      string                  `json:"run_id"`
	Total      int                     `json:"total"`
	Dispatched int                     `json:"dispatched"`
	Succeeded  int                     `json:"succeeded"`
	Failed     int                     `json:"failed"`
	Skipped    int                     `json:"skipped"`
	Abandoned  int                     `json:"abandoned"`
	Records    []domain.ProgressRecord `json:"records"` // terminal records of the run's tasks, by student ID
	StartTime  time.Time               `json:"start_time"`
	EndTime    time.Time               `json:"end_time"`
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

type dispatch struct {
	task   domain.GradingTask
	record domain.ProgressRecord
	start  time.Time
}

type taskOutcome struct {
	dispatch
	result    *domain.GradingResult
	attempts  int
	abandoned bool
}

// Reset clears every progress record ahead of a fresh run.
func (s *GradingService) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	s.log(ctx).Info("Progress reset for a fresh run")
	return nil
}

// Run grades every task whose record is absent, pending, or failed when RetryFailed is set.
// Records left in_progress by an earlier process are reset to pending first.
// Only the calling goroutine writes to the progress store; a store error stops the run.
// Parameters:
//   - ctx: cancelling it stops dispatch; in-flight tasks drain or are abandoned per configuration.
//   - tasks: one task per student ID; later duplicates are ignored.
//   - opts: concurrency, retry-failed mode and progress callback.
//
// Returns:
//   - *RunReport: counts and the terminal records of the run's tasks.
//   - error: *repository.StoreError when the store could not be read or written, or ctx.Err() after cancellation.
func (s *GradingService) Run(ctx context.Context, tasks []domain.GradingTask, opts RunOptions) (*RunReport, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldRunID:     runID,
		logger.FieldComponent: "grading",
	})

	report := &RunReport{
		RunID:     runID,
		StartTime: time.Now(),
	}

	records, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.reconcile(ctx, records); err != nil {
		return nil, err
	}

	tasks = uniqueTasks(ctx, tasks)
	report.Total = len(tasks)

	var pending []domain.GradingTask
	for _, task := range tasks {
		rec, ok := records[task.StudentID()]
		switch {
		case !ok, rec.Status == domain.ProgressStatusPending:
			pending = append(pending, task)
		case rec.Status == domain.ProgressStatusFailed && opts.RetryFailed:
			pending = append(pending, task)
		default:
			report.Skipped++
		}
	}

	workers := s.workers
	if opts.Concurrency > 0 {
		workers = clampWorkers(opts.Concurrency)
	}
	if workers > len(pending) && len(pending) > 0 {
		workers = len(pending)
	}

	s.log(ctx).WithFields(logger.Fields{
		"total":        report.Total,
		"pending":      len(pending),
		"skipped":      report.Skipped,
		"workers":      workers,
		"retry_failed": opts.RetryFailed,
	}).Info("Starting grading run")

	runErr := s.dispatchAll(ctx, pending, records, workers, opts.Progress, report)

	report.EndTime = time.Now()
	report.Records = terminalRecords(tasks, records)

	logger.With(nil).Took(report.Duration()).Count(report.Dispatched).Info(ctx, "Grading run finished: succeeded=%d failed=%d skipped=%d abandoned=%d",
		report.Succeeded, report.Failed, report.Skipped, report.Abandoned)

	return report, runErr
}

// reconcile resets records abandoned in_progress by a previous process.
func (s *GradingService) reconcile(ctx context.Context, records map[string]domain.ProgressRecord) error {
	ids := make([]string, 0)
	for id, rec := range records {
		if rec.Status == domain.ProgressStatusInProgress {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := records[id]
		rec.Status = domain.ProgressStatusPending
		rec.UpdatedAt = time.Now().UTC()
		if err := s.store.Upsert(ctx, rec); err != nil {
			return err
		}
		records[id] = rec
	}
	if len(ids) > 0 {
		s.log(ctx).WithField(logger.FieldCount, len(ids)).Warn("Reset abandoned in-progress records to pending")
	}
	return nil
}

// dispatchAll is the coordinator: it marks records in_progress, hands tasks to workers while
// fewer than workers tasks are in flight, and persists each outcome as it arrives.
func (s *GradingService) dispatchAll(
	ctx context.Context,
	pending []domain.GradingTask,
	records map[string]domain.ProgressRecord,
	workers int,
	progress func(done, total int),
	report *RunReport,
) error {
	if len(pending) == 0 {
		return nil
	}

	// Workers outlive ctx when draining; cancelWorkers still stops them on a store error.
	base := ctx
	if s.drainOnCancel {
		base = context.WithoutCancel(ctx)
	}
	workerCtx, cancelWorkers := context.WithCancel(base)
	defer cancelWorkers()

	taskCh := make(chan dispatch, workers)
	resultCh := make(chan taskOutcome, workers)
	doneWorkers := make(chan struct{})

	go func() {
		defer close(doneWorkers)
		s.startWorkers(workerCtx, ctx, workers, taskCh, resultCh)
	}()

	var (
		next     int
		inFlight int
		finished int
		stopped  bool
		storeErr error
		done     = ctx.Done()
	)

	stop := func(err error) {
		stopped = true
		if err != nil && storeErr == nil {
			storeErr = err
			cancelWorkers()
		}
	}

	for (!stopped && next < len(pending)) || inFlight > 0 {
		if !stopped && next < len(pending) && inFlight < workers {
			select {
			case <-done:
				s.log(ctx).Warn("Grading run cancelled, no new tasks will be dispatched")
				stop(nil)
				done = nil
				continue
			default:
			}

			task := pending[next]
			next++

			rec := records[task.StudentID()]
			rec.StudentID = task.StudentID()
			rec.Status = domain.ProgressStatusInProgress
			rec.UpdatedAt = time.Now().UTC()
			if err := s.store.Upsert(ctx, rec); err != nil {
				s.log(ctx).WithError(err).Error("Failed to mark task in progress, aborting run")
				stop(err)
				continue
			}
			records[rec.StudentID] = rec

			inFlight++
			report.Dispatched++
			s.hook.TaskStarted(rec.StudentID)
			taskCh <- dispatch{task: task, record: rec, start: time.Now()}
			continue
		}

		select {
		case out := <-resultCh:
			inFlight--
			if err := s.persistOutcome(ctx, out, records, storeErr != nil, report); err != nil {
				s.log(ctx).WithError(err).Error("Failed to persist grading result, aborting run")
				stop(err)
			}
			if !out.abandoned && storeErr == nil {
				finished++
				if progress != nil {
					progress(finished, len(pending))
				}
			}
		case <-done:
			s.log(ctx).WithField("in_flight", inFlight).Warn("Grading run cancelled, waiting for in-flight tasks")
			stop(nil)
			done = nil
		}
	}

	close(taskCh)
	<-doneWorkers

	if storeErr != nil {
		return storeErr
	}
	if ctx.Err() != nil && (next < len(pending) || report.Abandoned > 0) {
		return fmt.Errorf("grading run interrupted: %w", context.Cause(ctx))
	}
	return nil
}

// startWorkers runs n workers until taskCh is closed.
func (s *GradingService) startWorkers(
	workerCtx, runCtx context.Context,
	n int,
	taskCh <-chan dispatch,
	resultCh chan<- taskOutcome,
) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			ctx := logger.WithField(workerCtx, logger.FieldWorker, workerID)
			for d := range taskCh {
				resultCh <- s.grade(ctx, runCtx, d)
			}
		}(i)
	}
	wg.Wait()
}

// grade scores one task, retrying transient failures with exponential backoff.
// A task is abandoned when its context ends mid-attempt, or when the run is cancelled
// before a retry.
func (s *GradingService) grade(ctx, runCtx context.Context, d dispatch) taskOutcome {
	id := d.task.StudentID()
	ctx = logger.SetStudentID(ctx, id)
	out := taskOutcome{dispatch: d}

	for attempt := 1; ; attempt++ {
		out.attempts = attempt
		result, err := s.scorer.Score(ctx, d.task)
		if ctx.Err() != nil {
			out.abandoned = true
			return out
		}
		if err == nil && result == nil {
			err = &ScoringError{Kind: domain.ErrorKindPermanentScoring, Err: errors.New("scorer returned no result")}
		}
		if err == nil {
			result.StudentID = id
			result.Status = domain.ProgressStatusSucceeded
			result.Error = nil
			result.Attempts = attempt
			out.result = result
			return out
		}

		kind := Classify(err)
		if kind.Retryable() && attempt < s.maxAttempts {
			delay := s.backoff(attempt)
			s.hook.TaskRetried(id, attempt, kind)
			s.log(ctx).WithFields(logger.Fields{
				logger.FieldAttempt:   attempt,
				logger.FieldErrorKind: string(kind),
				"retry_in":            delay.String(),
			}).WithError(err).Warn("Transient scoring failure, retrying")

			if runCtx.Err() != nil || !sleepCtx(ctx, delay) {
				out.abandoned = true
				return out
			}
			continue
		}

		failed := domain.NewFailedResult(id, kind, err.Error())
		failed.Attempts = attempt
		var se *ScoringError
		if errors.As(err, &se) {
			failed.RawResponse = se.Raw
		}
		out.result = failed
		return out
	}
}

// backoff returns the delay before the retry following attempt.
func (s *GradingService) backoff(attempt int) time.Duration {
	delay := s.retryDelay
	for i := 1; i < attempt && delay > 0; i++ {
		delay *= 2
		if s.maxRetryDelay > 0 && delay >= s.maxRetryDelay {
			return s.maxRetryDelay
		}
	}
	if s.maxRetryDelay > 0 && delay > s.maxRetryDelay {
		return s.maxRetryDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *GradingService) persistOutcome(
	ctx context.Context,
	out taskOutcome,
	records map[string]domain.ProgressRecord,
	aborting bool,
	report *RunReport,
) error {
	id := out.task.StudentID()
	elapsed := time.Since(out.start)

	if out.abandoned || aborting {
		// The record stays in_progress and is reset by the next run.
		report.Abandoned++
		s.hook.TaskFinished(id, domain.ProgressStatusInProgress, elapsed)
		s.log(ctx).WithField(logger.FieldStudentID, id).Warn("Task abandoned")
		return nil
	}

	rec := out.record
	rec.Status = out.result.Status
	rec.Result = out.result
	rec.RetryCount = out.attempts - 1
	rec.TotalAttempts += out.attempts
	rec.UpdatedAt = time.Now().UTC()

	if err := s.store.Upsert(ctx, rec); err != nil {
		report.Abandoned++
		s.hook.TaskFinished(id, domain.ProgressStatusInProgress, elapsed)
		return err
	}
	records[id] = rec
	s.hook.TaskFinished(id, rec.Status, elapsed)

	entry := logger.ForTask(id, out.attempts).Took(elapsed).Status(string(rec.Status))
	if rec.Status == domain.ProgressStatusSucceeded {
		report.Succeeded++
		entry.Info(ctx, "Graded %s: score=%g", id, rec.Result.Score)
	} else {
		report.Failed++
		entry.Kind(string(rec.Result.Error.Kind)).Warn(ctx, "Grading failed for %s: %s", id, rec.Result.Error.Message)
	}
	return nil
}

func uniqueTasks(ctx context.Context, tasks []domain.GradingTask) []domain.GradingTask {
	seen := make(map[string]bool, len(tasks))
	out := make([]domain.GradingTask, 0, len(tasks))
	for _, task := range tasks {
		id := task.StudentID()
		if id == "" || seen[id] {
			logger.CtxWarn(ctx, "Ignoring duplicate or unnamed task for student %q", id)
			continue
		}
		seen[id] = true
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StudentID() < out[j].StudentID()
	})
	return out
}

func terminalRecords(tasks []domain.GradingTask, records map[string]domain.ProgressRecord) []domain.ProgressRecord {
	out := make([]domain.ProgressRecord, 0, len(tasks))
	for _, task := range tasks {
		if rec, ok := records[task.StudentID()]; ok && rec.Status.IsTerminal() {
			out = append(out, rec)
		}
	}
	return out
}

// IsStoreError reports whether err aborted a run because of the progress store.
func IsStoreError(err error) bool {
	var se *repository.StoreError
	return errors.As(err, &se)
}
