package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
)

// ProgressStore is the durable record of per-student grading state.
// Every Upsert is durable before it returns.
type ProgressStore interface {
	// Load returns every record keyed by student ID. A missing store yields an empty mapping.
	// The file backend also treats an unparsable document as empty after backing it up, but
	// returns a *StoreError for a file it cannot read. The database backends return a
	// *StoreError whenever the table cannot be read.
	Load(ctx context.Context) (map[string]domain.ProgressRecord, error)

	// Upsert replaces the record of rec.StudentID. Moving a stored record to a status that
	// cannot follow its current one fails with ErrInvalidTransition.
	Upsert(ctx context.Context, rec domain.ProgressRecord) error

	// Snapshot returns every record sorted by student ID.
	Snapshot(ctx context.Context) ([]domain.ProgressRecord, error)

	// Reset removes every record, for a fresh run.
	Reset(ctx context.Context) error

	Close() error
}

// ErrInvalidTransition is wrapped by Upsert when a stored record would move backwards,
// e.g. from succeeded to in_progress.
var ErrInvalidTransition = errors.New("invalid progress transition")

// checkTransition accepts a rewrite that keeps the status and every move domain.CanTransition allows.
// A record that does not exist yet may start in any status, so imports and migrations can seed it.
func checkTransition(prev domain.ProgressStatus, rec domain.ProgressRecord) error {
	if prev == rec.Status || domain.CanTransition(prev, rec.Status) {
		return nil
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, rec.StudentID, prev, rec.Status)
}

// StoreError reports a progress store failure. It is fatal to a grading run.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s %s: %v", domain.ErrorKindStoreIO, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", domain.ErrorKindStoreIO, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Kind returns domain.ErrorKindStoreIO.
func (e *StoreError) Kind() domain.ErrorKind {
	return domain.ErrorKindStoreIO
}

// NewProgressStore creates the progress store selected by cfg.Progress.Backend.
// Parameters:
//   - cfg: application configuration.
//   - log: logger used by the store.
//
// Returns:
//   - ProgressStore: file, sqlite or postgres backed store.
//   - error: non-nil if a database connection cannot be opened.
func NewProgressStore(cfg *config.Config, log *logger.Logger) (ProgressStore, error) {
	switch cfg.Progress.Backend {
	case config.ProgressBackendSQLite, config.ProgressBackendPostgres:
		db, err := InitDB(&cfg.Progress, cfg.ProgressPath())
		if err != nil {
			return nil, &StoreError{Op: "open", Path: cfg.ProgressPath(), Err: err}
		}
		return NewGormProgressStore(db), nil
	default:
		return NewFileProgressStore(cfg.ProgressPath(), log), nil
	}
}

func sortedRecords(records map[string]domain.ProgressRecord) []domain.ProgressRecord {
	out := make([]domain.ProgressRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StudentID < out[j].StudentID
	})
	return out
}
