package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/domain"
)

func newSQLiteStore(t *testing.T) *GormProgressStore {
	t.Helper()
	cfg := &config.ProgressConfig{Backend: config.ProgressBackendSQLite}
	db, err := InitDB(cfg, filepath.Join(t.TempDir(), "data", "progress.db"))
	require.NoError(t, err)

	store := NewGormProgressStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGormProgressStore_UpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.Upsert(ctx, domain.ProgressRecord{StudentID: "S002", Status: domain.ProgressStatusInProgress}))
	require.NoError(t, store.Upsert(ctx, succeeded("S001", 88)))

	failed := domain.ProgressRecord{
		StudentID:     "S002",
		Status:        domain.ProgressStatusFailed,
		Result:        domain.NewFailedResult("S002", domain.ErrorKindPermanentScoring, "HTTP 401"),
		RetryCount:    0,
		TotalAttempts: 1,
	}
	require.NoError(t, store.Upsert(ctx, failed))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 88.0, records["S001"].Result.Score)
	assert.Equal(t, domain.ProgressStatusFailed, records["S002"].Status)
	require.NotNil(t, records["S002"].Result.Error)
	assert.Equal(t, domain.ErrorKindPermanentScoring, records["S002"].Result.Error.Kind)

	snapshot, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "S001", snapshot[0].StudentID)
}

func TestGormProgressStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.Upsert(ctx, succeeded("S001", 88)))
	require.NoError(t, store.Reset(ctx))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNewProgressStore_DefaultsToFile(t *testing.T) {
	cfg := &config.Config{BasePath: t.TempDir()}
	cfg.Progress.Backend = config.ProgressBackendFile

	store, err := NewProgressStore(cfg, nil)
	require.NoError(t, err)

	fileStore, ok := store.(*FileProgressStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cfg.BasePath, config.DefaultProgressFile), fileStore.Path())
}

func TestGormProgressStore_RejectsBackwardTransition(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.Upsert(ctx, succeeded("S001", 88)))

	err := store.Upsert(ctx, domain.ProgressRecord{StudentID: "S001", Status: domain.ProgressStatusInProgress})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	records, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressStatusSucceeded, records["S001"].Status)
	assert.Equal(t, 88.0, records["S001"].Result.Score)

	// failed may be re-dispatched
	require.NoError(t, store.Upsert(ctx, domain.ProgressRecord{
		StudentID: "S002",
		Status:    domain.ProgressStatusFailed,
		Result:    domain.NewFailedResult("S002", domain.ErrorKindParse, "no score"),
	}))
	require.NoError(t, store.Upsert(ctx, domain.ProgressRecord{StudentID: "S002", Status: domain.ProgressStatusInProgress}))
}
