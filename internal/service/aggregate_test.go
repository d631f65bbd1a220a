package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/autograde/internal/domain"
)

func succeeded(id string, score float64) domain.ProgressRecord {
	return domain.ProgressRecord{
		StudentID: id,
		Status:    domain.ProgressStatusSucceeded,
		Result:    domain.NewSucceededResult(id, score, ""),
		UpdatedAt: time.Now(),
	}
}

func TestAggregate(t *testing.T) {
	records := []domain.ProgressRecord{
		succeeded("S003", 70),
		succeeded("S001", 95),
		{
			StudentID: "S002",
			Status:    domain.ProgressStatusFailed,
			Result:    domain.NewFailedResult("S002", domain.ErrorKindParse, "bad reply"),
		},
		{StudentID: "S004", Status: domain.ProgressStatusInProgress},
		{StudentID: "S005", Status: domain.ProgressStatusPending},
	}
	pairs := []domain.SimilarityPair{
		{StudentA: "S001", StudentB: "S003", Score: 0.97, Text: 0.95, Structural: 1, Identifier: 0.96},
		{StudentA: "S002", StudentB: "S004", Score: 0.9},
		{StudentA: "S004", StudentB: "S005", Score: 0.88},
	}

	set := Aggregate(records, pairs)

	require.Len(t, set.Entries, 3)
	assert.Equal(t, "S001", set.Entries[0].StudentID)
	assert.Equal(t, "S002", set.Entries[1].StudentID)
	assert.Equal(t, "S003", set.Entries[2].StudentID)
	assert.Equal(t, domain.ResultCounts{Total: 3, Succeeded: 2, Failed: 1, Flagged: 3}, set.Counts)

	// Both members of a pair carry the flag.
	require.Len(t, set.Entries[0].Flags, 1)
	assert.Equal(t, "S003", set.Entries[0].Flags[0].Peer)
	assert.Equal(t, 0.97, set.Entries[0].Flags[0].Score)
	require.Len(t, set.Entries[2].Flags, 1)
	assert.Equal(t, "S001", set.Entries[2].Flags[0].Peer)

	// A pair with one terminal member flags only that member.
	require.Len(t, set.Entries[1].Flags, 1)
	assert.Equal(t, "S004", set.Entries[1].Flags[0].Peer)

	// Pairs with no terminal member are dropped.
	assert.Len(t, set.Pairs, 2)
}

func TestAggregate_Empty(t *testing.T) {
	set := Aggregate(nil, nil)
	assert.Empty(t, set.Entries)
	assert.Empty(t, set.Pairs)
	assert.Equal(t, 0, set.Counts.Total)
}

func TestAggregate_DuplicateRecordsAppearOnce(t *testing.T) {
	older := succeeded("S001", 50)
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := succeeded("S001", 90)

	set := Aggregate([]domain.ProgressRecord{newer, older}, nil)
	require.Len(t, set.Entries, 1)
	assert.Equal(t, 90.0, set.Entries[0].Result.Score)
}
