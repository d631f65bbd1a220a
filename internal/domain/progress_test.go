package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ProgressStatus
		want     bool
	}{
		{"", ProgressStatusInProgress, true},
		{ProgressStatusPending, ProgressStatusInProgress, true},
		{ProgressStatusPending, ProgressStatusSucceeded, false},
		{ProgressStatusInProgress, ProgressStatusSucceeded, true},
		{ProgressStatusInProgress, ProgressStatusFailed, true},
		{ProgressStatusInProgress, ProgressStatusPending, true},
		{ProgressStatusFailed, ProgressStatusInProgress, true},
		{ProgressStatusFailed, ProgressStatusPending, true},
		{ProgressStatusFailed, ProgressStatusSucceeded, false},
		{ProgressStatusSucceeded, ProgressStatusInProgress, false},
		{ProgressStatusSucceeded, ProgressStatusPending, false},
		{ProgressStatusSucceeded, ProgressStatusFailed, false},
		{"escalated", ProgressStatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestProgressStatus_IsTerminal(t *testing.T) {
	assert.True(t, ProgressStatusSucceeded.IsTerminal())
	assert.True(t, ProgressStatusFailed.IsTerminal())
	assert.False(t, ProgressStatusInProgress.IsTerminal())
	assert.False(t, ProgressStatusPending.IsTerminal())
}
