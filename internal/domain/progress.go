package domain

import "time"

// ProgressStatus represents the lifecycle state of a student's grading.
// Values include ProgressStatusPending, ProgressStatusInProgress, ProgressStatusSucceeded, and ProgressStatusFailed.
type ProgressStatus string

const (
	ProgressStatusPending    ProgressStatus = "pending"
	ProgressStatusInProgress ProgressStatus = "in_progress"
	ProgressStatusSucceeded  ProgressStatus = "succeeded"
	ProgressStatusFailed     ProgressStatus = "failed"
)

// IsTerminal reports whether no automatic transition leaves this status.
func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressStatusSucceeded || s == ProgressStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressStatusPending, ProgressStatusInProgress, ProgressStatusSucceeded, ProgressStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from one status to another.
// Transitions are monotonic except:
//   - in_progress may fall back to pending when a run starts and finds it abandoned.
//   - failed may be reset to pending by an explicit retry request.
func CanTransition(from, to ProgressStatus) bool {
	switch from {
	case "", ProgressStatusPending:
		return to == ProgressStatusPending || to == ProgressStatusInProgress
	case ProgressStatusInProgress:
		return to == ProgressStatusSucceeded || to == ProgressStatusFailed || to == ProgressStatusPending
	case ProgressStatusFailed:
		return to == ProgressStatusPending || to == ProgressStatusInProgress
	}
	return false
}

// ProgressRecord is the durable grading state of one student ID.
type ProgressRecord struct {
	StudentID     string         `gorm:"type:text;primaryKey" json:"student_id"`
	Status        ProgressStatus `gorm:"type:text;not null;index" json:"status"`
	Result        *GradingResult `gorm:"type:text;serializer:json" json:"result,omitempty"`
	RetryCount    int            `gorm:"default:0" json:"retry_count"`
	TotalAttempts int            `gorm:"default:0" json:"total_attempts"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName returns the database table name for ProgressRecord.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ProgressRecord) TableName() string {
	return "progress_records"
}

// Succeeded reports whether the record reached a succeeded state.
func (r ProgressRecord) Succeeded() bool {
	return r.Status == ProgressStatusSucceeded
}
