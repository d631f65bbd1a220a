package domain

import "time"

// ErrorKind classifies every failure the grading pipeline can report.
type ErrorKind string

const (
	ErrorKindCatalog          ErrorKind = "catalog_error"
	ErrorKindTransientScoring ErrorKind = "transient_scoring_error"
	ErrorKindPermanentScoring ErrorKind = "permanent_scoring_error"
	ErrorKindParse            ErrorKind = "parse_error"
	ErrorKindStoreIO          ErrorKind = "store_io_error"
	ErrorKindSimilarityParse  ErrorKind = "similarity_parse_error"
)

// Retryable reports whether a task that failed with this kind may be attempted again
// within the same dispatch.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindTransientScoring
}

// TaskError is the error detail stored on a failed GradingResult.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// GradingResult is the outcome of one GradingTask.
// A result is written whole and never merged with an earlier one; a later retry supersedes it.
type GradingResult struct {
	StudentID   string         `json:"student_id"`
	Status      ProgressStatus `json:"status"` // succeeded or failed
	Score       float64        `json:"score"`
	Feedback    string         `json:"feedback,omitempty"`
	Error       *TaskError     `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	Model       string         `json:"model,omitempty"`
	RawResponse string         `json:"raw_response,omitempty"`
	GradedAt    time.Time      `json:"graded_at"`
}

// Succeeded reports whether the result carries a usable score.
func (r *GradingResult) Succeeded() bool {
	return r != nil && r.Status == ProgressStatusSucceeded
}

// NewSucceededResult builds a succeeded result. It never carries error detail.
func NewSucceededResult(studentID string, score float64, feedback string) *GradingResult {
	return &GradingResult{
		StudentID: studentID,
		Status:    ProgressStatusSucceeded,
		Score:     score,
		Feedback:  feedback,
		GradedAt:  time.Now().UTC(),
	}
}

// NewFailedResult builds a failed result with the given error detail.
func NewFailedResult(studentID string, kind ErrorKind, message string) *GradingResult {
	return &GradingResult{
		StudentID: studentID,
		Status:    ProgressStatusFailed,
		Error:     &TaskError{Kind: kind, Message: message},
		GradedAt:  time.Now().UTC(),
	}
}
