package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/timmy/autograde/internal/domain"
)

// Documents written by the earlier single-threaded grader keep flat lists instead of a records map:
//
//	{"completed": [{"student_id", "score", "comment", "timestamp"}],
//	 "failed": [{"student_id", "error", "timestamp"}],
//	 "in_progress": "S001" | null, "timestamp", "session_id", "statistics"}
var legacyListKeys = []string{"completed", "failed", "in_progress"}

type legacyCompleted struct {
	StudentID string      `json:"student_id"`
	Score     json.Number `json:"score"`
	Comment   string      `json:"comment"`
	Timestamp string      `json:"timestamp"`
}

type legacyFailed struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func isLegacyDocument(top map[string]json.RawMessage) bool {
	for _, k := range legacyListKeys {
		if _, ok := top[k]; ok {
			return true
		}
	}
	return false
}

// migrateLegacyDocument converts a flat legacy document into records.
// A later completed entry wins over earlier failed ones for the same student.
// Fields other than the three lists are kept as opaque extras.
func migrateLegacyDocument(top map[string]json.RawMessage) (map[string]*fileEntry, map[string]json.RawMessage, error) {
	entries := make(map[string]*fileEntry)

	var failed []legacyFailed
	if raw, ok := top["failed"]; ok && !isJSONNull(raw) {
		if err := json.Unmarshal(raw, &failed); err != nil {
			return nil, nil, fmt.Errorf("failed to parse legacy failed list: %w", err)
		}
	}
	for _, f := range failed {
		if f.StudentID == "" {
			continue
		}
		result := domain.NewFailedResult(f.StudentID, domain.ErrorKindPermanentScoring, f.Error)
		result.GradedAt = parseLegacyTime(f.Timestamp)
		entries[f.StudentID] = &fileEntry{record: domain.ProgressRecord{
			StudentID:     f.StudentID,
			Status:        domain.ProgressStatusFailed,
			Result:        result,
			TotalAttempts: 1,
			UpdatedAt:     result.GradedAt,
		}}
	}

	var completed []legacyCompleted
	if raw, ok := top["completed"]; ok && !isJSONNull(raw) {
		if err := json.Unmarshal(raw, &completed); err != nil {
			return nil, nil, fmt.Errorf("failed to parse legacy completed list: %w", err)
		}
	}
	for _, c := range completed {
		if c.StudentID == "" {
			continue
		}
		score, err := c.Score.Float64()
		if err != nil {
			return nil, nil, fmt.Errorf("legacy score of %q is not a number: %w", c.StudentID, err)
		}
		result := domain.NewSucceededResult(c.StudentID, score, c.Comment)
		result.GradedAt = parseLegacyTime(c.Timestamp)
		entries[c.StudentID] = &fileEntry{record: domain.ProgressRecord{
			StudentID:     c.StudentID,
			Status:        domain.ProgressStatusSucceeded,
			Result:        result,
			TotalAttempts: 1,
			UpdatedAt:     result.GradedAt,
		}}
	}

	if raw, ok := top["in_progress"]; ok && !isJSONNull(raw) {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			if _, done := entries[id]; !done {
				entries[id] = &fileEntry{record: domain.ProgressRecord{
					StudentID: id,
					Status:    domain.ProgressStatusInProgress,
				}}
			}
		}
	}

	extras := make(map[string]json.RawMessage)
	for k, v := range top {
		switch k {
		case "completed", "failed", "in_progress":
		default:
			extras[k] = v
		}
	}
	return entries, extras, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func parseLegacyTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
