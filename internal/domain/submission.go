package domain

import (
	"path/filepath"
	"strings"
)

// Language identifies how a submission is tokenized for similarity analysis.
type Language string

const (
	LanguagePython Language = "python"
	LanguageGo     Language = "go"
	LanguageText   Language = "text"
)

// LanguageFromFilename maps a file extension to a Language.
// Unknown extensions fall back to LanguageText.
func LanguageFromFilename(name string) Language {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".py":
		return LanguagePython
	case ".go":
		return LanguageGo
	default:
		return LanguageText
	}
}

// Submission is one student's file as discovered by the catalog.
// It is immutable once read.
type Submission struct {
	StudentID string   `json:"student_id"`
	Filename  string   `json:"filename"`
	Path      string   `json:"path"`
	Language  Language `json:"language"`
	Size      int64    `json:"size"`
	Encoding  string   `json:"encoding"` // charset the content was decoded from
	Content   string   `json:"-"`        // decoded, UTF-8 text
}

// GradingTask is the unit of work handed to a scorer.
type GradingTask struct {
	Submission Submission
	Reference  string
	Criteria   string
}

// StudentID returns the ID of the submission this task grades.
func (t GradingTask) StudentID() string {
	return t.Submission.StudentID
}
