package logger

import (
	"context"
	"time"
)

// Entry collects the measurement fields of one log line, such as a task outcome
// or a run summary, and writes it through the logger carried by the context.
//
//	logger.ForTask("S001", 2).Took(elapsed).Status("failed").Warn(ctx, "Grading failed")
type Entry struct {
	fields Fields
}

// With starts an Entry with fields.
func With(fields Fields) *Entry {
	return (&Entry{}).With(fields)
}

// ForTask starts an Entry for one attempt at grading studentID.
func ForTask(studentID string, attempt int) *Entry {
	return With(Fields{FieldStudentID: studentID, FieldAttempt: attempt})
}

// With returns a copy of e with fields added.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fields: merged}
}

// WithField returns a copy of e with key set.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

// Took records d as duration_ms.
func (e *Entry) Took(d time.Duration) *Entry {
	return e.WithField(FieldDurationMs, d.Milliseconds())
}

// Count records n under count.
func (e *Entry) Count(n int) *Entry {
	return e.WithField(FieldCount, n)
}

// Status records a task or run status.
func (e *Entry) Status(status string) *Entry {
	return e.WithField(FieldStatus, status)
}

// Kind records the classified kind of a failure.
func (e *Entry) Kind(kind string) *Entry {
	if kind == "" {
		return e
	}
	return e.WithField(FieldErrorKind, kind)
}

// Fields returns a copy of the collected fields.
func (e *Entry) Fields() Fields {
	return e.With(nil).fields
}

func (e *Entry) logger(ctx context.Context) *Logger {
	return FromContext(ctx).WithFields(e.fields)
}

// Debug logs at debug level.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Debugf(format, args...)
}

// Info logs at info level.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Infof(format, args...)
}

// Warn logs at warn level.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Warnf(format, args...)
}

// Error logs at error level.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Errorf(format, args...)
}
