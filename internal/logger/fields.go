package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Context fields, attached once and carried by every line logged under the context.
const (
	FieldRequestID = "request_id" // HTTP request ID
	FieldRunID     = "run_id"     // grading run
	FieldStudentID = "student_id"
	FieldComponent = "component"
	FieldWorker    = "worker" // index inside the grading pool
)

// Measurement fields, set per line through Entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size" // bytes
	FieldStatus     = "status"
	FieldAttempt    = "attempt" // 1-based scoring attempt
	FieldErrorKind  = "error_kind"
)
