package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/timmy/autograde/internal/domain"
)

// ScoringError is returned by a Scorer for every failed call.
type ScoringError struct {
	Kind       domain.ErrorKind
	StatusCode int    // HTTP status, 0 when no response was received
	Raw        string // model reply for parse errors
	Err        error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

// Classify maps any scoring failure to an error kind. Only transient_scoring_error
// is eligible for automatic retry.
//   - nil                    → ""
//   - *ScoringError          → its Kind
//   - deadline exceeded      → transient
//   - canceled               → permanent
//   - network/transport      → transient
//   - anything else          → permanent
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	var se *ScoringError
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}
	return ClassifyTransport(err)
}

// ClassifyTransport classifies an error raised before any HTTP response arrived.
func ClassifyTransport(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.ErrorKindPermanentScoring
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorKindTransientScoring
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return domain.ErrorKindTransientScoring
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return domain.ErrorKindTransientScoring
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrorKindTransientScoring
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return domain.ErrorKindTransientScoring
	}
	return domain.ErrorKindPermanentScoring
}

// ClassifyStatus classifies a non-2xx HTTP status.
// 408, 425, 429 and every 5xx are transient; other statuses are permanent.
func ClassifyStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return domain.ErrorKindTransientScoring
	case code >= 500:
		return domain.ErrorKindTransientScoring
	default:
		return domain.ErrorKindPermanentScoring
	}
}

// ClassifyAPIErrorType classifies an error object embedded in a 2xx response body.
func ClassifyAPIErrorType(errType string) domain.ErrorKind {
	switch errType {
	case "rate_limit_exceeded", "rate_limit_error", "server_error", "overloaded_error", "timeout", "service_unavailable":
		return domain.ErrorKindTransientScoring
	default:
		return domain.ErrorKindPermanentScoring
	}
}
