package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrConfiguration marks fatal misconfiguration such as a dimension mismatch.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransientBackend marks a timeout or connection failure worth retrying.
	ErrTransientBackend = errors.New("transient backend error")

	// ErrPermanentBackend marks an auth or bad-request failure that must not be retried.
	ErrPermanentBackend = errors.New("permanent backend error")

	// ErrRetrievalUnavailable is returned when both retrieval legs failed.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrNoResults signals that no candidate survived filtering. It is not a failure.
	ErrNoResults = errors.New("no results")

	// ErrGeneration is recorded when the generator failed after retrieval succeeded.
	ErrGeneration = errors.New("generation failed")

	// ErrDeadlineExceeded is returned when the request deadline expired before anything was available.
	ErrDeadlineExceeded = errors.New("request deadline exceeded")

	// ErrInvalidQuery is returned for an empty query.
	ErrInvalidQuery = errors.New("invalid query")
)

// ConfigError wraps a message as a configuration error.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// BackendError describes a failed call to an external collaborator.
type BackendError struct {
	Backend    string
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s failure (status %d): %v", e.Backend, e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s failure: %v", e.Backend, e.Op, kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is matches ErrTransientBackend or ErrPermanentBackend by kind.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrTransientBackend:
		return e.Transient
	case ErrPermanentBackend:
		return !e.Transient
	}
	return false
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientBackend)
}

// ClassifyHTTPStatus reports whether a non-2xx status is transient.
func ClassifyHTTPStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return true
	}
	return false
}

// ClassifyTransportError reports whether a transport-level error is transient.
func ClassifyTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// NewBackendError classifies a transport error and wraps it.
func NewBackendError(backend, op string, err error) *BackendError {
	return &BackendError{
		Backend:   backend,
		Op:        op,
		Transient: ClassifyTransportError(err),
		Err:       err,
	}
}

// NewStatusError wraps a non-2xx HTTP response.
func NewStatusError(backend, op string, status int, body string) *BackendError {
	return &BackendError{
		Backend:    backend,
		Op:         op,
		StatusCode: status,
		Transient:  ClassifyHTTPStatus(status),
		Err:        errors.New(body),
	}
}
