// Package errors defines the sentinel errors shared by the synchronization
// pipeline and an AppError type that carries the search engine's HTTP status
// and response body alongside the sentinel it classifies.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnknownIndex      = errors.New("unknown index")
	ErrIndexNotFound     = errors.New("index not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrMissingPrimaryKey = errors.New("document missing primary key")
	ErrInvalidJob        = errors.New("invalid indexing job")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTaskFailed        = errors.New("task failed")
	ErrTaskTimeout       = errors.New("task did not finish in time")
	ErrJobFailed         = errors.New("indexing job failed")
	ErrStreamConsumed    = errors.New("identifier stream already consumed")
	ErrEngine            = errors.New("search engine error")
	ErrUnauthorized      = errors.New("unauthorized")
)

// AppError wraps a sentinel with the remote status code and the raw body the
// search engine returned, so callers can log or inspect the rejection.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
	Code       string
	Body       []byte
}

func (e *AppError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Err.Error(), e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// FromResponse classifies a non-2xx engine response. 404 responses map to
// ErrIndexNotFound or ErrTaskNotFound depending on the engine's error code.
func FromResponse(statusCode int, code, message string, body []byte) *AppError {
	sentinel := ErrEngine
	switch {
	case code == "index_not_found":
		sentinel = ErrIndexNotFound
	case code == "task_not_found":
		sentinel = ErrTaskNotFound
	case statusCode == http.StatusNotFound:
		sentinel = ErrIndexNotFound
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		sentinel = ErrUnauthorized
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
		Code:       code,
		Body:       body,
	}
}

// IsNotFound reports whether err means the index or task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIndexNotFound) || errors.Is(err, ErrTaskNotFound)
}

// StatusCode returns the HTTP status attached to err, or 0 when none is.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// Retryable reports whether a failed call is worth handing back to the queue
// for another attempt. Precondition and validation failures never are.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrMissingPrimaryKey),
		errors.Is(err, ErrInvalidJob),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnknownIndex),
		errors.Is(err, ErrUnauthorized):
		return false
	}
	code := StatusCode(err)
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
		return false
	}
	return true
}
