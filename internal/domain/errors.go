package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned by repositories when a row does not exist
var ErrNotFound = errors.New("not found")

// ErrConcurrencyConflict is returned when a conditional update loses a race.
// Callers in the scheduler absorb it silently.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ValidationError reports malformed input. Nothing is persisted when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// StaleDataError flags a comparables aggregate older than the staleness window.
// Valuation proceeds; the error is carried as a warning.
type StaleDataError struct {
	Key        string
	ComputedAt time.Time
	MaxAge     time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("comparables for %q computed at %s are older than %s",
		e.Key, e.ComputedAt.Format(time.RFC3339), e.MaxAge)
}

// ExecutionTimeoutError is returned when a bid submission exceeds its deadline
type ExecutionTimeoutError struct {
	SnipeID int64
	Timeout time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("bid for snipe %d exceeded deadline of %s", e.SnipeID, e.Timeout)
}

// MissedWindowError describes a snipe whose fire time passed before it could run.
// It is logged and stored as a result, never returned to callers.
type MissedWindowError struct {
	SnipeID  int64
	FireTime time.Time
	Late     time.Duration
}

func (e *MissedWindowError) Error() string {
	return fmt.Sprintf("snipe %d missed its fire time %s by %s",
		e.SnipeID, e.FireTime.Format(time.RFC3339), e.Late.Round(time.Millisecond))
}

// PersistenceError wraps a failed store write. It breaks exactly-once
// guarantees and must always reach an operator.
type PersistenceError struct {
	Op  string
	Err error
}

// NewPersistenceError wraps err for the named operation
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// HTTPStatus maps an error to the status code the API reports for it
func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
