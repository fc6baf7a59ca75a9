package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStreamNotFound is returned when no descriptor is registered for a stream
type ErrStreamNotFound struct {
	Stream string
}

func (e *ErrStreamNotFound) Error() string {
	return fmt.Sprintf("stream not found: %s", e.Stream)
}

// From checks if the given error is an ErrStreamNotFound
func (e *ErrStreamNotFound) From(err error) bool {
	var notFound *ErrStreamNotFound
	return errors.As(err, &notFound)
}

// ErrMissingChangeDate is returned when a source row has a NULL last_change_date
type ErrMissingChangeDate struct {
	Stream string
	ID     string
}

func (e *ErrMissingChangeDate) Error() string {
	return fmt.Sprintf("record %s in stream %s has no last_change_date", e.ID, e.Stream)
}

// ErrWatermarkRegression is returned when a write would move a watermark backwards
type ErrWatermarkRegression struct {
	Stream  string
	Current time.Time
	Next    time.Time
}

func (e *ErrWatermarkRegression) Error() string {
	return fmt.Sprintf("watermark for %s would move backwards: %s -> %s",
		e.Stream, e.Current.Format(time.RFC3339Nano), e.Next.Format(time.RFC3339Nano))
}

// From checks if the given error is an ErrWatermarkRegression
func (e *ErrWatermarkRegression) From(err error) bool {
	var regression *ErrWatermarkRegression
	return errors.As(err, &regression)
}

// ErrInvalidWatermark is returned when a stored watermark cannot be parsed
type ErrInvalidWatermark struct {
	Key   string
	Value string
	Err   error
}

func (e *ErrInvalidWatermark) Error() string {
	return fmt.Sprintf("invalid watermark %q at %s: %v", e.Value, e.Key, e.Err)
}

func (e *ErrInvalidWatermark) Unwrap() error {
	return e.Err
}

// ErrUnknownBackend is returned for an unsupported state backend name
type ErrUnknownBackend struct {
	Backend string
}

func (e *ErrUnknownBackend) Error() string {
	return fmt.Sprintf("unknown state backend: %q", e.Backend)
}

// ErrElasticsearch is returned when Elasticsearch answers with an error status
type ErrElasticsearch struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ErrElasticsearch) Error() string {
	return fmt.Sprintf("elasticsearch %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Transient reports whether the status code is worth retrying
func (e *ErrElasticsearch) Transient() bool {
	return IsTransientStatus(e.StatusCode)
}

// IsTransientStatus returns true for 429 and 5xx responses
func IsTransientStatus(code int) bool {
	return code == 429 || code >= 500
}

// BulkItemFailure describes one rejected document in a bulk response
type BulkItemFailure struct {
	ID     string
	Status int
	Type   string
	Reason string
}

// ErrBulkRejected is returned when at least one document of a bulk request was rejected
type ErrBulkRejected struct {
	Index    string
	Total    int
	Failures []BulkItemFailure
}

func (e *ErrBulkRejected) Error() string {
	reasons := make([]string, 0, 3)
	for i, f := range e.Failures {
		if i == 3 {
			reasons = append(reasons, "...")
			break
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s (%s)", f.ID, f.Type, f.Reason))
	}
	return fmt.Sprintf("bulk load into %s rejected %d of %d documents: %s",
		e.Index, len(e.Failures), e.Total, strings.Join(reasons, "; "))
}

// Transient is true only when every rejected item failed with a retryable status
func (e *ErrBulkRejected) Transient() bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		if !IsTransientStatus(f.Status) {
			return false
		}
	}
	return true
}

// From checks if the given error is an ErrBulkRejected
func (e *ErrBulkRejected) From(err error) bool {
	var rejected *ErrBulkRejected
	return errors.As(err, &rejected)
}

// ErrRetryExhausted is returned when an operation failed on every allowed attempt
type ErrRetryExhausted struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ErrRetryExhausted) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ErrRetryExhausted) Unwrap() error {
	return e.Err
}

// From checks if the given error is an ErrRetryExhausted
func (e *ErrRetryExhausted) From(err error) bool {
	var exhausted *ErrRetryExhausted
	return errors.As(err, &exhausted)
}
