package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a terminal write targets a job that is no longer processing
	ErrInvalidTransition = errors.New("job is not in processing status")

	// ErrQueueUnavailable is returned when the job queue rejects or cannot accept a task
	ErrQueueUnavailable = errors.New("job queue unavailable")

	// ErrInvalidPayload is returned when a queue message is malformed
	ErrInvalidPayload = errors.New("invalid task payload")
)

// ValidationError describes bad submission input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ExtractionError is the failure outcome of the text extraction stage
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("text extraction failed for %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// AnalysisError is the failure outcome of the analysis stage
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return "analysis failed: " + e.Err.Error()
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
