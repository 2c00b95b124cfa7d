package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by store lookups when no record has the requested id.
var ErrNotFound = errors.New("record not found")

// ValidationError reports malformed input: nothing was persisted and the caller must fix the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// TreeValidationError is the validation error raised by the chunker for a malformed tree.
type TreeValidationError = ValidationError

// IntegrityError reports a write rejected because it would violate a referential constraint.
type IntegrityError struct {
	Op     string
	ID     string
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("integrity violation in %s", e.Op)
	if e.ID != "" {
		msg += fmt.Sprintf(" (id %s)", e.ID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// EmbeddingUnavailableError reports that enrichment failed or timed out for a record.
// It is never fatal to ingestion.
type EmbeddingUnavailableError struct {
	Kind ChunkKind
	ID   string
	Err  error
}

func (e *EmbeddingUnavailableError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("embedding unavailable: %v", e.Err)
	}
	return fmt.Sprintf("embedding unavailable for %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *EmbeddingUnavailableError) Unwrap() error { return e.Err }

// QueryError reports an invalid query, rejected before any store access.
type QueryError struct {
	Field  string
	Reason string
}

func (e *QueryError) Error() string {
	if e.Field == "" {
		return "invalid query: " + e.Reason
	}
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsIntegrity reports whether err is or wraps an IntegrityError.
func IsIntegrity(err error) bool {
	var target *IntegrityError
	return errors.As(err, &target)
}

// IsQuery reports whether err is or wraps a QueryError.
func IsQuery(err error) bool {
	var target *QueryError
	return errors.As(err, &target)
}

// IsEmbeddingUnavailable reports whether err is or wraps an EmbeddingUnavailableError.
func IsEmbeddingUnavailable(err error) bool {
	var target *EmbeddingUnavailableError
	return errors.As(err, &target)
}
