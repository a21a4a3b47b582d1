// Package errors provides error categorization and retry support for the
// permission hub.
//
// Expected business outcomes (invalid transitions, unknown identifiers) are
// modelled as typed return values in their owning packages and are never
// retried. This package classifies the remaining errors so that callers can
// decide between retrying, surfacing a conflict, and failing the operation:
//   - Categorization: classify errors for appropriate handling
//   - Retry: handle transient infrastructure failures with exponential backoff
package errors

import (
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: unreachable permission administrator, store contention.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: malformed requests, invalid configuration, closed stores.
	CategoryPermanent

	// CategoryConflict indicates the operation clashed with the current
	// lifecycle state. Examples: transition not allowed from the current
	// status. Callers surface these to the requester, never retry them.
	CategoryConflict

	// CategoryNotFound indicates a lookup by identifier found nothing.
	// Examples: unknown permission id, unregistered connector id.
	CategoryNotFound
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryConflict:
		return "conflict"
	case CategoryNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Conflict creates a conflict error.
func Conflict(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryConflict, context)
}

// NotFound creates a not-found error.
func NotFound(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryNotFound, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	// Check for already-categorized errors
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsConflict reports whether the error is a lifecycle conflict.
func IsConflict(err error) bool {
	return Categorize(err) == CategoryConflict
}

// IsNotFound reports whether the error is a failed identifier lookup.
func IsNotFound(err error) bool {
	return Categorize(err) == CategoryNotFound
}
