// Package errors classifies document store failures for retry policies.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

// ErrorCategory determines how the executor treats a failed job.
type ErrorCategory int

const (
	// Recoverable errors are retried with exponential backoff.
	// Examples: store unreachable, deadline exceeded on a single attempt.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors fail immediately.
	// Examples: permission denied, not found, invalid argument.
	Irrecoverable
)

func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ClassifiedError wraps an error with its category.
type ClassifiedError struct {
	Category   ErrorCategory
	Operation  string
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Operation, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error { return e.Underlying }

// Classify wraps err for operation. nil stays nil.
func Classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return err
	}
	return &ClassifiedError{Category: categoryOf(err), Operation: operation, Underlying: err}
}

func categoryOf(err error) ErrorCategory {
	switch {
	case stderrors.Is(err, docstore.ErrUnavailable),
		stderrors.Is(err, context.DeadlineExceeded):
		return Recoverable
	default:
		return Irrecoverable
	}
}

// IsIrrecoverable reports whether err must not be retried. Errors that
// were never classified are treated as recoverable, matching the
// executor's retry-by-default behaviour for plain job errors.
func IsIrrecoverable(err error) bool {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Category == Irrecoverable
	}
	return false
}
