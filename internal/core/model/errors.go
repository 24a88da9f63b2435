package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing node, edge, or record.
	ErrNotFound = errors.New("not found")
	// ErrProviderUnavailable reports an unreachable embedding or
	// generative backend. Callers degrade, they do not fail.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrStaleSnapshot reports that the graph moved past a long-running
	// operation's snapshot; the result must be discarded.
	ErrStaleSnapshot = errors.New("snapshot is stale")
)

// ValidationError is an ontology violation. It fails only the offending
// mutation, atomically.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed in %s: %s", e.Op, e.Reason)
}

// Validationf builds a ValidationError.
func Validationf(op, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
