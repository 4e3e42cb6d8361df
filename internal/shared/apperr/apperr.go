// Package apperr holds the error categories shared by the billing engine.
//
// Concrete error types live next to the code that raises them and report their
// category through an Is method, so callers can branch with errors.Is on the
// category and errors.As on the concrete type.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input that was rejected before any write.
	ErrValidation = errors.New("validation error")
	// ErrConcurrency marks a lock the caller may retry.
	ErrConcurrency = errors.New("concurrency error")
	// ErrDependency marks missing data from an external collaborator.
	ErrDependency = errors.New("dependency error")
	// ErrState marks an illegal workflow transition or a write to an immutable record.
	ErrState = errors.New("state error")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
)

// Category returns the category sentinel err belongs to, or nil when err is uncategorized.
// Validation wins over dependency for aggregated errors.
func Category(err error) error {
	for _, c := range []error{ErrValidation, ErrState, ErrConcurrency, ErrDependency, ErrNotFound} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// StateError is returned when a transition is not allowed from the current state
// or one of its preconditions is not met. The original state is always preserved.
type StateError struct {
	EntityType   string
	EntityID     string
	Current      string
	Event        string
	Precondition string
	// BlockingLevel is the approval level holding the transition back, 0 when not approval related.
	BlockingLevel int
}

func (e *StateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot %s %s %s in state '%s'", e.Event, e.EntityType, e.EntityID, e.Current)
	if e.Precondition != "" {
		b.WriteString(": ")
		b.WriteString(e.Precondition)
	}
	return b.String()
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError is a generic validation failure for checks that have no dedicated type.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DependencyError wraps a failure of an external collaborator.
type DependencyError struct {
	Source string
	Cause  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Cause)
}

func (e *DependencyError) Is(target error) bool { return target == ErrDependency }
func (e *DependencyError) Unwrap() error        { return e.Cause }

// Violations collects every validation failure of one request.
type Violations []error

func (v Violations) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (v Violations) Is(target error) bool { return target == ErrValidation }
func (v Violations) Unwrap() []error      { return v }
