package alerts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates a missing alert record.
var ErrNotFound = errors.New("alert: not found")

// ErrConflict matches any ConflictError via errors.Is.
var ErrConflict = errors.New("alert: conflict")

// ConflictError reports a decision against an alert that is no longer pending.
type ConflictError struct {
	Status Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("already %s", e.Status)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ValidationError carries every violated field constraint.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}
