package query

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel every ValidationError matches with errors.Is
var ErrValidation = errors.New("validation error")

// ValidationError reports a malformed filter, projection, sort or pipeline
// descriptor. It is raised before any document is read.
type ValidationError struct {
	Kind   string // filter, projection, sort, stage, ...
	Reason string
}

// NewValidationError creates a ValidationError for the given descriptor kind
func NewValidationError(kind, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
