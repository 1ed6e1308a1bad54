package identity

import (
	"errors"
	"fmt"
)

// ErrMatchNotFound reports a conversion write against a match id that
// does not exist.
var ErrMatchNotFound = errors.New("match not found")

// ValidationError reports malformed or missing input on an ingest call.
// Nothing is persisted when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError,
// distinguishing "fix your input" from "retry later" failures.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
