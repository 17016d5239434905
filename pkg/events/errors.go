package events

import (
	"errors"
	"fmt"
)

// ValidationError reports a field rejected while constructing or validating an event.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}

	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

func invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
