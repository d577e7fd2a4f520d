package engine

import (
	"errors"
	"fmt"
)

// ErrUniverseUnavailable wraps failures to load the universe graph.
var ErrUniverseUnavailable = errors.New("universe not loaded")

// ValidationError is a caller mistake detected before any fetch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
