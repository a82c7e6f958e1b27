// Package apperr holds the error kinds shared by every layer.  Domain
// packages define their own sentinels; only caller-fault input is common
// enough to live here.
package apperr

import (
	"errors"
	"fmt"
)

// ErrValidation marks malformed input (bad UUID, unknown role, out of range
// length).  It is never retried.
var ErrValidation = errors.New("validation error")

// Validation wraps ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
