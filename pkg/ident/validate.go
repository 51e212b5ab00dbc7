package ident

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxStringBytes is the largest UTF-8 encoding accepted for a string value
	MaxStringBytes = 65535

	// MaxTagBytes is the largest UTF-8 encoding accepted for a tag
	MaxTagBytes = 255
)

// ErrValidation is matched by every *ValidationError
var ErrValidation = errors.New("ident: validation failed")

// ValidationError reports a caller-supplied value that was rejected before
// anything was applied.
type ValidationError struct {
	Param  string // offending parameter
	Reason string
	Limit  int // byte limit, zero when not size related
}

func (e *ValidationError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("invalid %s: %s (limit %d bytes)", e.Param, e.Reason, e.Limit)
	}
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError without a size limit
func Invalid(param, reason string) *ValidationError {
	return &ValidationError{Param: param, Reason: reason}
}

// ValidateString checks a string value against MaxStringBytes
func ValidateString(param, s string) error {
	if len(s) > MaxStringBytes {
		return &ValidationError{
			Param:  param,
			Reason: fmt.Sprintf("encodes to %d bytes", len(s)),
			Limit:  MaxStringBytes,
		}
	}
	if !utf8.ValidString(s) {
		return Invalid(param, "not valid UTF-8")
	}
	return nil
}

// ValidateTag checks a tag: 1 to MaxTagBytes bytes of valid UTF-8
func ValidateTag(param, s string) error {
	if len(s) == 0 {
		return Invalid(param, "must not be empty")
	}
	if len(s) > MaxTagBytes {
		return &ValidationError{
			Param:  param,
			Reason: fmt.Sprintf("encodes to %d bytes", len(s)),
			Limit:  MaxTagBytes,
		}
	}
	if !utf8.ValidString(s) {
		return Invalid(param, "not valid UTF-8")
	}
	return nil
}

// IsBlank reports whether s is empty or only whitespace
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
