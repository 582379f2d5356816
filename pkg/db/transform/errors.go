package transform

import (
	"errors"
	"fmt"
)

var (
	// ErrEncode matches any EncodeError.
	ErrEncode = errors.New("encode record")
	// ErrDecode matches any DecodeError.
	ErrDecode = errors.New("decode record")
)

// EncodeError reports a node value that could not be turned into its persisted form.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() []error { return []error{ErrEncode, e.Err} }

// DecodeError reports a persisted value that is not well-formed for its field.
type DecodeError struct {
	Field string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %q: %v", e.Field, truncate(e.Value, 96), e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
