// Package wire implements the fixed-width primitives shared by the patch and
// diff codecs: big-endian identifiers, integers and floats, and 8/16-bit
// length-prefixed UTF-8 strings.
package wire

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnexpectedEOF indicates the stream ended inside a field
	ErrUnexpectedEOF = errors.New("wire: unexpected end of stream")

	// ErrMalformed indicates a field that decoded but violates the format
	ErrMalformed = errors.New("wire: malformed data")

	// ErrUnknownOpcode indicates an unrecognized instruction type
	ErrUnknownOpcode = errors.New("wire: unrecognized instruction type")
)

// DecodeError is a structural decode failure at a named field
type DecodeError struct {
	Field  string
	Offset int64 // stream offset at which the field started
	Err    error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v reading %s at offset %d: %s", e.Err, e.Field, e.Offset, e.Detail)
	}
	return fmt.Sprintf("%v reading %s at offset %d", e.Err, e.Field, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes a truncation also match io.ErrUnexpectedEOF
func (e *DecodeError) Is(target error) bool {
	return target == io.ErrUnexpectedEOF && e.Err == ErrUnexpectedEOF
}

// IsDecodeError reports whether err is a structural decode error
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
