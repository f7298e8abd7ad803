package bencode

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrUnexpectedEOF  = errors.New("bencode: unexpected end of input")
	ErrInvalidDigit   = errors.New("bencode: invalid decimal digit")
	ErrInvalidLength  = errors.New("bencode: string length exceeds input")
	ErrInvalidUTF8    = errors.New("bencode: invalid utf-8 text")
	ErrNonStringKey   = errors.New("bencode: dictionary key is not a string")
	ErrTrailingData   = errors.New("bencode: trailing data after value")
	ErrNestingTooDeep = errors.New("bencode: nesting too deep")
)

// SyntaxError reports a decode failure at a byte offset of the input.
type SyntaxError struct {
	Offset int
	Err    error
	Detail string
}

func (e *SyntaxError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Detail)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

func syntaxError(offset int, err error, format string, args ...any) *SyntaxError {
	return &SyntaxError{Offset: offset, Err: err, Detail: fmt.Sprintf(format, args...)}
}

func validUTF8(b []byte) bool { return utf8.Valid(b) }
