package torrent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/wtlin1228/bittorrent/bencode"
)

// --------------------------------------------------------------------------------------------- //

var (
	// validation
	ErrMissingField = errors.New("missing field")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrInvalidField = errors.New("invalid field")

	// network
	ErrConnectFailed = errors.New("connect failed")
	ErrRequestFailed = errors.New("request failed")
	ErrConnection    = errors.New("connection error")
	ErrTimeout       = errors.New("timed out")

	// protocol
	ErrHandshakeMismatch  = errors.New("handshake mismatch")
	ErrShortRead          = errors.New("short read")
	ErrTrackerFailure     = errors.New("tracker failure")
	ErrUnsupportedTracker = errors.New("unsupported tracker")
)

// --------------------------------------------------------------------------------------------- //

/*
FieldError describes a structural problem with a named field of a decoded
dictionary: a missing key, a value of the wrong kind, or a value that breaks
a field constraint.
*/
type FieldError struct {
	Field    string
	Expected bencode.Kind
	Got      bencode.Kind
	Reason   string
	Err      error
}

func (e *FieldError) Error() string {
	switch {
	case errors.Is(e.Err, ErrMissingField):
		return fmt.Sprintf("missing field %q", e.Field)
	case errors.Is(e.Err, ErrTypeMismatch):
		return fmt.Sprintf("field %q: type mismatch: expected %s, got %s", e.Field, e.Expected, e.Got)
	case e.Reason != "":
		return fmt.Sprintf("field %q: %v: %s", e.Field, e.Err, e.Reason)
	default:
		return fmt.Sprintf("field %q: %v", e.Field, e.Err)
	}
}

func (e *FieldError) Unwrap() error { return e.Err }

func missingField(field string) error {
	return &FieldError{Field: field, Err: ErrMissingField}
}

func typeMismatch(field string, expected bencode.Kind, got bencode.Value) error {
	kind := bencode.KindNil
	if got != nil {
		kind = got.Kind()
	}
	return &FieldError{Field: field, Expected: expected, Got: kind, Err: ErrTypeMismatch}
}

func invalidField(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...), Err: ErrInvalidField}
}

// --------------------------------------------------------------------------------------------- //

/*
NetworkError is a transport failure surfaced from a collaborator (TCP dial,
HTTP GET, UDP exchange) together with the operation and address involved.

It matches both its Kind (ErrConnectFailed, ErrRequestFailed, ErrConnection,
ErrTimeout) and the underlying cause with errors.Is.
*/
type NetworkError struct {
	Op   string
	Addr string
	Kind error
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Addr, e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{e.Kind, e.Err} }

// networkError classifies err as a timeout when the transport says so and
// falls back to kind otherwise.
func networkError(op, addr string, kind, err error) error {
	if isTimeout(err) {
		kind = ErrTimeout
	}
	return &NetworkError{Op: op, Addr: addr, Kind: kind, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// --------------------------------------------------------------------------------------------- //

/*
HandshakeError reports a failed handshake with the state the exchange had
reached when it failed.
*/
type HandshakeError struct {
	Peer  string
	State HandshakeState
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s failed in state %s: %v", e.Peer, e.State, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// --------------------------------------------------------------------------------------------- //
