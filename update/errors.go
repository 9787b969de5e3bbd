package update

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for status mapping and operator logs.
type Kind int

const (
	// KindInternal covers unexpected archive, parsing and storage failures.
	KindInternal Kind = iota
	// KindValidation is a malformed or missing request parameter.
	KindValidation
	// KindNoUpdate is a no-update condition the client protocol cannot express.
	KindNoUpdate
	// KindResolution means no bundle, entry or config could be found.
	KindResolution
	// KindConfiguration is a server configuration mismatch the caller can correct,
	// such as a signature requested from a server without a key.
	KindConfiguration
	// KindProtocol is a request the resolved bundle cannot be served to,
	// such as a rollback for a protocol version 0 client.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNoUpdate:
		return "no_update"
	case KindResolution:
		return "resolution"
	case KindConfiguration:
		return "configuration"
	case KindProtocol:
		return "protocol"
	default:
		return "internal"
	}
}

// Error is a classified failure raised while resolving an update.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError returns an Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-facing text for err. Internal failures are not
// described to clients.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "unable to resolve update"
	}
	return e.Err.Error()
}
