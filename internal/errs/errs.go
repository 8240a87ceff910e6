// Package errs gives the error taxonomy of spec.md §7 a concrete Kind,
// grounded on nabbar-golib/errors' code+message model: a small enum plus a
// wrapping type that carries the original cause through errors.Is/As.
package errs

import "fmt"

// Kind is one entry of the taxonomy in spec.md §7. It is not itself an
// error; Error wraps a Kind with context and an optional cause.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindBindFailure
	KindParseError
	KindRequestTooLarge
	KindTooManyConnections
	KindUpgradeFailure
	KindHandlerIOFailure
	KindIdleTimeout
	KindTLSHandshakeFailure
)

func (k Kind) String() string {
	switch k {
	case KindBindFailure:
		return "bind_failure"
	case KindParseError:
		return "parse_error"
	case KindRequestTooLarge:
		return "request_too_large"
	case KindTooManyConnections:
		return "too_many_connections"
	case KindUpgradeFailure:
		return "upgrade_failure"
	case KindHandlerIOFailure:
		return "handler_io_failure"
	case KindIdleTimeout:
		return "idle_timeout"
	case KindTLSHandshakeFailure:
		return "tls_handshake_failure"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, errs.New(KindX, "")) report whether err carries
// Kind KindX: two *Error values match when their Kinds are equal, whatever
// their messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf reports the Kind of err, or KindUnknown if err isn't one of ours.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if as, ok := err.(*Error); ok {
		return as.Kind
	}
	return KindUnknown
}
