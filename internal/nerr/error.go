// Package nerr defines the NetworkError kinds shared by the UDP engine,
// TCP engine, and role dispatcher (spec §7). It is a separate package
// so the engines can return a dispatcher-shaped error without the
// dispatcher needing to import them back.
package nerr

import "fmt"

// Kind classifies a NetworkError by recovery target, not by which
// component raised it.
type Kind int

const (
	KindIO Kind = iota
	KindSerialization
	KindHandshake
	KindTimeout
	KindInvalidAddress
	KindUnsupportedMode
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindSerialization:
		return "Serialization"
	case KindHandshake:
		return "Handshake"
	case KindTimeout:
		return "Timeout"
	case KindInvalidAddress:
		return "InvalidAddress"
	case KindUnsupportedMode:
		return "UnsupportedMode"
	default:
		return "Other"
	}
}

// NetworkError is the single error type Run returns: a failed run
// surfaces exactly one of these (spec §7).
type NetworkError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IO wraps a failed socket operation.
func IO(msg string, err error) *NetworkError {
	return &NetworkError{Kind: KindIO, Msg: msg, Err: err}
}

// InvalidAddress reports a bad host/port at setup time.
func InvalidAddress(msg string, err error) *NetworkError {
	return &NetworkError{Kind: KindInvalidAddress, Msg: msg, Err: err}
}

// UnsupportedMode reports a role x protocol x sub-mode combination the
// dispatcher doesn't implement.
func UnsupportedMode(msg string) *NetworkError {
	return &NetworkError{Kind: KindUnsupportedMode, Msg: msg}
}

// Other wraps a task panic or unexpected join error.
func Other(msg string, err error) *NetworkError {
	return &NetworkError{Kind: KindOther, Msg: msg, Err: err}
}

// Serialization wraps a framing-layer protocol violation (e.g. an
// oversized TCP frame length) that is fatal for the owning task, as
// opposed to a per-packet decode error which is merely logged.
func Serialization(msg string, err error) *NetworkError {
	return &NetworkError{Kind: KindSerialization, Msg: msg, Err: err}
}
