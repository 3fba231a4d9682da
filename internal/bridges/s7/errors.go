package s7

import (
	"errors"
	"fmt"
)

// Domain errors for the S7 bridge package.
var (
	// ErrConnectionFailed is returned when a session cannot be established.
	ErrConnectionFailed = errors.New("s7: connection failed")

	// ErrReadFailed is returned when a data block read fails.
	ErrReadFailed = errors.New("s7: read failed")

	// ErrDecodeFailed is returned when raw bytes cannot be decoded.
	ErrDecodeFailed = errors.New("s7: decoding failed")

	// ErrUnsupportedType is returned for a signal type the bridge cannot decode.
	ErrUnsupportedType = errors.New("s7: unsupported data type")

	// ErrInvalidConfig is returned when a device or signal definition is invalid.
	ErrInvalidConfig = errors.New("s7: invalid configuration")

	// ErrSessionClosed is returned by a session used after Close.
	ErrSessionClosed = errors.New("s7: session closed")

	// ErrSessionNotAlive is recorded when a dial succeeds but the session
	// does not report itself usable.
	ErrSessionNotAlive = errors.New("s7: session not alive after connect")
)

// unknownConnectionMessage is the status text for ErrSessionNotAlive.
const unknownConnectionMessage = "Unknown connection issue"

// FailureKind classifies a failed cycle.
type FailureKind int

// Failure kinds.
const (
	// ConnectionFailure means the session could not be established.
	ConnectionFailure FailureKind = iota + 1

	// ReadFailure means a block read or decode failed mid-cycle.
	ReadFailure

	// ConfigurationFailure means a signal definition could not be decoded.
	ConfigurationFailure
)

// String returns the kind name.
func (k FailureKind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection"
	case ReadFailure:
		return "read"
	case ConfigurationFailure:
		return "configuration"
	default:
		return "unknown"
	}
}

// Failure describes why a cycle stopped. It is the error recorded as the
// device's last error message.
type Failure struct {
	Kind   FailureKind
	Signal string // empty for connection failures
	Err    error
}

// Message returns the operator-facing text shown in the status line.
func (f *Failure) Message() string {
	switch f.Kind {
	case ConnectionFailure:
		if errors.Is(f.Err, ErrSessionNotAlive) {
			return unknownConnectionMessage
		}
		return fmt.Sprintf("Connection error: %v", f.Err)
	case ConfigurationFailure:
		return fmt.Sprintf("Configuration error for %s: %v", f.Signal, f.Err)
	default:
		return fmt.Sprintf("Read error for %s: %v", f.Signal, f.Err)
	}
}

// Error implements error.
func (f *Failure) Error() string {
	return f.Message()
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is.
func (f *Failure) Unwrap() []error {
	var sentinel error
	switch f.Kind {
	case ConnectionFailure:
		sentinel = ErrConnectionFailed
	case ConfigurationFailure:
		sentinel = ErrUnsupportedType
	default:
		sentinel = ErrReadFailed
	}
	return []error{sentinel, f.Err}
}
