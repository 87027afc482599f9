// pkg/buspirate/errors.go
package buspirate

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDataReceived is returned when a read expected data into a
	// non-empty buffer and the adapter returned none, or too little.
	ErrNoDataReceived = errors.New("no data received")

	// ErrModeUnavailable is returned by a handle whose mode is no longer the
	// adapter's active mode.
	ErrModeUnavailable = errors.New("operation unavailable in current mode")

	// ErrReadTooLong is returned when a single read exceeds the wire limit.
	ErrReadTooLong = errors.New("read length exceeds 65535 bytes")

	// ErrInvalidPin is returned for IO pins outside 0..7.
	ErrInvalidPin = errors.New("invalid io pin")

	// ErrTimeout matches transport errors caused by a channel read timeout.
	ErrTimeout = errors.New("timeout")
)

// TransportError is an I/O failure on the byte channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a read timeout rather than a
// disconnect or hard I/O error.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// Is makes errors.Is(err, ErrTimeout) true for timeouts.
func (e *TransportError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout()
}

// FramingError is a violation of the frame encoding, such as a frame larger
// than the decode buffer.
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %v", e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// SchemaError is a frame whose payload is not a valid response packet.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %v", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// DeviceError carries the error text reported by the adapter.
type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string {
	return "device error: " + e.Message
}

// ProtocolMismatchError is a well-formed response of the wrong kind.
type ProtocolMismatchError struct {
	Expected string
	Actual   string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch: expected %s, got %s", e.Expected, e.Actual)
}
