// Package transport implements the byte-oriented full-duplex serial port
// contract (spec.md §4.2) and the two framings built on top of it: line
// framing for ASCII stage-class devices, and COBS framing for CBOR
// sensor-class devices. A mock implementation lets the Device Session be
// exercised without real hardware.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// Port is the substitutable byte-stream contract every transport
// implementation (real serial port or mock) must satisfy.
type Port interface {
	Open() error
	Close() error
	Write(p []byte) (int, error)
	// Recv blocks for up to timeout waiting for at least one byte to
	// become available, then returns whatever has accumulated since the
	// last Recv call. A zero timeout means "return immediately".
	Recv(timeout time.Duration) ([]byte, error)
}

// TransportError wraps a write failure or a receive timeout. It is the only
// error type the Device Session expects out of a Port; it does not panic or
// otherwise destabilize the caller (spec.md §4.2 Failure semantics).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrTimeout is returned (wrapped in TransportError) when Recv does not
// observe a complete frame before its deadline.
var ErrTimeout = errors.New("transport receive timed out")
