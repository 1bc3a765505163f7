package transport

import (
	"bytes"
	"time"
)

// Framer turns a raw Port into a message-oriented transport: SendFrame
// writes one complete outbound message, RecvFrame blocks for up to timeout
// waiting for one complete inbound message.
type Framer interface {
	Open() error
	Close() error
	SendFrame(payload []byte) error
	RecvFrame(timeout time.Duration) ([]byte, error)
}

// LineFramer implements the stage-class framing: every command is a line of
// ASCII text terminated by '\r', and every response ends at the next '\r'.
type LineFramer struct {
	port Port
	buf  []byte
}

// NewLineFramer wraps port with carriage-return delimited framing.
func NewLineFramer(port Port) *LineFramer {
	return &LineFramer{port: port}
}

func (f *LineFramer) Open() error  { return f.port.Open() }
func (f *LineFramer) Close() error { return f.port.Close() }

func (f *LineFramer) SendFrame(payload []byte) error {
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\r')
	_, err := f.port.Write(line)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (f *LineFramer) RecvFrame(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if idx := bytes.IndexByte(f.buf, '\r'); idx >= 0 {
			frame := f.buf[:idx]
			f.buf = f.buf[idx+1:]
			out := make([]byte, len(frame))
			copy(out, frame)
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TransportError{Op: "recv", Err: ErrTimeout}
		}

		chunk, err := f.port.Recv(remaining)
		if err != nil {
			return nil, &TransportError{Op: "recv", Err: err}
		}
		if len(chunk) == 0 {
			return nil, &TransportError{Op: "recv", Err: ErrTimeout}
		}
		f.buf = append(f.buf, chunk...)
	}
}
