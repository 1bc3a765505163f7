package transport

import (
	"bytes"
	"errors"
	"time"
)

// ErrCorruptCOBSFrame is returned by cobsDecode when the input is not a
// well-formed COBS-encoded block.
var ErrCorruptCOBSFrame = errors.New("corrupt COBS frame")

// cobsEncode implements Consistent Overhead Byte Stuffing: the result
// contains no zero byte, so a trailing 0x00 can be used unambiguously as a
// frame delimiter.
func cobsEncode(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/254+2)
	codeIdx := 0
	out = append(out, 0) // placeholder for the first code byte
	code := byte(1)

	for _, b := range data {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code
	return out
}

// cobsDecode reverses cobsEncode. data must not contain the trailing 0x00
// frame delimiter.
func cobsDecode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		code := int(data[i])
		if code == 0 {
			return nil, ErrCorruptCOBSFrame
		}
		i++
		end := i + code - 1
		if end > len(data) {
			return nil, ErrCorruptCOBSFrame
		}
		out = append(out, data[i:end]...)
		i = end
		if code < 0xFF && i < len(data) {
			out = append(out, 0)
		}
	}
	return out, nil
}

// EncodeCOBSFrame COBS-encodes payload and appends the trailing 0x00
// delimiter, for callers (mocks, tests) that need to hand a complete wire
// frame to a MockPort without going through a Framer.
func EncodeCOBSFrame(payload []byte) []byte {
	encoded := cobsEncode(payload)
	return append(encoded, 0x00)
}

// COBSFramer implements the sensor-class framing: the payload (typically a
// CBOR map) is COBS-encoded so it can never contain a 0x00 byte, then
// terminated with a single 0x00 delimiter.
type COBSFramer struct {
	port Port
	buf  []byte
}

// NewCOBSFramer wraps port with COBS framing.
func NewCOBSFramer(port Port) *COBSFramer {
	return &COBSFramer{port: port}
}

func (f *COBSFramer) Open() error  { return f.port.Open() }
func (f *COBSFramer) Close() error { return f.port.Close() }

func (f *COBSFramer) SendFrame(payload []byte) error {
	encoded := cobsEncode(payload)
	framed := make([]byte, 0, len(encoded)+1)
	framed = append(framed, encoded...)
	framed = append(framed, 0x00)
	_, err := f.port.Write(framed)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (f *COBSFramer) RecvFrame(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if idx := bytes.IndexByte(f.buf, 0x00); idx >= 0 {
			encoded := f.buf[:idx]
			f.buf = f.buf[idx+1:]
			decoded, err := cobsDecode(encoded)
			if err != nil {
				return nil, &TransportError{Op: "recv", Err: err}
			}
			return decoded, nil
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
