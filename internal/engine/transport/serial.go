package transport

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// SerialPort backs Port with a real serial device via github.com/tarm/serial,
// whose io.ReadWriteCloser shape maps directly onto the methods Port needs.
// It is the production counterpart to MockPort.
type SerialPort struct {
	name string
	baud int
	conn *serial.Port
}

// NewSerialPort describes (without opening) a serial device at name,
// communicating at baud bits per second.
func NewSerialPort(name string, baud int) *SerialPort {
	return &SerialPort{name: name, baud: baud}
}

func (p *SerialPort) Open() error {
	conn, err := serial.OpenPort(&serial.Config{Name: p.name, Baud: p.baud})
	if err != nil {
		return &TransportError{Op: "open", Err: err}
	}
	p.conn = conn
	return nil
}

func (p *SerialPort) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func (p *SerialPort) Write(b []byte) (int, error) {
	n, err := p.conn.Write(b)
	if err != nil {
		return n, &TransportError{Op: "write", Err: err}
	}
	return n, nil
}

// Recv reads whatever is available within timeout. tarm/serial does not
// expose a per-read deadline, so the read happens on its own goroutine and
// Recv returns ErrTimeout if nothing arrives in time; the goroutine's read
// result (if it eventually lands) is discarded, the same tradeoff a raw
// blocking fd read forces on any Go serial wrapper.
func (p *SerialPort) Recv(timeout time.Duration) ([]byte, error) {
	type result struct {
		n   int
		buf [4096]byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		r.n, r.err = p.conn.Read(r.buf[:])
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil && r.err != io.EOF {
			return nil, &TransportError{Op: "recv", Err: r.err}
		}
		return append([]byte(nil), r.buf[:r.n]...), nil
	case <-time.After(timeout):
		return nil, &TransportError{Op: "recv", Err: ErrTimeout}
	}
}
