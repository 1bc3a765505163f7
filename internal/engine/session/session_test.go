package session

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/F6/labctrl-toolbox/internal/engine/quantity"
	"github.com/F6/labctrl-toolbox/internal/engine/transport"
)

// lineCodec is a minimal Codec over LineFramer, used only to exercise
// Session's state machine and mutation protocol independently of any real
// device dialect.
type lineCodec struct{}

func (lineCodec) EncodeSetParameter(name string, value int) ([]byte, error) {
	return []byte(fmt.Sprintf("SET %s %d", name, value)), nil
}

func (lineCodec) EncodeEnableStreaming() ([]byte, error)  { return []byte("STREAM ON"), nil }
func (lineCodec) EncodeDisableStreaming() ([]byte, error) { return []byte("STREAM OFF"), nil }

func (lineCodec) DecodeAck(frame []byte) error {
	s := string(frame)
	switch {
	case s == "OK":
		return nil
	case strings.HasPrefix(s, "ERR"):
		return &DeviceErrorDetail{Message: s}
	default:
		return &ResponseValidationError{Reason: "unexpected frame " + s}
	}
}

func (lineCodec) DecodeSample(frame []byte) (Sample, error) {
	s := string(frame)
	if !strings.HasPrefix(s, "SAMPLE ") {
		return Sample{}, &ResponseValidationError{Reason: "not a sample frame"}
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "SAMPLE "))
	if err != nil {
		return Sample{}, &ResponseValidationError{Reason: "bad sample payload"}
	}
	return Sample{Fields: map[string]float64{"n": float64(n)}}, nil
}

type recordingPublisher struct {
	events []UpdateEvent
}

func (p *recordingPublisher) Publish(e UpdateEvent) {
	p.events = append(p.events, e)
}

func mockResponder(written []byte) []byte {
	s := string(written)
	switch {
	case strings.HasPrefix(s, "SET "):
		return []byte("OK\r")
	case s == "STREAM ON":
		return []byte("OK\r")
	case s == "STREAM OFF":
		return []byte("OK\r")
	default:
		return []byte("ERR unknown\r")
	}
}

func newTestSession(t *testing.T) (*Session, *transport.MockPort, *recordingPublisher) {
	t.Helper()
	port := transport.NewMockPort(mockResponder)
	framer := transport.NewLineFramer(port)
	pub := &recordingPublisher{}
	sess := New(Config{
		Framer: framer,
		Codec:  lineCodec{},
		Publisher: pub,
		Params: map[string]*quantity.ParameterSpec{
			"position": {
				Step:  quantity.PhysicalQuantity{Value: 10, Unit: quantity.Micrometer},
				Value: 114514, Default: 0, Min: -1000000, Max: 1000000,
			},
		},
		CmdTimeout: 2 * time.Second,
		StreamPoll: 20 * time.Millisecond,
	})
	if err := sess.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	return sess, port, pub
}

func TestSetParameterSoftLimitRejectsWithoutIO(t *testing.T) {
	is := is.New(t)
	sess, port, pub := newTestSession(t)

	res := sess.SetParameter("position", Log(2000000))
	is.Equal(res.Code, ResultSoftLimitExceeded)
	is.Equal(port.WriteCount(), int64(0))
	is.Equal(len(pub.events), 0)

	spec, ok := sess.Parameter("position")
	is.True(ok)
	is.Equal(spec.Value, 114514)
}

func TestSetParameterNoOpWarnsButTransmits(t *testing.T) {
	is := is.New(t)
	sess, port, pub := newTestSession(t)

	res := sess.SetParameter("position", Log(114514))
	is.Equal(res.Code, ResultWarnNoAction)
	is.Equal(port.WriteCount(), int64(1))
	is.Equal(len(pub.events), 1)
}

func TestSetParameterHappyPath(t *testing.T) {
	is := is.New(t)
	sess, port, pub := newTestSession(t)

	res := sess.SetParameter("position", Phys(1145.15, quantity.Millimeter))
	is.Equal(res.Code, ResultOK)
	is.Equal(port.WriteCount(), int64(1))

	spec, ok := sess.Parameter("position")
	is.True(ok)
	is.Equal(spec.Value, 114515)
	is.Equal(len(pub.events), 1)
	pc, isPC := pub.events[0].(ParameterChanged)
	is.True(isPC)
	is.Equal(pc.Value, 114515)
}

func TestSetParameterUnknownParameter(t *testing.T) {
	is := is.New(t)
	sess, _, _ := newTestSession(t)

	res := sess.SetParameter("nonexistent", Log(1))
	is.Equal(res.Code, ResultInvalidAction)
}

func TestStreamingStartStopAndSampleFanOut(t *testing.T) {
	is := is.New(t)
	sess, port, pub := newTestSession(t)

	n := 0
	port.SetBurstGenerator(func() []byte {
		n++
		return []byte(fmt.Sprintf("SAMPLE %d\r", n))
	})

	res := sess.StartContinuous()
	is.Equal(res.Code, ResultOK)
	is.True(sess.isStreaming())
	port.StartBurst(15 * time.Millisecond)

	// While streaming, ordinary commands are rejected.
	blocked := sess.SetParameter("position", Log(1))
	is.Equal(blocked.Code, ResultInvalidAction)

	time.Sleep(100 * time.Millisecond)

	res = sess.StopContinuous(true)
	is.Equal(res.Code, ResultOK)
	is.True(!sess.isStreaming())

	sawSample := false
	for _, e := range pub.events {
		if _, ok := e.(Sample); ok {
			sawSample = true
		}
	}
	is.True(sawSample)
}
