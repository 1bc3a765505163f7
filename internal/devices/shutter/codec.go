// Package shutter instantiates the generic engine for a multi-channel
// shutter device: line-framed ASCII commands, one ParameterSpec per
// channel (step=1, min=0, max=1 meaning closed/open), no streaming.
// Grounded on original_source/shutter/api/python/api.py (channel naming
// and per-channel state) — the hardware_mocker/controller for shutter did
// not survive into original_source, so the wire verbs below follow the
// stage-family convention spec.md §1 says is out of scope beyond framing.
package shutter

import (
	"fmt"
	"strings"

	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

// Codec implements session.Codec for the shutter's line-framed dialect: a
// channel name maps 1:1 onto a ParameterSpec name, and its logical value
// of 0 or 1 maps onto CLOSE/OPEN.
type Codec struct{}

func (Codec) EncodeSetParameter(channel string, value int) ([]byte, error) {
	switch value {
	case 0:
		return []byte(fmt.Sprintf("CLOSE %s", channel)), nil
	case 1:
		return []byte(fmt.Sprintf("OPEN %s", channel)), nil
	default:
		return nil, fmt.Errorf("shutter: channel %q takes only 0 (closed) or 1 (open), got %d", channel, value)
	}
}

func (Codec) EncodeEnableStreaming() ([]byte, error) {
	return nil, session.ErrStreamingUnsupported
}

func (Codec) EncodeDisableStreaming() ([]byte, error) {
	return nil, session.ErrStreamingUnsupported
}

func (Codec) DecodeAck(frame []byte) error {
	s := strings.TrimSpace(string(frame))
	switch {
	case s == "OK":
		return nil
	case strings.HasPrefix(s, "ERR"):
		return &session.DeviceErrorDetail{Message: s}
	default:
		return &session.ResponseValidationError{Reason: "expected OK, got " + s}
	}
}

func (Codec) DecodeSample(frame []byte) (session.Sample, error) {
	return session.Sample{}, session.ErrStreamingUnsupported
}
