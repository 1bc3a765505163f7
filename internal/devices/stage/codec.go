// Package stage instantiates the generic engine for a linear-stage device:
// line-framed ASCII commands, parameters {position, velocity,
// acceleration}, no streaming. Grounded on
// original_source/linear_stage/generic/linear_stage.py.
package stage

import (
	"fmt"
	"strings"

	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

// wireCommand maps a ParameterSpec name to the ASCII verb the reference
// CDHD2-class stage driver expects (spec.md §6: "MOVEABS <mm> <mm/s>");
// this rewrite keeps one verb per parameter since Session's mutation
// protocol operates on one parameter per call.
var wireCommand = map[string]string{
	"position":     "MOVEABS",
	"velocity":     "SETVEL",
	"acceleration": "SETACC",
}

// Codec implements session.Codec for the stage's line-framed dialect.
type Codec struct{}

func (Codec) EncodeSetParameter(name string, value int) ([]byte, error) {
	verb, ok := wireCommand[name]
	if !ok {
		return nil, fmt.Errorf("stage: unknown parameter %q", name)
	}
	return []byte(fmt.Sprintf("%s %d", verb, value)), nil
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
