// Package spectrometer instantiates the generic engine for a COBS+CBOR
// framed spectrometer: parameters {integration_time, boxcar_width,
// average_times}, command/response only — no streaming mode. Grounded on
// original_source/spectrometer/FX2000/spectrometer.py and its CBOR
// neighbor in internal/devices/sensor.
package spectrometer

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

// Codec implements session.Codec for the spectrometer's CBOR command
// envelope. Streaming is not part of this device's wire dialect; reading
// a spectrum is a request/response exchange driven through ExecuteRaw.
type Codec struct{}

type setParameterCmd struct {
	Command string `cbor:"command"`
	Args    struct {
		Data  string `cbor:"data"`
		Value int    `cbor:"value"`
	} `cbor:"args"`
}

func (Codec) EncodeSetParameter(name string, value int) ([]byte, error) {
	cmd := setParameterCmd{Command: "set_parameter"}
	cmd.Args.Data = name
	cmd.Args.Value = value
	return cbor.Marshal(cmd)
}

func (Codec) EncodeEnableStreaming() ([]byte, error) {
	return nil, session.ErrStreamingUnsupported
}

func (Codec) EncodeDisableStreaming() ([]byte, error) {
	return nil, session.ErrStreamingUnsupported
}

// DecodeAck interprets a CBOR reply of shape {"result": "OK"} or
// {"error": "..."}, same dialect as the sensor family.
func (Codec) DecodeAck(frame []byte) error {
	var reply map[string]interface{}
	if err := cbor.Unmarshal(frame, &reply); err != nil {
		return &session.ResponseValidationError{Reason: fmt.Sprintf("malformed CBOR reply: %v", err)}
	}
	if msg, ok := reply["error"]; ok {
		return &session.DeviceErrorDetail{Message: fmt.Sprintf("%v", msg)}
	}
	if result, ok := reply["result"]; ok && fmt.Sprintf("%v", result) == "OK" {
		return nil
	}
	return &session.ResponseValidationError{Reason: "expected {result: OK} or {error: ...}"}
}

func (Codec) DecodeSample(frame []byte) (session.Sample, error) {
	return session.Sample{}, session.ErrStreamingUnsupported
}

// EncodeGetSpectrum builds the get_spectrum query used by the /spectrum
// HTTP endpoint, executed via Session.ExecuteRaw since it does not mutate
// a ParameterSpec.
func EncodeGetSpectrum() ([]byte, error) {
	return cbor.Marshal(map[string]interface{}{
		"command": "get_spectrum",
		"args":    map[string]interface{}{},
	})
}

// DecodeSpectrum interprets the reply to a get_spectrum query: shape
// {"spectrum": [int, int, ...]}.
func DecodeSpectrum(frame []byte) ([]int64, error) {
	var reply struct {
		Spectrum []int64 `cbor:"spectrum"`
	}
	if err := cbor.Unmarshal(frame, &reply); err != nil {
		return nil, &session.ResponseValidationError{Reason: fmt.Sprintf("malformed CBOR spectrum reply: %v", err)}
	}
	if reply.Spectrum == nil {
		return nil, &session.ResponseValidationError{Reason: "spectrum reply had no spectrum field"}
	}
	return reply.Spectrum, nil
}
