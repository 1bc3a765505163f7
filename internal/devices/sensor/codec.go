// Package sensor instantiates the generic engine for a COBS+CBOR framed
// environmental sensor: parameters {temperature_sampling_interval,
// humidity_sampling_interval}, plus continuous-mode streaming of
// {temperature, humidity} samples. Grounded on
// original_source/sensor/generic/sensor.py.
package sensor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

// Codec implements session.Codec for the sensor's CBOR command envelope
// (spec.md §6 "Transport wire formats").
type Codec struct{}

type setParameterCmd struct {
	Command string `cbor:"command"`
	Args    struct {
		Data  string `cbor:"data"`
		Value int    `cbor:"value"`
	} `cbor:"args"`
}

type continuousModeCmd struct {
	Command string                 `cbor:"command"`
	Args    map[string]interface{} `cbor:"args"`
}

func (Codec) EncodeSetParameter(name string, value int) ([]byte, error) {
	cmd := setParameterCmd{Command: "set_parameter"}
	cmd.Args.Data = name
	cmd.Args.Value = value
	return cbor.Marshal(cmd)
}

func (Codec) EncodeEnableStreaming() ([]byte, error) {
	return cbor.Marshal(continuousModeCmd{Command: "start_continuous_mode", Args: map[string]interface{}{}})
}

func (Codec) EncodeDisableStreaming() ([]byte, error) {
	return cbor.Marshal(continuousModeCmd{Command: "stop_continuous_mode", Args: map[string]interface{}{}})
}

// DecodeAck interprets a CBOR reply of shape {"result": "OK"} or
// {"error": "..."}.
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

// DecodeSample interprets one unsolicited CBOR frame emitted while
// continuous mode is active, shape {"temperature": ..., "humidity": ...}.
func (Codec) DecodeSample(frame []byte) (session.Sample, error) {
	var reply map[string]interface{}
	if err := cbor.Unmarshal(frame, &reply); err != nil {
		return session.Sample{}, &session.ResponseValidationError{Reason: fmt.Sprintf("malformed CBOR sample: %v", err)}
	}
	fields := make(map[string]float64, len(reply))
	for k, v := range reply {
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		fields[k] = f
	}
	if len(fields) == 0 {
		return session.Sample{}, &session.ResponseValidationError{Reason: "sample frame had no numeric fields"}
	}
	return session.Sample{Fields: fields}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// EncodeGetData builds the get_data query used by the /data HTTP endpoint,
// executed via Session.ExecuteRaw rather than SetParameter since it does
// not mutate a ParameterSpec.
func EncodeGetData(fields ...string) ([]byte, error) {
	return cbor.Marshal(map[string]interface{}{
		"command": "get_data",
		"args":    map[string]interface{}{"data": fields},
	})
}

// DecodeData interprets the reply to a get_data query into a flat
// name->value map for the HTTP /data response.
func DecodeData(frame []byte) (map[string]float64, error) {
	var reply map[string]interface{}
	if err := cbor.Unmarshal(frame, &reply); err != nil {
		return nil, &session.ResponseValidationError{Reason: fmt.Sprintf("malformed CBOR data reply: %v", err)}
	}
	out := make(map[string]float64, len(reply))
	for k, v := range reply {
		if f, ok := toFloat(v); ok {
			out[k] = f
		}
	}
	return out, nil
}
