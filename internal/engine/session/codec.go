package session

// Codec translates between this session's generic command/response
// discipline and one device family's wire dialect (ASCII line commands for
// stage/shutter, CBOR+COBS command envelopes for sensor/spectrometer). Each
// package under internal/devices supplies its own Codec; Session itself
// never depends on a specific wire format.
type Codec interface {
	// EncodeSetParameter builds the frame payload that requests the named
	// parameter be set to the given logical value.
	EncodeSetParameter(name string, value int) ([]byte, error)

	// EncodeEnableStreaming/EncodeDisableStreaming build the frames that
	// start/stop continuous mode. Devices without a streaming mode may
	// return ErrStreamingUnsupported.
	EncodeEnableStreaming() ([]byte, error)
	EncodeDisableStreaming() ([]byte, error)

	// DecodeAck interprets a synchronous reply frame. It returns nil if the
	// frame is a well-formed success acknowledgement, a *DeviceErrorDetail
	// if the device reported an error in its own envelope, or a
	// *ResponseValidationError if the frame does not match the expected
	// shape at all.
	DecodeAck(frame []byte) error

	// DecodeSample interprets one frame received by the Stream Reader while
	// continuous mode is active.
	DecodeSample(frame []byte) (Sample, error)
}
