package session

import (
	"errors"
	"fmt"
)

// ResultCode is the component-wide outcome taxonomy (spec.md §4.3 Errors).
// It is carried over both the HTTP and persistent-channel surfaces
// unchanged, which is why it is a plain string rather than an int: the
// wire representation and the in-process representation are the same
// value.
type ResultCode string

const (
	ResultOK                        ResultCode = "OK"
	ResultWarnNoAction               ResultCode = "warn_no_action"
	ResultSoftLimitExceeded          ResultCode = "soft_limit_exceeded"
	ResultTransportRW                ResultCode = "serial_RW_failure"
	ResultInvalidAction              ResultCode = "invalid_action"
	ResultResponseValidationFailure  ResultCode = "response_validation_failure"
	ResultDeviceError                ResultCode = "device_error"
	ResultErrorGeneric               ResultCode = "error_generic"
)

// OpResult is what every Session operation returns to its caller. Err
// carries the underlying error for transport, validation, device and
// generic failures, and for InvalidAction when there is a cause to report
// (unknown parameter, busy streaming, unit mismatch); SoftLimitExceeded,
// WarnNoAction and OK leave Err nil.
type OpResult struct {
	Code ResultCode
	Err  error
}

func ok() OpResult               { return OpResult{Code: ResultOK} }
func warnNoAction() OpResult     { return OpResult{Code: ResultWarnNoAction} }
func softLimit() OpResult        { return OpResult{Code: ResultSoftLimitExceeded} }
func invalidAction(err error) OpResult {
	return OpResult{Code: ResultInvalidAction, Err: err}
}
func transportRW(err error) OpResult {
	return OpResult{Code: ResultTransportRW, Err: err}
}
func responseValidation(err error) OpResult {
	return OpResult{Code: ResultResponseValidationFailure, Err: err}
}
func deviceError(err error) OpResult {
	return OpResult{Code: ResultDeviceError, Err: err}
}
func errorGeneric(err error) OpResult {
	return OpResult{Code: ResultErrorGeneric, Err: err}
}

var (
	// ErrInvalidOperand is returned when an Operand carries an unrecognized Kind.
	ErrInvalidOperand = errors.New("session: operand carries neither a logical nor a physical value")
	// ErrUnknownParameter is returned when an operation names a parameter the
	// device does not have.
	ErrUnknownParameter = errors.New("session: unknown parameter")
	// ErrStreamingUnsupported is returned by a Codec that has no continuous
	// mode (spectrometer, shutter, stage).
	ErrStreamingUnsupported = errors.New("session: device does not support continuous mode")
	// ErrBusyStreaming is returned when a command is attempted while
	// continuous mode owns the transport's receive side.
	ErrBusyStreaming = errors.New("session: device is in continuous mode")
	// ErrClosed is returned when an operation is attempted on a session
	// that has not been opened, or has been closed.
	ErrClosed = errors.New("session: not open")
)

// DeviceErrorDetail is the error a Codec.DecodeAck returns when the device itself
// reported a failure in its own response envelope (e.g. CBOR {"error": ...}).
type DeviceErrorDetail struct {
	Message string
}

func (e *DeviceErrorDetail) Error() string {
	return fmt.Sprintf("device reported error: %s", e.Message)
}

// ResponseValidationError is returned by a Codec.DecodeAck when the reply
// frame does not have the expected shape at all.
type ResponseValidationError struct {
	Reason string
}

func (e *ResponseValidationError) Error() string {
	return fmt.Sprintf("response validation failed: %s", e.Reason)
}
