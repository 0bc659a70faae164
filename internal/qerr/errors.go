// Package qerr defines the three error-code families the connection core
// exchanges with its callers, the wire, and itself, following the split
// described in the transport core's error handling design: local errors
// never cross the wire, transport errors do, application errors are
// opaque values chosen by the app on both ends.
package qerr

import "fmt"

// LocalErrorCode is raised for conditions that are meaningful only to this
// process; it is never encoded onto the wire.
type LocalErrorCode uint32

const (
	NoError LocalErrorCode = iota
	IdleTimeout
	ShuttingDown
	ConnectionReset
	ConnectionAbandoned
	ConnectionClosed
	StreamNotExists
	StreamClosed
	InvalidOperation
	InvalidWriteCallback
	InvalidWriteData
	CallbackAlreadyInstalled
	AppError
	InternalError
	LocalTransportError
	PacerNotAvailable
	KnobFrameUnsupported
	RtxPoliciesLimitExceeded
)

func (c LocalErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case IdleTimeout:
		return "IDLE_TIMEOUT"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case ConnectionReset:
		return "CONNECTION_RESET"
	case ConnectionAbandoned:
		return "CONNECTION_ABANDONED"
	case ConnectionClosed:
		return "CONNECTION_CLOSED"
	case StreamNotExists:
		return "STREAM_NOT_EXISTS"
	case StreamClosed:
		return "STREAM_CLOSED"
	case InvalidOperation:
		return "INVALID_OPERATION"
	case InvalidWriteCallback:
		return "INVALID_WRITE_CALLBACK"
	case InvalidWriteData:
		return "INVALID_WRITE_DATA"
	case CallbackAlreadyInstalled:
		return "CALLBACK_ALREADY_INSTALLED"
	case AppError:
		return "APP_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case LocalTransportError:
		return "TRANSPORT_ERROR"
	case PacerNotAvailable:
		return "PACER_NOT_AVAILABLE"
	case KnobFrameUnsupported:
		return "KNOB_FRAME_UNSUPPORTED"
	case RtxPoliciesLimitExceeded:
		return "RTX_POLICIES_LIMIT_EXCEEDED"
	default:
		return fmt.Sprintf("unknown local error code: %d", uint32(c))
	}
}

// LocalError pairs a LocalErrorCode with a human-readable, never-sent
// message. It is the type every core API returns on failure.
type LocalError struct {
	Code    LocalErrorCode
	Message string
}

func NewLocalError(code LocalErrorCode, message string) *LocalError {
	return &LocalError{Code: code, Message: message}
}

func (e *LocalError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransportErrorCode is a QUIC transport-level error code (RFC 9000 §20.1),
// trimmed to the values this core assigns or interprets itself.
type TransportErrorCode uint64

const (
	TransportNoError TransportErrorCode = iota
	TransportInternalError
	TransportFlowControlError
	TransportStreamLimitError
	TransportStreamStateError
	TransportProtocolViolation
	TransportInvalidMigration
	TransportApplicationError
)

func (c TransportErrorCode) String() string {
	switch c {
	case TransportNoError:
		return "NO_ERROR"
	case TransportInternalError:
		return "INTERNAL_ERROR"
	case TransportFlowControlError:
		return "FLOW_CONTROL_ERROR"
	case TransportStreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case TransportStreamStateError:
		return "STREAM_STATE_ERROR"
	case TransportProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case TransportInvalidMigration:
		return "INVALID_MIGRATION"
	case TransportApplicationError:
		return "APPLICATION_ERROR"
	default:
		return fmt.Sprintf("unknown transport error code: %#x", uint64(c))
	}
}

// TransportError is carried in (or synthesized for) a CONNECTION_CLOSE
// frame. SanitizedMessage is what goes on the wire; the unsanitized message
// on the enclosing CloseReason (see closereason.go) is what the local
// application callback sees.
type TransportError struct {
	Code             TransportErrorCode
	SanitizedMessage string
}

func NewTransportError(code TransportErrorCode, msg string) *TransportError {
	return &TransportError{Code: code, SanitizedMessage: msg}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.SanitizedMessage)
}

// ApplicationErrorCode is an opaque, app-defined value. GenericNoError
// substitutes for it whenever a caller closes the connection without
// specifying one.
type ApplicationErrorCode uint64

// GenericNoError is the code close() synthesizes when the caller supplies none.
const GenericNoError ApplicationErrorCode = 0

// ApplicationError wraps an ApplicationErrorCode as an error value so it can
// flow through the same close paths as Local/TransportError.
type ApplicationError struct {
	Code    ApplicationErrorCode
	Message string
}

func NewApplicationError(code ApplicationErrorCode, msg string) *ApplicationError {
	return &ApplicationError{Code: code, Message: msg}
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("application error 0x%x", uint64(e.Code))
	}
	return fmt.Sprintf("application error 0x%x: %s", uint64(e.Code), e.Message)
}

// IsBenign reports whether a LocalErrorCode/TransportErrorCode pair
// classifies as a "benign" close: NO_ERROR, IDLE_TIMEOUT, SHUTTING_DOWN
// locally, or NO_ERROR on the transport side.
func IsBenignLocal(c LocalErrorCode) bool {
	switch c {
	case NoError, IdleTimeout, ShuttingDown:
		return true
	default:
		return false
	}
}

// IsBenignTransport reports whether a transport error code is benign.
func IsBenignTransport(c TransportErrorCode) bool {
	return c == TransportNoError
}
