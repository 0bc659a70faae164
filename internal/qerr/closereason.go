package qerr

// CloseReason overlays a caller- or peer-supplied error with the two-field
// split the design notes require: an unsanitized message for the local
// application callback, and a sanitized message for whatever gets encoded
// onto the wire. Grounded on quic-go's logging.CloseReason, which plays
// the same "one of a few kinds" role for its own close-reason reporting.
type CloseReason struct {
	Remote bool

	local       *LocalError
	transport   *TransportError
	application *ApplicationError

	// unsanitizedMessage overlays the message the local app sees; when
	// empty, the underlying error's own message is used instead.
	unsanitizedMessage string
}

// NewLocalCloseReason builds a CloseReason from a LocalError raised inside
// this process (never remote).
func NewLocalCloseReason(err *LocalError) CloseReason {
	return CloseReason{local: err}
}

// NewTransportCloseReason builds a CloseReason from a transport error,
// tagging whether it originated with the peer.
func NewTransportCloseReason(err *TransportError, remote bool) CloseReason {
	return CloseReason{transport: err, Remote: remote}
}

// NewApplicationCloseReason builds a CloseReason from an application error.
func NewApplicationCloseReason(err *ApplicationError, remote bool) CloseReason {
	return CloseReason{application: err, Remote: remote}
}

// WithUnsanitizedMessage overlays msg as what the local callback receives,
// leaving the wire-bound message (if any) untouched.
func (r CloseReason) WithUnsanitizedMessage(msg string) CloseReason {
	r.unsanitizedMessage = msg
	return r
}

// Local returns the LocalError, if this reason carries one.
func (r CloseReason) Local() (*LocalError, bool) {
	if r.local == nil {
		return nil, false
	}
	return r.local, true
}

// Transport returns the TransportError, if this reason carries one.
func (r CloseReason) Transport() (*TransportError, bool) {
	if r.transport == nil {
		return nil, false
	}
	return r.transport, true
}

// Application returns the ApplicationError, if this reason carries one.
func (r CloseReason) Application() (*ApplicationError, bool) {
	if r.application == nil {
		return nil, false
	}
	return r.application, true
}

// LocalMessage is the unsanitized message delivered to local callbacks.
func (r CloseReason) LocalMessage() string {
	if r.unsanitizedMessage != "" {
		return r.unsanitizedMessage
	}
	switch {
	case r.local != nil:
		return r.local.Message
	case r.transport != nil:
		return r.transport.SanitizedMessage
	case r.application != nil:
		return r.application.Message
	default:
		return ""
	}
}

// WireMessage is the sanitized message that would be placed in a
// CONNECTION_CLOSE frame; local-only errors have no wire representation.
func (r CloseReason) WireMessage() string {
	switch {
	case r.transport != nil:
		return r.transport.SanitizedMessage
	case r.application != nil:
		return r.application.Message
	default:
		return ""
	}
}

// IsBenign classifies this reason against the benign-error list.
func (r CloseReason) IsBenign() bool {
	switch {
	case r.local != nil:
		return IsBenignLocal(r.local.Code)
	case r.transport != nil:
		return IsBenignTransport(r.transport.Code)
	case r.application != nil:
		return r.application.Code == GenericNoError
	default:
		return true
	}
}

// Error implements the error interface so a CloseReason can be threaded
// through ordinary Go error-handling paths.
func (r CloseReason) Error() string {
	switch {
	case r.local != nil:
		return r.local.Error()
	case r.transport != nil:
		return r.transport.Error()
	case r.application != nil:
		return r.application.Error()
	default:
		return "no error"
	}
}
