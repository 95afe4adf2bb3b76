package manager

import (
	"time"

	"sbnet/pkg/event"
	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
)

// CloseReason says why a connection closed.
type CloseReason int

const (
	ReasonNone CloseReason = iota
	// ReasonExpected is a close the local side asked for.
	ReasonExpected
	// ReasonServer is a close caused by the server stopping.
	ReasonServer
	// ReasonInterrupted is an open abandoned because its context ended.
	ReasonInterrupted
	// ReasonRemote is a close initiated by the other side.
	ReasonRemote
	// ReasonExternal is a close requested by application code on behalf of
	// something outside the connection.
	ReasonExternal
	// ReasonIOException is a transport failure.
	ReasonIOException
	ReasonUnknown
	// ReasonTimeout is an unanswered liveness check.
	ReasonTimeout
)

func (r CloseReason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonExpected:
		return "EXPECTED"
	case ReasonServer:
		return "SERVER"
	case ReasonInterrupted:
		return "INTERRUPTED"
	case ReasonRemote:
		return "REMOTE"
	case ReasonExternal:
		return "EXTERNAL"
	case ReasonIOException:
		return "IOEXCEPTION"
	case ReasonTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// ConnectionClosed is published once per connection when it reaches Closed.
type ConnectionClosed struct {
	event.Base
	Remote netid.ID
	Server bool
	Reason CloseReason
	Err    error
}

// CheckSucceeded is published when a liveness probe is answered.
type CheckSucceeded struct {
	event.Base
	Remote netid.ID
	RTT    time.Duration
}

// SendRejected is published when a packet could not be queued on an open
// connection.
type SendRejected struct {
	event.Base
	Remote netid.ID
	Type   packet.Type
	Err    error
}

// ReceiveRejected is published for an inbound frame that failed to decode,
// or a decoded response that failed correlation. Type is zero when the
// frame was rejected before its type was known.
type ReceiveRejected struct {
	event.Base
	Remote netid.ID
	Type   packet.Type
	Err    error
}

// UnknownPacket is published for a frame with an unmapped wire ID.
type UnknownPacket struct {
	event.Base
	Remote netid.ID
	ID     int32
	Size   int
}

// ConfigureConnection is published before a connection is created.
// Subscribers may set Context; it is handed to packet handlers and returned
// with request responses.
type ConfigureConnection struct {
	event.Base
	Remote  netid.ID
	Server  bool
	Context any
}
