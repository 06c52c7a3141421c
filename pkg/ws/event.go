package ws

import "time"

// EventType discriminates the variants of Event.
type EventType int

const (
	// EventConnected is emitted once per successful connect.
	EventConnected EventType = iota
	// EventDisconnected is emitted when the transport drops without a
	// caller-issued disconnect. Reason carries the transport error text.
	EventDisconnected
	// EventMessage carries one decoded inbound frame.
	EventMessage
	// EventDecodeError carries one frame that failed to decode. The
	// stream continues past it.
	EventDecodeError
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return [...]string{
		"connected",
		"disconnected",
		"message",
		"decode_error",
	}[t]
}

// Event is one entry in a connection's ordered event stream. Exactly the
// fields relevant to Type are populated: Reason for Disconnected, Message
// for Message, Raw and Err for DecodeError.
type Event struct {
	Type    EventType
	Reason  string
	Message any
	Raw     []byte
	Err     error
	At      time.Time
}
