package ws

import "context"

// Transport abstracts one websocket connection behind a minimal
// connect/read/write/close surface, so the connection controller is
// written once regardless of the underlying engine. Two implementations
// are provided: GWSTransport (lxzan/gws) and GorillaTransport
// (gorilla/websocket); pick one at construction time.
//
// Read blocks until a frame arrives or the connection drops, in which
// case it returns the transport error. Implementations must unblock a
// pending Read when Close is called.
type Transport interface {
	Connect(ctx context.Context, url string) error
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}
