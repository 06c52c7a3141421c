package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions across the core.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrNotConnected is returned when a send or subscribe is attempted
	// while the connection is not in the connected state.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrAlreadyConnecting is returned when connect is called while a
	// connection attempt is already in progress.
	ErrAlreadyConnecting = errors.New("connect already in progress")
	// ErrConnectionFailed is returned when the connection has entered the
	// terminal failed state and can no longer be used.
	ErrConnectionFailed = errors.New("connection permanently failed")
	// ErrCircuitOpen is returned when the circuit breaker rejects a request.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrSubscriptionLimit is returned when the active subscription ceiling
	// would be exceeded.
	ErrSubscriptionLimit = errors.New("subscription limit reached")
)

// TransportError wraps an I/O failure on the underlying websocket
// transport. It is surfaced to callers through a Disconnected event
// rather than a panic; reconnecting is the caller's decision.
type TransportError struct {
	// Op is the transport operation that failed (dial, read, write, close).
	Op string
	// URL is the endpoint the transport was connected to.
	URL string
	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a TransportError for the given operation.
func NewTransportError(op, url string, err error) *TransportError {
	return &TransportError{Op: op, URL: url, Err: err}
}

// DecodeError describes a single inbound frame that could not be decoded.
// It is delivered as an event and never terminates the stream: one bad
// message must not take down the connection.
type DecodeError struct {
	// Raw is the frame payload as received from the wire.
	Raw []byte
	// Err is the decoder failure.
	Err error
	// ReceivedAt is when the frame arrived.
	ReceivedAt time.Time
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsTransportError returns true if the error is a transport I/O failure.
// Transport errors are recoverable by reconnecting.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsDecodeError returns true if the error is an isolated frame decode
// failure.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
