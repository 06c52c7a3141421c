package ws

import "sync/atomic"

// ConnState represents the current lifecycle state of a connection.
type ConnState int32

// Connection states. Failed is terminal: it is entered on an
// unrecoverable handshake error and the controller cannot leave it.
const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnState = iota
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting
	// StateConnected indicates an active connection.
	StateConnected
	// StateDisconnecting indicates a caller-initiated close is in progress.
	StateDisconnecting
	// StateFailed indicates the connection failed permanently.
	StateFailed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	return [...]string{
		"disconnected",
		"connecting",
		"connected",
		"disconnecting",
		"failed",
	}[s]
}

// State provides thread-safe atomic access to a ConnState value. The
// owning Conn is the sole writer.
type State struct {
	state atomic.Int32
}

// Load returns the current connection state.
func (s *State) Load() ConnState {
	return ConnState(s.state.Load())
}

// Store sets the connection state to the given value.
func (s *State) Store(state ConnState) {
	s.state.Store(int32(state))
}

// CompareAndSwap atomically compares the current state with old and swaps
// to new if equal. It returns true if the swap was performed.
func (s *State) CompareAndSwap(old, new ConnState) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}
