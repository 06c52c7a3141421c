package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuecore/pkg/core"
)

// fakeTransport is an in-memory Transport the tests drive directly.
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	frames     chan []byte
	errs       chan error
	done       chan struct{}
	writes     [][]byte
	connected  bool
}

func (f *fakeTransport) Connect(ctx context.Context, url string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = make(chan []byte, 16)
	f.errs = make(chan error, 1)
	f.done = make(chan struct{})
	f.connected = true
	return nil
}

func (f *fakeTransport) Read() ([]byte, error) {
	f.mu.Lock()
	frames, errs, done := f.frames, f.errs, f.done
	f.mu.Unlock()

	select {
	case data := <-frames:
		return data, nil
	case err := <-errs:
		return nil, err
	case <-done:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.done)
	}
	return nil
}

func (f *fakeTransport) push(data []byte) {
	f.mu.Lock()
	frames := f.frames
	f.mu.Unlock()
	frames <- data
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	errs := f.errs
	f.mu.Unlock()
	errs <- err
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func connectedConn(t *testing.T) (*Conn, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	conn := NewConn(ft, DefaultConfig("wss://example.com/ws"))
	require.NoError(t, conn.Connect(context.Background()))
	ev := nextEvent(t, conn.Events())
	require.Equal(t, EventConnected, ev.Type)
	return conn, ft
}

func TestConn_SendWhileDisconnected(t *testing.T) {
	conn := NewConn(&fakeTransport{}, DefaultConfig("wss://example.com/ws"))

	err := conn.Send(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, core.ErrNotConnected)
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConn_ConnectEmitsConnected(t *testing.T) {
	conn, _ := connectedConn(t)
	defer conn.Close()

	assert.Equal(t, StateConnected, conn.State())
	assert.True(t, conn.IsConnected())
}

func TestConn_ConnectIdempotentWhileConnected(t *testing.T) {
	conn, _ := connectedConn(t)
	defer conn.Close()

	assert.NoError(t, conn.Connect(context.Background()))
}

func TestConn_ConnectFailureRetryable(t *testing.T) {
	ft := &fakeTransport{connectErr: errors.New("dial tcp: refused")}
	conn := NewConn(ft, DefaultConfig("wss://example.com/ws"))

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsTransportError(err))
	assert.Equal(t, StateDisconnected, conn.State())

	// Retryable handshake: a second attempt is permitted.
	ft.connectErr = nil
	assert.NoError(t, conn.Connect(context.Background()))
}

func TestConn_ConnectFailureTerminal(t *testing.T) {
	ft := &fakeTransport{connectErr: errors.New("bad handshake")}
	cfg := DefaultConfig("wss://example.com/ws")
	cfg.RetryableHandshake = false
	conn := NewConn(ft, cfg)

	require.Error(t, conn.Connect(context.Background()))
	assert.Equal(t, StateFailed, conn.State())

	err := conn.Connect(context.Background())
	assert.ErrorIs(t, err, core.ErrConnectionFailed)
}

func TestConn_DisconnectIdempotent(t *testing.T) {
	conn, _ := connectedConn(t)

	assert.NoError(t, conn.Disconnect())
	assert.Equal(t, StateDisconnected, conn.State())
	assert.NoError(t, conn.Disconnect())
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConn_DisconnectEmitsNoEvent(t *testing.T) {
	conn, _ := connectedConn(t)

	require.NoError(t, conn.Disconnect())

	select {
	case ev := <-conn.Events():
		t.Fatalf("unexpected event after explicit disconnect: %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConn_UnexpectedDropEmitsDisconnected(t *testing.T) {
	conn, ft := connectedConn(t)

	ft.fail(errors.New("connection reset by peer"))

	ev := nextEvent(t, conn.Events())
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.Contains(t, ev.Reason, "connection reset")
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConn_ReconnectAfterDrop(t *testing.T) {
	conn, ft := connectedConn(t)

	ft.fail(errors.New("eof"))
	ev := nextEvent(t, conn.Events())
	require.Equal(t, EventDisconnected, ev.Type)

	// The supervisor decides to reconnect; the controller obliges.
	require.NoError(t, conn.Connect(context.Background()))
	ev = nextEvent(t, conn.Events())
	assert.Equal(t, EventConnected, ev.Type)
	assert.Equal(t, StateConnected, conn.State())
}

func TestConn_MessagesDecodedInOrder(t *testing.T) {
	conn, ft := connectedConn(t)
	defer conn.Close()

	ft.push([]byte(`{"seq":1}`))
	ft.push([]byte(`{"seq":2}`))
	ft.push([]byte(`{"seq":3}`))

	for i := 1; i <= 3; i++ {
		ev := nextEvent(t, conn.Events())
		require.Equal(t, EventMessage, ev.Type)
		payload := ev.Message.(map[string]any)
		assert.Equal(t, float64(i), payload["seq"])
	}
}

func TestConn_DecodeErrorIsIsolated(t *testing.T) {
	conn, ft := connectedConn(t)
	defer conn.Close()

	ft.push([]byte(`{"seq":1}`))
	ft.push([]byte(`{"seq":2}`))
	ft.push([]byte(`{not json`))
	ft.push([]byte(`{"seq":3}`))
	ft.push([]byte(`{"seq":4}`))

	types := make([]EventType, 0, 5)
	for i := 0; i < 5; i++ {
		ev := nextEvent(t, conn.Events())
		types = append(types, ev.Type)
		if ev.Type == EventDecodeError {
			assert.Equal(t, []byte(`{not json`), ev.Raw)
			assert.True(t, core.IsDecodeError(ev.Err))
		}
	}

	assert.Equal(t, []EventType{
		EventMessage, EventMessage, EventDecodeError, EventMessage, EventMessage,
	}, types)
	assert.Equal(t, StateConnected, conn.State(), "one bad frame must not kill the stream")
}

func TestConn_CustomDecoder(t *testing.T) {
	ft := &fakeTransport{}
	conn := NewConn(ft, DefaultConfig("wss://example.com/ws"))
	conn.SetDecoder(func(data []byte) (any, error) {
		return string(data), nil
	})
	require.NoError(t, conn.Connect(context.Background()))
	nextEvent(t, conn.Events())
	defer conn.Close()

	ft.push([]byte("raw-payload"))

	ev := nextEvent(t, conn.Events())
	require.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "raw-payload", ev.Message)
}

func TestConn_SendJSON(t *testing.T) {
	conn, ft := connectedConn(t)
	defer conn.Close()

	require.NoError(t, conn.SendJSON(context.Background(), map[string]string{"op": "ping"}))

	writes := ft.written()
	require.Len(t, writes, 1)
	assert.JSONEq(t, `{"op":"ping"}`, string(writes[0]))
}

func TestConn_CloseIsTerminal(t *testing.T) {
	conn, _ := connectedConn(t)

	require.NoError(t, conn.Close())

	_, open := <-conn.Events()
	assert.False(t, open, "event channel must be closed")

	err := conn.Connect(context.Background())
	assert.ErrorIs(t, err, core.ErrClientClosed)
}
