package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"venuecore/pkg/core"
)

// GorillaTransport is the gorilla/websocket-backed Transport. gorilla's
// pull-based reader maps directly onto the Transport surface.
type GorillaTransport struct {
	pingInterval time.Duration
	pongWait     time.Duration

	mu      sync.Mutex // also serializes writes; gorilla allows one writer
	conn    *websocket.Conn
	done    chan struct{}
	dialURL string
}

// NewGorillaTransport creates a gorilla transport with the given
// keepalive settings. Zero values get defaults of 10s ping interval and
// 20s pong wait.
func NewGorillaTransport(pingInterval, pongWait time.Duration) *GorillaTransport {
	if pingInterval == 0 {
		pingInterval = 10 * time.Second
	}
	if pongWait == 0 {
		pongWait = 20 * time.Second
	}
	return &GorillaTransport{
		pingInterval: pingInterval,
		pongWait:     pongWait,
	}
}

// Connect dials the websocket endpoint, installs the pong handler and
// starts the keepalive ping loop.
func (t *GorillaTransport) Connect(ctx context.Context, url string) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}

	deadline := t.pingInterval + t.pongWait
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.dialURL = url
	t.mu.Unlock()

	go t.pingLoop(conn, done)

	return nil
}

func (t *GorillaTransport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// WriteControl is safe alongside WriteMessage callers.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Read blocks until a frame arrives or the connection drops. Close
// unblocks it with an error.
func (t *GorillaTransport) Read() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, core.ErrNotConnected
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write sends one text frame.
func (t *GorillaTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return core.ErrNotConnected
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a best-effort close frame, tears down the connection and
// unblocks any pending Read.
func (t *GorillaTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.done = nil
	t.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}
