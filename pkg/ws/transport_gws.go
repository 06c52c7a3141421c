package ws

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"venuecore/pkg/core"
)

// GWSTransport is the lxzan/gws-backed Transport. gws delivers frames
// through callbacks; the handler bridges them onto a channel so the
// controller can pull them with Read.
type GWSTransport struct {
	pingInterval time.Duration
	pongWait     time.Duration

	mu     sync.Mutex
	conn   *gws.Conn
	frames chan []byte
	errs   chan error
	done   chan struct{}
}

// NewGWSTransport creates a gws transport with the given keepalive
// settings. Zero values get defaults of 10s ping interval and 20s pong
// wait.
func NewGWSTransport(pingInterval, pongWait time.Duration) *GWSTransport {
	if pingInterval == 0 {
		pingInterval = 10 * time.Second
	}
	if pongWait == 0 {
		pongWait = 20 * time.Second
	}
	return &GWSTransport{
		pingInterval: pingInterval,
		pongWait:     pongWait,
	}
}

type gwsHandler struct {
	frames   chan []byte
	errs     chan error
	done     chan struct{}
	deadline time.Duration
}

func (h *gwsHandler) OnOpen(socket *gws.Conn) {
	_ = socket.SetDeadline(time.Now().Add(h.deadline))
}

func (h *gwsHandler) OnClose(socket *gws.Conn, err error) {
	select {
	case h.errs <- err:
	default:
	}
}

func (h *gwsHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.deadline))
	_ = socket.WritePong(nil)
}

func (h *gwsHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.deadline))
}

func (h *gwsHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	if len(data) == 0 {
		return
	}

	// gws recycles the message buffer after Close, so hand off a copy.
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case h.frames <- buf:
	case <-h.done:
	}
}

// Connect dials the websocket endpoint and starts the gws read loop and
// the keepalive ping loop.
func (t *GWSTransport) Connect(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	frames := make(chan []byte, 16)
	errs := make(chan error, 1)
	done := make(chan struct{})

	handler := &gwsHandler{
		frames:   frames,
		errs:     errs,
		done:     done,
		deadline: t.pingInterval + t.pongWait,
	}

	socket, _, err := gws.NewClient(handler, &gws.ClientOption{
		Addr: url,
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = socket
	t.frames = frames
	t.errs = errs
	t.done = done
	t.mu.Unlock()

	go socket.ReadLoop()
	go t.pingLoop(socket, done)

	return nil
}

func (t *GWSTransport) pingLoop(socket *gws.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := socket.WritePing(nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Read blocks until a frame arrives, the connection drops, or Close is
// called.
func (t *GWSTransport) Read() ([]byte, error) {
	t.mu.Lock()
	frames, errs, done := t.frames, t.errs, t.done
	t.mu.Unlock()

	if frames == nil {
		return nil, core.ErrNotConnected
	}

	select {
	case data := <-frames:
		return data, nil
	case err := <-errs:
		return nil, err
	case <-done:
		return nil, net.ErrClosed
	}
}

// Write sends one text frame.
func (t *GWSTransport) Write(data []byte) error {
	t.mu.Lock()
	socket := t.conn
	t.mu.Unlock()

	if socket == nil {
		return core.ErrNotConnected
	}
	return socket.WriteMessage(gws.OpcodeText, data)
}

// Close tears down the connection and unblocks any pending Read.
func (t *GWSTransport) Close() error {
	t.mu.Lock()
	socket := t.conn
	done := t.done
	t.conn = nil
	t.frames = nil
	t.errs = nil
	t.done = nil
	t.mu.Unlock()

	if done != nil {
		close(done)
	}
	if socket != nil {
		return socket.NetConn().Close()
	}
	return nil
}
