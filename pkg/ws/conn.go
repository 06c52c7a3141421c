package ws

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"venuecore/pkg/core"
)

// Decoder turns one raw inbound frame into a typed payload. Venue
// adapters supply their own; the default decodes into generic JSON.
type Decoder func(data []byte) (any, error)

func defaultDecoder(data []byte) (any, error) {
	var v any
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Config holds configuration options for a connection controller.
type Config struct {
	// URL is the websocket endpoint to connect to.
	URL string
	// EventBuffer is the capacity of the event channel. Once full, the
	// read pump blocks until the consumer catches up: backpressure, not
	// dropping.
	EventBuffer int
	// RetryableHandshake keeps the controller in the disconnected state
	// after a failed dial so Connect may be attempted again. When false,
	// a dial failure is terminal.
	RetryableHandshake bool
	// SendPerSecond paces outbound writes for venues that cap client
	// message rates; 0 disables pacing.
	SendPerSecond float64
	// SendBurst is the pacer burst size; defaults to 1 when pacing is on.
	SendBurst int
}

// DefaultConfig returns a Config with a 256-event buffer and retryable
// handshakes.
func DefaultConfig(url string) Config {
	return Config{
		URL:                url,
		EventBuffer:        256,
		RetryableHandshake: true,
	}
}

// Conn owns exactly one transport connection and drives its lifecycle
// state machine. It never reconnects on its own: after an unexpected
// disconnect the caller observes a Disconnected event and decides
// whether to call Connect again. One Conn belongs to one streaming
// client; fan-out to multiple consumers happens above this layer.
//
// Events are delivered on a single-consumer channel in the order frames
// arrived on the wire. The channel is closed only by Close; it survives
// disconnect/reconnect cycles. If the consumer stops draining it,
// Connect and Disconnect may block behind a pending emit.
type Conn struct {
	cfg       Config
	transport Transport
	state     *State
	decoder   Decoder
	pacer     *rate.Limiter
	logger    zerolog.Logger

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	connID string
	readWG sync.WaitGroup
}

// NewConn creates a connection controller over the given transport.
func NewConn(transport Transport, cfg Config) *Conn {
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 256
	}

	c := &Conn{
		cfg:       cfg,
		transport: transport,
		state:     &State{},
		decoder:   defaultDecoder,
		logger:    zerolog.Nop(),
		events:    make(chan Event, cfg.EventBuffer),
		closed:    make(chan struct{}),
	}
	c.state.Store(StateDisconnected)

	if cfg.SendPerSecond > 0 {
		burst := cfg.SendBurst
		if burst < 1 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(cfg.SendPerSecond), burst)
	}
	return c
}

// SetLogger configures the logger for the controller.
func (c *Conn) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// SetDecoder replaces the frame decoder. Call before Connect.
func (c *Conn) SetDecoder(decoder Decoder) {
	c.decoder = decoder
}

// Connect performs the transport handshake. On success the controller
// transitions to connected and emits a Connected event; on failure the
// error is returned synchronously and the state goes back to
// disconnected, or to failed when the handshake is configured
// non-retryable. Calling Connect while already connected is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return core.ErrClientClosed
	default:
	}

	if !c.state.CompareAndSwap(StateDisconnected, StateConnecting) {
		switch c.state.Load() {
		case StateConnected:
			return nil
		case StateFailed:
			return core.ErrConnectionFailed
		default:
			return core.ErrAlreadyConnecting
		}
	}

	// The previous connection's read pump must be fully drained before
	// a new transport handle replaces it.
	c.readWG.Wait()

	id := uuid.NewString()

	if err := c.transport.Connect(ctx, c.cfg.URL); err != nil {
		if c.cfg.RetryableHandshake {
			c.state.Store(StateDisconnected)
		} else {
			c.state.Store(StateFailed)
		}
		c.logger.Error().
			Err(err).
			Str("conn_id", id).
			Str("url", c.cfg.URL).
			Msg("websocket dial failed")
		return core.NewTransportError("dial", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.connID = id
	c.mu.Unlock()

	c.state.Store(StateConnected)
	c.logger.Info().
		Str("conn_id", id).
		Str("url", c.cfg.URL).
		Msg("websocket connected")

	c.emit(Event{Type: EventConnected, At: time.Now()})

	c.readWG.Add(1)
	go c.readLoop(id)

	return nil
}

func (c *Conn) readLoop(id string) {
	defer c.readWG.Done()

	for {
		data, err := c.transport.Read()
		if err != nil {
			// Only an unexpected drop emits an event; a caller-issued
			// disconnect already moved the state off connected.
			if c.state.CompareAndSwap(StateConnected, StateDisconnected) {
				_ = c.transport.Close()
				c.logger.Warn().
					Err(err).
					Str("conn_id", id).
					Str("url", c.cfg.URL).
					Msg("websocket disconnected")
				c.emit(Event{Type: EventDisconnected, Reason: err.Error(), At: time.Now()})
			}
			return
		}

		decoded, derr := c.decoder(data)
		if derr != nil {
			c.logger.Debug().
				Err(derr).
				Str("conn_id", id).
				Int("bytes", len(data)).
				Msg("frame decode failed")
			c.emit(Event{
				Type: EventDecodeError,
				Raw:  data,
				Err:  &core.DecodeError{Raw: data, Err: derr, ReceivedAt: time.Now()},
				At:   time.Now(),
			})
			continue
		}

		c.emit(Event{Type: EventMessage, Message: decoded, At: time.Now()})
	}
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// Disconnect closes the transport and waits for the read pump to drain.
// It is idempotent: calling it twice, or while already disconnected, is
// a no-op success.
func (c *Conn) Disconnect() error {
	if !c.state.CompareAndSwap(StateConnected, StateDisconnecting) {
		return nil
	}

	err := c.transport.Close()
	c.readWG.Wait()
	c.state.Store(StateDisconnected)

	c.mu.Lock()
	id := c.connID
	c.mu.Unlock()

	c.logger.Info().
		Str("conn_id", id).
		Str("url", c.cfg.URL).
		Msg("websocket closed")
	return err
}

// Send writes one frame. It is only valid while connected; from any
// other state it fails with ErrNotConnected instead of queuing silently.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.state.Load() != StateConnected {
		return core.ErrNotConnected
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		if c.state.Load() != StateConnected {
			return core.ErrNotConnected
		}
	}

	if err := c.transport.Write(data); err != nil {
		return core.NewTransportError("write", c.cfg.URL, err)
	}
	return nil
}

// SendJSON marshals the given value and sends it as one frame.
func (c *Conn) SendJSON(ctx context.Context, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(ctx, data)
}

// Events returns the controller's event stream. Single consumer,
// ordered, closed only by Close.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return c.state.Load()
}

// IsConnected returns true if the connection is active.
func (c *Conn) IsConnected() bool {
	return c.state.Load() == StateConnected
}

// Close shuts the controller down for good: the transport is closed,
// the event channel is closed, and the controller cannot be connected
// again. A fresh Conn is required afterwards.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.Disconnect()
		c.readWG.Wait()
		close(c.events)
	})
	return err
}
