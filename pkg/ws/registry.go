package ws

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"venuecore/pkg/core"
	"venuecore/pkg/ratelimit"
)

// Subscription identifies one channel subscription: a channel name, an
// optional instrument, and venue-specific extras. Two subscriptions are
// the same iff their keys are equal.
type Subscription struct {
	Channel string            `json:"channel"`
	Symbol  string            `json:"symbol,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// Key returns the canonical identity of the subscription. Params are
// folded in sorted order so map iteration cannot produce two keys for
// the same subscription.
func (s Subscription) Key() string {
	var b strings.Builder
	b.WriteString(s.Channel)
	if s.Symbol != "" {
		b.WriteByte(':')
		b.WriteString(s.Symbol)
	}
	if len(s.Params) > 0 {
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(s.Params[k])
		}
	}
	return b.String()
}

// CommandEncoder builds the venue's wire messages for subscribe and
// unsubscribe commands.
type CommandEncoder interface {
	EncodeSubscribe(sub Subscription) ([]byte, error)
	EncodeUnsubscribe(sub Subscription) ([]byte, error)
}

// RegistryConfig holds the client-side streaming ceilings.
type RegistryConfig struct {
	// MaxSubscriptions caps concurrent active subscriptions; 0 = no cap.
	MaxSubscriptions int
	// SubscribeMessages / SubscribeWindow cap subscribe commands per
	// window; 0 messages = no cap.
	SubscribeMessages int64
	SubscribeWindow   time.Duration
	// ConnectAttempts / ConnectWindow cap connection attempts per window;
	// 0 attempts = no cap.
	ConnectAttempts int64
	ConnectWindow   time.Duration
}

// Registry remembers the desired channel subscriptions for one
// connection so they can be replayed after a reconnect, and gates new
// subscribe calls against client-side ceilings, mirroring the REST
// limiter's admission pattern.
//
// Tracking is optimistic: a subscription is recorded as soon as the
// subscribe command is sent, without waiting for a venue ack. Venues do
// not reliably ack every subscription, so this is a known approximation.
type Registry struct {
	conn    *Conn
	encoder CommandEncoder
	logger  zerolog.Logger

	mu      sync.Mutex
	desired map[string]Subscription
	order   []string
	sent    map[string]bool

	maxSubs     int
	msgTracker  *ratelimit.WindowTracker
	connTracker *ratelimit.WindowTracker
}

// NewRegistry creates a subscription registry bound to one connection
// controller and one venue command encoder.
func NewRegistry(conn *Conn, encoder CommandEncoder, cfg RegistryConfig) *Registry {
	r := &Registry{
		conn:    conn,
		encoder: encoder,
		logger:  zerolog.Nop(),
		desired: make(map[string]Subscription),
		sent:    make(map[string]bool),
		maxSubs: cfg.MaxSubscriptions,
	}
	if cfg.SubscribeMessages > 0 {
		r.msgTracker = ratelimit.NewWindowTracker(cfg.SubscribeMessages, cfg.SubscribeWindow)
	}
	if cfg.ConnectAttempts > 0 {
		r.connTracker = ratelimit.NewWindowTracker(cfg.ConnectAttempts, cfg.ConnectWindow)
	}
	return r
}

// SetLogger configures the logger for the registry.
func (r *Registry) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// Subscribe admits the subscription against the active-count and
// message-rate ceilings, sends the subscribe command through the
// connection, and records the subscription optimistically. Subscribing
// to an already-active subscription is a no-op success.
func (r *Registry) Subscribe(ctx context.Context, sub Subscription) error {
	key := sub.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sent[key] {
		return nil
	}

	if _, known := r.desired[key]; !known {
		if r.maxSubs > 0 && len(r.desired) >= r.maxSubs {
			return core.ErrSubscriptionLimit
		}
	}

	if r.msgTracker != nil {
		if err := r.msgTracker.TryConsume(1); err != nil {
			rle := err.(*ratelimit.RateLimitError)
			rle.Dimension = ratelimit.DimensionMessages
			return rle
		}
	}

	payload, err := r.encoder.EncodeSubscribe(sub)
	if err != nil {
		r.refundMessage()
		return err
	}
	if err := r.conn.Send(ctx, payload); err != nil {
		r.refundMessage()
		return err
	}

	if _, known := r.desired[key]; !known {
		r.desired[key] = sub
		r.order = append(r.order, key)
	}
	r.sent[key] = true

	r.logger.Debug().Str("subscription", key).Msg("subscribed")
	return nil
}

// Unsubscribe removes the subscription from the desired set and sends
// the unsubscribe command if the connection is up. Unsubscribing a
// subscription that was never added is a no-op success.
func (r *Registry) Unsubscribe(ctx context.Context, sub Subscription) error {
	key := sub.Key()

	r.mu.Lock()
	_, known := r.desired[key]
	if known {
		delete(r.desired, key)
		delete(r.sent, key)
		for i, k := range r.order {
			if k == key {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !known {
		return nil
	}

	r.logger.Debug().Str("subscription", key).Msg("unsubscribed")

	if !r.conn.IsConnected() {
		// The transport-side subscription died with the connection.
		return nil
	}

	payload, err := r.encoder.EncodeUnsubscribe(sub)
	if err != nil {
		return err
	}
	return r.conn.Send(ctx, payload)
}

// Replay reissues subscribe commands for every desired subscription, in
// the order they were originally added. Call it after a reconnect. The
// ordering matters only for readable logs; channels are independent. If
// the message-rate ceiling rejects partway through, the remaining
// subscriptions stay unsent and the error is returned; a later Replay
// picks them up.
func (r *Registry) Replay(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.order {
		if r.sent[key] {
			continue
		}
		sub := r.desired[key]

		if r.msgTracker != nil {
			if err := r.msgTracker.TryConsume(1); err != nil {
				rle := err.(*ratelimit.RateLimitError)
				rle.Dimension = ratelimit.DimensionMessages
				return rle
			}
		}

		payload, err := r.encoder.EncodeSubscribe(sub)
		if err != nil {
			r.refundMessage()
			return err
		}
		if err := r.conn.Send(ctx, payload); err != nil {
			r.refundMessage()
			return err
		}

		r.sent[key] = true
		r.logger.Debug().Str("subscription", key).Msg("replayed subscription")
	}
	return nil
}

// Clear drops the transport-side bookkeeping after an unexpected
// disconnect: every desired subscription is marked unsent so the next
// Replay starts from a known-empty server-side set, while the desired
// set itself is preserved.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = make(map[string]bool)
}

// AdmitConnect gates a connection attempt against the
// connects-per-window ceiling. The reconnecting supervisor consults it
// before calling Connect.
func (r *Registry) AdmitConnect() error {
	if r.connTracker == nil {
		return nil
	}
	if err := r.connTracker.TryConsume(1); err != nil {
		rle := err.(*ratelimit.RateLimitError)
		rle.Dimension = ratelimit.DimensionConnections
		return rle
	}
	return nil
}

// Active returns the desired subscriptions in the order they were added.
func (r *Registry) Active() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]Subscription, 0, len(r.order))
	for _, key := range r.order {
		subs = append(subs, r.desired[key])
	}
	return subs
}

// Len returns the number of desired subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.desired)
}

func (r *Registry) refundMessage() {
	if r.msgTracker != nil {
		r.msgTracker.Refund(1)
	}
}
