package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitError reports a rejected admission attempt. RetryAfter tells
// the caller how long until the window resets; the limiter itself never
// sleeps or retries. Permanent means the requested amount can never be
// admitted because it exceeds the dimension's maximum: a configuration
// or usage error, not something to wait out.
type RateLimitError struct {
	Dimension  Dimension
	RetryAfter time.Duration
	Permanent  bool
}

func (e *RateLimitError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("rate limit %s: cost exceeds window maximum", e.Dimension)
	}
	return fmt.Sprintf("rate limit %s: exceeded, retry after %s", e.Dimension, e.RetryAfter)
}

// WindowTracker counts usage of one quota dimension within a fixed time
// window. Fixed windows are used rather than sliding ones: they need O(1)
// memory and match how venues document their limits. The client-side
// count is best effort, since other processes may share the venue quota;
// the server report fed through Reconcile stays authoritative.
type WindowTracker struct {
	mu            sync.Mutex
	max           int64
	window        time.Duration
	used          int64
	windowStart   time.Time
	lastReconcile time.Time

	now func() time.Time
}

// NewWindowTracker creates a tracker admitting at most max units per window.
func NewWindowTracker(max int64, window time.Duration) *WindowTracker {
	t := &WindowTracker{
		max:    max,
		window: window,
		now:    time.Now,
	}
	t.windowStart = t.now()
	return t
}

// rollOver resets the count when the current window has elapsed.
// Callers must hold t.mu.
func (t *WindowTracker) rollOver(now time.Time) {
	if now.Sub(t.windowStart) >= t.window {
		t.used = 0
		t.windowStart = now
	}
}

// TryConsume attempts to admit amount units against the current window.
// The check and the reservation happen under one lock acquisition, so a
// concurrent or cancelled caller can never observe a half-applied
// consumption. A nil return means admitted.
func (t *WindowTracker) TryConsume(amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount > t.max {
		return &RateLimitError{Permanent: true}
	}

	now := t.now()
	t.rollOver(now)

	if t.used+amount > t.max {
		return &RateLimitError{
			RetryAfter: t.windowStart.Add(t.window).Sub(now),
		}
	}

	t.used += amount
	return nil
}

// Refund reverses a tentative consumption. The limiter uses it to roll
// back dimensions that admitted when a later dimension in the same check
// rejected.
func (t *WindowTracker) Refund(amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.used -= amount
	if t.used < 0 {
		t.used = 0
	}
}

// Reconcile overwrites the local count with a server-reported value.
// Reports older than the last applied reconciliation are dropped: with
// many requests in flight, response headers can arrive out of order, and
// a stale report must never move the count backward.
func (t *WindowTracker) Reconcile(serverValue int64, reportedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !reportedAt.After(t.lastReconcile) {
		return
	}

	t.rollOver(t.now())
	t.used = serverValue
	t.lastReconcile = reportedAt
}

// Used returns the consumption counted against the current window.
func (t *WindowTracker) Used() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollOver(t.now())
	return t.used
}

// Remaining returns the capacity left in the current window.
func (t *WindowTracker) Remaining() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollOver(t.now())
	if t.used >= t.max {
		return 0
	}
	return t.max - t.used
}

// SetLimit replaces the tracker's maximum and window duration. The
// current count is kept so a mid-window adjustment cannot be used to
// dodge already-consumed quota.
func (t *WindowTracker) SetLimit(max int64, window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.max = max
	t.window = window
}
