package ratelimit

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Limit declares one dimension the limiter enforces, with the optional
// response header on which the venue reports authoritative usage.
type Limit struct {
	Dimension Dimension
	Max       int64
	Window    time.Duration
	Header    string
}

// Limiter is the admission-control gate for one venue/account. Every
// REST call checks all of its cost dimensions here before dispatch and
// records the venue's usage headers afterward. One Limiter is shared by
// all in-flight requests for a venue; construct it explicitly and pass
// it in. It is never a process-wide singleton, so multiple accounts on
// the same venue stay independent.
type Limiter struct {
	venue    string
	mu       sync.Mutex
	trackers map[Dimension]*WindowTracker
	headers  map[string]Dimension
	logger   zerolog.Logger
	metrics  *Metrics
}

// Metrics tracks admission statistics for a limiter.
type Metrics struct {
	checks     atomic.Int64
	admitted   atomic.Int64
	rejected   atomic.Int64
	reconciles atomic.Int64
}

// MetricsSnapshot is a point-in-time capture of limiter statistics.
type MetricsSnapshot struct {
	// Checks is the total number of admission checks performed.
	Checks int64
	// Admitted is the number of checks that passed every dimension.
	Admitted int64
	// Rejected is the number of checks refused by at least one dimension.
	Rejected int64
	// Reconciles is the number of server usage reports applied.
	Reconciles int64
}

// New creates a Limiter for the given venue enforcing the given limits.
func New(venue string, limits []Limit) *Limiter {
	l := &Limiter{
		venue:    venue,
		trackers: make(map[Dimension]*WindowTracker, len(limits)),
		headers:  make(map[string]Dimension),
		logger:   zerolog.Nop(),
		metrics:  &Metrics{},
	}
	for _, lim := range limits {
		l.trackers[lim.Dimension] = NewWindowTracker(lim.Max, lim.Window)
		if lim.Header != "" {
			l.headers[http.CanonicalHeaderKey(lim.Header)] = lim.Dimension
		}
	}
	return l
}

// SetLogger configures the logger for the limiter.
func (l *Limiter) SetLogger(logger zerolog.Logger) {
	l.logger = logger
}

// Check attempts to admit a request consuming the given cost. Every
// listed dimension must admit; if any rejects, dimensions already
// consumed by this call are refunded, so one exhausted dimension never
// silently burns another dimension's budget. Dimensions with no
// configured tracker are ignored. A nil return means the request may be
// dispatched; the network call happens strictly after Check returns and
// outside the limiter's lock.
func (l *Limiter) Check(cost Cost) error {
	l.metrics.checks.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()

	dims := make([]Dimension, 0, len(cost))
	for dim := range cost {
		if _, ok := l.trackers[dim]; ok {
			dims = append(dims, dim)
		}
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })

	consumed := make([]Dimension, 0, len(dims))
	for _, dim := range dims {
		if err := l.trackers[dim].TryConsume(cost[dim]); err != nil {
			for _, prev := range consumed {
				l.trackers[prev].Refund(cost[prev])
			}
			l.metrics.rejected.Add(1)

			rle := err.(*RateLimitError)
			rle.Dimension = dim
			l.logger.Debug().
				Str("venue", l.venue).
				Str("dimension", dim.String()).
				Dur("retry_after", rle.RetryAfter).
				Bool("permanent", rle.Permanent).
				Msg("admission rejected")
			return rle
		}
		consumed = append(consumed, dim)
	}

	l.metrics.admitted.Add(1)
	return nil
}

// RecordResponse extracts venue-reported usage from response headers and
// reconciles the matching trackers. Venues that report aggregate usage
// across all API keys on an account are treated as authoritative
// regardless of what this process believes it has consumed.
func (l *Limiter) RecordResponse(headers http.Header, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, dim := range l.headers {
		raw := headers.Get(name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			l.logger.Warn().
				Str("venue", l.venue).
				Str("header", name).
				Str("value", raw).
				Msg("unparseable usage header")
			continue
		}

		l.trackers[dim].Reconcile(value, at)
		l.metrics.reconciles.Add(1)
		l.logger.Debug().
			Str("venue", l.venue).
			Str("dimension", dim.String()).
			Int64("server_value", value).
			Msg("reconciled usage")
	}
}

// Used returns the current consumption of one dimension, or zero if the
// dimension is not tracked.
func (l *Limiter) Used(dim Dimension) int64 {
	l.mu.Lock()
	t, ok := l.trackers[dim]
	l.mu.Unlock()
	if ok {
		return t.Used()
	}
	return 0
}

// Remaining returns the capacity left for one dimension, or zero if the
// dimension is not tracked.
func (l *Limiter) Remaining(dim Dimension) int64 {
	l.mu.Lock()
	t, ok := l.trackers[dim]
	l.mu.Unlock()
	if ok {
		return t.Remaining()
	}
	return 0
}

// SetLimit adjusts the maximum and window for one dimension, creating
// the tracker if it does not exist yet.
func (l *Limiter) SetLimit(dim Dimension, max int64, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.trackers[dim]; ok {
		t.SetLimit(max, window)
		return
	}
	l.trackers[dim] = NewWindowTracker(max, window)
}

// Metrics returns a snapshot of the limiter's admission statistics.
func (l *Limiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Checks:     l.metrics.checks.Load(),
		Admitted:   l.metrics.admitted.Load(),
		Rejected:   l.metrics.rejected.Load(),
		Reconciles: l.metrics.reconciles.Load(),
	}
}
