package core

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"venuecore/pkg/ratelimit"
)

// LimitRule declares one quota dimension enforced for a venue, together
// with the response header (if any) on which the venue reports its own
// view of current usage.
type LimitRule struct {
	Dimension ratelimit.Dimension `json:"dimension"`
	Max       int64               `json:"max" validate:"min=1"`
	Window    time.Duration       `json:"window" validate:"min=1ms"`
	// Header is the response header carrying the server-reported usage
	// for this dimension, e.g. "X-MBX-USED-WEIGHT-1M". Empty means the
	// venue does not report it and local estimates stand.
	Header string `json:"header,omitempty"`
}

// Config contains all configuration options for one venue client:
// endpoints, request governance limits, and streaming settings.
type Config struct {
	Venue       string `json:"venue" validate:"required"`
	RESTBaseURL string `json:"rest_base_url" validate:"omitempty,url"`
	WSURL       string `json:"ws_url" validate:"omitempty,url"`

	// Timeout is the maximum duration for HTTP requests.
	Timeout time.Duration     `json:"timeout" validate:"min=1ms"`
	Headers map[string]string `json:"headers,omitempty"`

	// Limits are the quota dimensions enforced before every REST dispatch.
	Limits []LimitRule `json:"limits" validate:"dive"`

	// MaxSubscriptions caps concurrent channel subscriptions per connection.
	MaxSubscriptions int `json:"max_subscriptions" validate:"min=0"`
	// SubscribeMessages / SubscribeWindow cap how many subscribe commands
	// may be sent per window.
	SubscribeMessages int64         `json:"subscribe_messages" validate:"min=0"`
	SubscribeWindow   time.Duration `json:"subscribe_window" validate:"min=0"`
	// ConnectAttempts / ConnectWindow cap connection attempts per window.
	ConnectAttempts int64         `json:"connect_attempts" validate:"min=0"`
	ConnectWindow   time.Duration `json:"connect_window" validate:"min=0"`

	PingInterval time.Duration `json:"ping_interval" validate:"min=0"`
	PongWait     time.Duration `json:"pong_wait" validate:"min=0"`
	EventBuffer  int           `json:"event_buffer" validate:"min=0"`
	// SendPerSecond paces outbound websocket writes; 0 disables pacing.
	SendPerSecond float64 `json:"send_per_second" validate:"min=0"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with sensible defaults for
// the specified venue: 10s timeout, a 1200 weight/min limit table,
// 200 subscriptions, 5 subscribe msgs/sec, 300 connects per 5 minutes.
func DefaultConfig(venue string) *Config {
	return &Config{
		Venue:   venue,
		Timeout: 10 * time.Second,

		Limits: []LimitRule{
			{Dimension: ratelimit.DimensionWeight, Max: 1200, Window: time.Minute},
			{Dimension: ratelimit.DimensionRawRequests, Max: 6000, Window: 5 * time.Minute},
		},

		MaxSubscriptions:  200,
		SubscribeMessages: 5,
		SubscribeWindow:   time.Second,
		ConnectAttempts:   300,
		ConnectWindow:     5 * time.Minute,

		PingInterval: 10 * time.Second,
		PongWait:     20 * time.Second,
		EventBuffer:  256,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		LogLevel: "info",
	}
}

// NewLimiter constructs the venue's rate limiter from the config's
// limit table. One limiter instance must be shared by all REST traffic
// for the venue/account.
func (c *Config) NewLimiter() *ratelimit.Limiter {
	limits := make([]ratelimit.Limit, 0, len(c.Limits))
	for _, rule := range c.Limits {
		limits = append(limits, ratelimit.Limit{
			Dimension: rule.Dimension,
			Max:       rule.Max,
			Window:    rule.Window,
			Header:    rule.Header,
		})
	}
	return ratelimit.New(c.Venue, limits)
}

var validate = validator.New()

func (c *Config) Validate() error {
	return validate.Struct(c)
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithLimit appends a quota dimension rule and returns the config for chaining.
func (c *Config) WithLimit(rule LimitRule) *Config {
	c.Limits = append(c.Limits, rule)
	return c
}

// WithEndpoints sets the REST and websocket endpoints and returns the
// config for chaining.
func (c *Config) WithEndpoints(restURL, wsURL string) *Config {
	c.RESTBaseURL = restURL
	c.WSURL = wsURL
	return c
}

// WithSubscriptionCeilings sets the streaming admission ceilings and
// returns the config for chaining.
func (c *Config) WithSubscriptionCeilings(maxSubs int, msgs int64, window time.Duration) *Config {
	c.MaxSubscriptions = maxSubs
	c.SubscribeMessages = msgs
	c.SubscribeWindow = window
	return c
}

// FromEnv loads a .env file if present and applies environment overrides
// on top of DefaultConfig. Recognized variables, given prefix "BINANCE":
// BINANCE_REST_URL, BINANCE_WS_URL, BINANCE_TIMEOUT_MS, BINANCE_LOG_LEVEL.
func FromEnv(venue, prefix string) *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig(venue)
	if v := os.Getenv(prefix + "_REST_URL"); v != "" {
		cfg.RESTBaseURL = v
	}
	if v := os.Getenv(prefix + "_WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv(prefix + "_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv(prefix + "_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}
