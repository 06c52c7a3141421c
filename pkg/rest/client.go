package rest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"venuecore/internal/circuitbreaker"
	"venuecore/pkg/core"
	"venuecore/pkg/ratelimit"
)

// Client is a governed HTTP client for one venue. Every request passes
// the circuit breaker and the venue's rate limiter before it touches the
// network, and the limiter is reconciled from the response headers
// afterward. Locally rate-limited requests are rejected before any
// network call is made; the returned RateLimitError carries the
// retry-after for the caller's own backoff. This client never sleeps or
// retries.
type Client struct {
	http    *resty.Client
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// RequestOption customizes one request.
type RequestOption func(*resty.Request)

// NewClient builds a governed client from the venue config and the
// venue's shared limiter. The limiter is passed in, not constructed
// here: all REST traffic for one venue/account must flow through the
// same instance.
func NewClient(cfg *core.Config, limiter *ratelimit.Limiter) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.RESTBaseURL)
	httpClient.SetTimeout(cfg.Timeout)
	httpClient.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	httpClient.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})
	for k, v := range cfg.Headers {
		httpClient.SetHeader(k, v)
	}

	c := &Client{
		http:    httpClient,
		limiter: limiter,
		logger:  zerolog.Nop(),
	}

	if cfg.CircuitBreakerEnabled {
		c.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    cfg.CircuitBreakerFailThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	httpClient.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		c.logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})
	httpClient.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Msg("http response")
		return nil
	})

	return c, nil
}

// SetLogger configures the logger for the client.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Do dispatches one request charged at the given cost. The admission
// check happens strictly before the network call and outside any lock
// held across it; the response headers feed back into the limiter.
func (c *Client) Do(ctx context.Context, method, path string, cost ratelimit.Cost, opts ...RequestOption) (*resty.Response, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, core.ErrClientClosed
	}

	if c.breaker != nil && !c.breaker.Allow() {
		return nil, core.ErrCircuitOpen
	}

	if err := c.limiter.Check(cost); err != nil {
		return nil, err
	}

	req := c.http.R().SetContext(ctx)
	for _, opt := range opts {
		opt(req)
	}

	resp, err := req.Execute(method, path)
	if c.breaker != nil {
		c.breaker.Record(err == nil && resp != nil && !resp.IsError())
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.limiter.RecordResponse(resp.Header(), time.Now())
	return resp, nil
}

// Get issues a governed GET request.
func (c *Client) Get(ctx context.Context, path string, cost ratelimit.Cost, opts ...RequestOption) (*resty.Response, error) {
	return c.Do(ctx, "GET", path, cost, opts...)
}

// Post issues a governed POST request.
func (c *Client) Post(ctx context.Context, path string, cost ratelimit.Cost, body any, opts ...RequestOption) (*resty.Response, error) {
	opts = append([]RequestOption{func(r *resty.Request) { r.SetBody(body) }}, opts...)
	return c.Do(ctx, "POST", path, cost, opts...)
}

// Delete issues a governed DELETE request.
func (c *Client) Delete(ctx context.Context, path string, cost ratelimit.Cost, opts ...RequestOption) (*resty.Response, error) {
	return c.Do(ctx, "DELETE", path, cost, opts...)
}

// Limiter returns the venue limiter this client dispatches through.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.http.Close()
}

// WithHeader sets one request header.
func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

// WithQueryParams sets request query parameters.
func WithQueryParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParams(params)
	}
}

// WithResult sets the value the response body is decoded into.
func WithResult(res any) RequestOption {
	return func(r *resty.Request) {
		r.SetResult(res)
	}
}
