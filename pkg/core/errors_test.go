package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransportError(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewTransportError("dial", "wss://stream.example.com/ws", inner)

	assert.Contains(t, err.Error(), "dial")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, inner)

	assert.True(t, IsTransportError(err))
	assert.True(t, IsTransportError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsTransportError(inner))
}

func TestDecodeError(t *testing.T) {
	inner := errors.New("unexpected token")
	err := &DecodeError{
		Raw:        []byte(`{broken`),
		Err:        inner,
		ReceivedAt: time.Now(),
	}

	assert.Contains(t, err.Error(), "7 bytes")
	assert.ErrorIs(t, err, inner)

	assert.True(t, IsDecodeError(err))
	assert.False(t, IsDecodeError(inner))
	assert.False(t, IsTransportError(err))
}

func TestSentinelErrors(t *testing.T) {
	assert.EqualError(t, ErrNotConnected, "websocket not connected")
	assert.EqualError(t, ErrClientClosed, "client is closed")
	assert.EqualError(t, ErrCircuitOpen, "circuit breaker is open")
	assert.EqualError(t, ErrSubscriptionLimit, "subscription limit reached")
}
