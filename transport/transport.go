package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Common errors.
var (
	// ErrClosed indicates the transport has been closed on either side.
	ErrClosed = errors.New("transport closed")
)

// Transport is a point-to-point duplex channel for opaque frames.
// Frames sent on one endpoint are observable, in order, on its peer.
// The transport has no knowledge of frame semantics; the bus owns framing.
type Transport interface {
	// Recv returns the channel for incoming frames.
	// The channel is closed when the transport shuts down (end-of-stream).
	// Exactly one active reader per endpoint.
	Recv() <-chan json.RawMessage

	// Send queues a frame for delivery to the peer.
	// Returns ErrClosed if the transport is closed on either side.
	Send(frame json.RawMessage) error

	// Run starts the transport, blocking until ctx is cancelled or the
	// transport closes. Endpoints that need no pump return promptly on
	// close.
	Run(ctx context.Context) error

	// Close initiates shutdown. Idempotent. After close, Send fails with
	// ErrClosed on both endpoints and pending reads observe end-of-stream.
	Close() error
}

// Config holds common transport configuration.
type Config struct {
	// RecvBufferSize is the size of the receive channel buffer.
	// Default: 100
	RecvBufferSize int

	// SendBufferSize is the size of the internal send buffer.
	// Default: 100
	SendBufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 100,
		SendBufferSize: 100,
	}
}

// applyDefaults fills zero-valued fields from DefaultConfig.
func (c Config) applyDefaults() Config {
	def := DefaultConfig()
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = def.RecvBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	return c
}
