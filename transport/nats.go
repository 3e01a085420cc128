package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATS implements Transport as a point-to-point duplex channel over a pair
// of NATS subjects. Two endpoints form a duplex link when one's send
// subject is the other's receive subject. NATS preserves per-subject
// publish order for a single connection, which satisfies the in-order
// delivery contract.
type NATS struct {
	conn        *nats.Conn
	ownsConn    bool
	sendSubject string
	sub         *nats.Subscription

	in     chan json.RawMessage // filled by the subscription handler
	recv   chan json.RawMessage
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NATSOptions configures a NATS transport endpoint.
type NATSOptions struct {
	// URL of the NATS server. Ignored when Conn is set.
	URL string

	// Conn is an existing connection to reuse. The transport will not
	// close a borrowed connection.
	Conn *nats.Conn

	// SendSubject is the subject frames are published to.
	SendSubject string

	// RecvSubject is the subject frames are received from.
	RecvSubject string

	// Config holds buffer sizes.
	Config Config
}

// NewNATS creates a NATS transport endpoint. The receive pump starts
// immediately; Run only blocks until shutdown.
func NewNATS(opts NATSOptions) (*NATS, error) {
	cfg := opts.Config.applyDefaults()

	conn := opts.Conn
	ownsConn := false
	if conn == nil {
		url := opts.URL
		if url == "" {
			url = nats.DefaultURL
		}
		var err error
		conn, err = nats.Connect(url)
		if err != nil {
			return nil, err
		}
		ownsConn = true
	}

	t := &NATS{
		conn:        conn,
		ownsConn:    ownsConn,
		sendSubject: opts.SendSubject,
		in:          make(chan json.RawMessage, cfg.SendBufferSize),
		recv:        make(chan json.RawMessage, cfg.RecvBufferSize),
		done:        make(chan struct{}),
	}

	sub, err := conn.Subscribe(opts.RecvSubject, t.onMessage)
	if err != nil {
		if ownsConn {
			conn.Close()
		}
		return nil, err
	}
	t.sub = sub

	go t.pump()

	return t, nil
}

// onMessage forwards an incoming NATS message toward the pump. Called by
// the connection's single delivery goroutine, so order is preserved. The
// in channel is never closed, so this cannot race shutdown.
func (t *NATS) onMessage(msg *nats.Msg) {
	frame := make(json.RawMessage, len(msg.Data))
	copy(frame, msg.Data)

	select {
	case t.in <- frame:
	case <-t.done:
	}
}

// pump moves frames from the handler channel to recv and closes recv on
// shutdown.
func (t *NATS) pump() {
	for {
		select {
		case frame := <-t.in:
			select {
			case t.recv <- frame:
			case <-t.done:
				close(t.recv)
				return
			}
		case <-t.done:
			close(t.recv)
			return
		}
	}
}

// Recv returns the channel for incoming frames.
func (t *NATS) Recv() <-chan json.RawMessage {
	return t.recv
}

// Send publishes a frame to the send subject.
func (t *NATS) Send(frame json.RawMessage) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	return t.conn.Publish(t.sendSubject, frame)
}

// Run blocks until the transport is closed or ctx is cancelled.
func (t *NATS) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	case <-t.done:
		return nil
	}
}

// Close unsubscribes and tears down the endpoint. Idempotent.
func (t *NATS) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.sub.Unsubscribe()
	close(t.done)
	if t.ownsConn {
		t.conn.Close()
	}
	return nil
}
