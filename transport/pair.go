package transport

import (
	"context"
	"encoding/json"
	"sync"
)

// PairEndpoint is one side of an in-process transport pair.
// Frames sent on one endpoint arrive, in order, on the other.
type PairEndpoint struct {
	in   chan json.RawMessage // frames addressed to this endpoint
	recv chan json.RawMessage
	peer *PairEndpoint

	done      chan struct{} // shared between both endpoints
	closeOnce *sync.Once    // shared: close on either side closes both
}

// Pair returns two cross-wired in-process endpoints. Closing either side
// closes both: sends fail with ErrClosed and both Recv channels reach
// end-of-stream. The pumps start immediately; Run only blocks until
// shutdown.
func Pair(cfg Config) (*PairEndpoint, *PairEndpoint) {
	cfg = cfg.applyDefaults()

	done := make(chan struct{})
	once := &sync.Once{}

	a := &PairEndpoint{
		in:        make(chan json.RawMessage, cfg.SendBufferSize),
		recv:      make(chan json.RawMessage, cfg.RecvBufferSize),
		done:      done,
		closeOnce: once,
	}
	b := &PairEndpoint{
		in:        make(chan json.RawMessage, cfg.SendBufferSize),
		recv:      make(chan json.RawMessage, cfg.RecvBufferSize),
		done:      done,
		closeOnce: once,
	}
	a.peer, b.peer = b, a

	go a.pump()
	go b.pump()

	return a, b
}

// pump forwards inbound frames to the recv channel until shutdown.
// Senders write only to the never-closed in channel, so closing recv
// here cannot race a send.
func (e *PairEndpoint) pump() {
	for {
		select {
		case frame := <-e.in:
			select {
			case e.recv <- frame:
			case <-e.done:
				close(e.recv)
				return
			}
		case <-e.done:
			close(e.recv)
			return
		}
	}
}

// Recv returns the channel for incoming frames.
func (e *PairEndpoint) Recv() <-chan json.RawMessage {
	return e.recv
}

// Send delivers a frame to the peer endpoint.
func (e *PairEndpoint) Send(frame json.RawMessage) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	select {
	case e.peer.in <- frame:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

// Run blocks until the pair is closed or ctx is cancelled.
func (e *PairEndpoint) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		e.Close()
		return ctx.Err()
	case <-e.done:
		return nil
	}
}

// Close shuts down both endpoints of the pair. Idempotent.
func (e *PairEndpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	return nil
}
