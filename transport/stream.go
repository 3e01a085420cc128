package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/agentwire/agentwire/logging"
)

// maxLineBytes bounds a single newline-delimited frame.
const maxLineBytes = 1024 * 1024

// Stream implements Transport over an io.Reader/io.Writer pair using
// newline-delimited JSON frames. It is the process-boundary endpoint:
// wire stdin/stdout of a child process (or any duplex byte stream) and it
// is interchangeable with an in-process Pair from the bus's point of view.
type Stream struct {
	reader io.Reader
	writer io.Writer
	config Config
	log    *logging.Logger

	recv   chan json.RawMessage
	send   chan json.RawMessage
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewStream creates a stream transport over r and w.
func NewStream(r io.Reader, w io.Writer, cfg Config) *Stream {
	cfg = cfg.applyDefaults()

	return &Stream{
		reader: r,
		writer: w,
		config: cfg,
		log:    logging.Default().WithComponent("transport"),
		recv:   make(chan json.RawMessage, cfg.RecvBufferSize),
		send:   make(chan json.RawMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// Recv returns the channel for incoming frames.
func (t *Stream) Recv() <-chan json.RawMessage {
	return t.recv
}

// Send queues a frame for delivery.
func (t *Stream) Send(frame json.RawMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the read and write loops, blocking until ctx is cancelled or
// the underlying reader reaches EOF.
func (t *Stream) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.readLoop(ctx)
	}()

	go func() {
		defer wg.Done()
		t.writeLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		t.Close()
		wg.Wait()
		return ctx.Err()
	case <-t.done:
		wg.Wait()
		return nil
	}
}

// Close initiates graceful shutdown. Idempotent.
func (t *Stream) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	return nil
}

// readLoop reads newline-delimited frames into the recv channel.
func (t *Stream) readLoop(ctx context.Context) {
	defer close(t.recv)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, maxLineBytes), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Scanner reuses its buffer; copy before handing off.
		frame := make(json.RawMessage, len(line))
		copy(frame, line)

		select {
		case t.recv <- frame:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}

	// EOF from the peer: the transport is closed from the remote side.
	t.Close()
}

// writeLoop drains the send channel, one frame per line.
func (t *Stream) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.drainSendQueue()
			return
		case <-t.done:
			t.drainSendQueue()
			return
		case frame := <-t.send:
			t.writeFrame(frame)
		}
	}
}

// drainSendQueue flushes frames queued before shutdown.
func (t *Stream) drainSendQueue() {
	for {
		select {
		case frame := <-t.send:
			t.writeFrame(frame)
		default:
			return
		}
	}
}

// writeFrame writes a single frame followed by a newline. A failed
// write loses the frame; the peer sees a gap, not a torn line.
func (t *Stream) writeFrame(frame json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.Write(append(frame, '\n')); err != nil {
		t.log.Warn("frame write failed", map[string]interface{}{"error": err.Error()})
	}
}
