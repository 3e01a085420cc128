package bridge

import (
	"github.com/agentwire/agentwire/bus"
	"github.com/agentwire/agentwire/history"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/protocol"
)

const defaultRelayBuffer = 64

// relay decouples the sub-agent progress callback from bus emission: a
// bounded queue feeds a single drain goroutine, so slow transports
// apply backpressure to the sub-agent loop instead of reordering its
// stream. Every enqueued update becomes one agent.progress event, in
// order; branch messages are persisted before emission.
type relay struct {
	bus   *bus.Bus
	store history.Store
	index *history.SearchIndex
	log   *logging.Logger

	ch      chan relayItem
	drained chan struct{}
}

type relayItem struct {
	progress protocol.AgentProgress
	// barrier, when non-nil, marks a flush point: the drain goroutine
	// closes it once every earlier item has been emitted.
	barrier chan struct{}
}

func newRelay(b *bus.Bus, store history.Store, index *history.SearchIndex, log *logging.Logger, buffer int) *relay {
	return &relay{
		bus:     b,
		store:   store,
		index:   index,
		log:     log,
		ch:      make(chan relayItem, buffer),
		drained: make(chan struct{}),
	}
}

func (r *relay) start() {
	go r.drain()
}

// enqueue hands a progress update to the drain goroutine, blocking when
// the queue is full.
func (r *relay) enqueue(p protocol.AgentProgress) {
	r.ch <- relayItem{progress: p}
}

// flush blocks until everything enqueued so far has been emitted.
func (r *relay) flush() {
	barrier := make(chan struct{})
	r.ch <- relayItem{barrier: barrier}
	<-barrier
}

// stop ends the drain goroutine after the queue empties. No enqueue or
// flush may follow.
func (r *relay) stop() {
	close(r.ch)
	<-r.drained
}

func (r *relay) drain() {
	defer close(r.drained)

	for item := range r.ch {
		if item.barrier != nil {
			close(item.barrier)
			continue
		}

		p := item.progress
		if p.Message != nil {
			if err := r.store.Append(*p.Message); err != nil {
				r.log.Error("branch append failed", map[string]interface{}{
					"session": p.SessionID,
					"uuid":    p.Message.UUID,
					"error":   err.Error(),
				})
			} else if r.index != nil {
				if err := r.index.Index(*p.Message); err != nil {
					r.log.Warn("branch index failed", map[string]interface{}{
						"uuid":  p.Message.UUID,
						"error": err.Error(),
					})
				}
			}
		}

		if err := r.bus.EmitEvent(protocol.EventProgress, &p); err != nil {
			r.log.Warn("progress emission failed", map[string]interface{}{
				"session": p.SessionID,
				"agentId": p.AgentID,
				"error":   err.Error(),
			})
		}
	}
}
