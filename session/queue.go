package session

import "sync"

// queue is the unbounded, strictly ordered hand-off between bus event
// callbacks and the consumer's receive channel. Callbacks never block;
// the consumer pulls at its own pace.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Item
	closed bool

	out  chan Item
	done chan struct{}
}

func newQueue() *queue {
	q := &queue{
		out:  make(chan Item),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// push appends an item. Items pushed after close are dropped.
func (q *queue) push(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// close ends the stream. The out channel closes once the pump stops;
// items the consumer never pulled are dropped.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	q.cond.Signal()
}

func (q *queue) pump() {
	defer close(q.out)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- item:
		case <-q.done:
			return
		}
	}
}
