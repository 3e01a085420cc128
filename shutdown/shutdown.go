// Package shutdown coordinates ordered teardown of the session stack.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Common errors.
var (
	ErrTimeout       = errors.New("shutdown timeout exceeded")
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Handler is one teardown step.
type Handler func(ctx context.Context) error

// Well-known phases, lowest first. Consumers stop before the bridge so
// in-flight sends drain into the store; the store and transports go
// last.
const (
	PhaseConsumer  = 10
	PhaseBridge    = 20
	PhaseTransport = 30
	PhaseStorage   = 40
)

// Coordinator runs registered handlers in phase order on shutdown.
// Handlers within a phase run concurrently; phases run sequentially.
type Coordinator struct {
	timeout time.Duration

	mu       sync.Mutex
	handlers []registration

	once       sync.Once
	done       chan struct{}
	err        error
	signalChan chan os.Signal
}

type registration struct {
	name    string
	phase   int
	handler Handler
}

// NewCoordinator creates a Coordinator. A zero timeout defaults to 30s.
func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		timeout:    timeout,
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// Register adds a handler to run in the given phase.
func (c *Coordinator) Register(name string, phase int, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, handler: handler})
}

// Shutdown runs all handlers once. Later calls return the first result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.signalChan
		c.ShutdownWithTimeout()
	}()
}

// Trigger initiates shutdown as if a signal arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown outcome; only valid after Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var overallErr error
	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			return ErrTimeout
		default:
		}

		if err := runPhase(ctx, handlers[start:end]); err != nil && overallErr == nil {
			overallErr = ErrHandlerFailed
		}
		start = end
	}
	return overallErr
}

// runPhase runs one phase's handlers concurrently and collects the
// first failure.
func runPhase(ctx context.Context, handlers []registration) error {
	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()
			errs[idx] = r.handler(ctx)
		}(i, reg)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
