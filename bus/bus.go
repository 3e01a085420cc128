package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/agentwire/agentwire/errors"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/telemetry"
	"github.com/agentwire/agentwire/transport"
)

// Handler processes a named request and returns a result to be marshaled
// into the response frame.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// EventFunc receives the raw params of a push event.
type EventFunc func(params json.RawMessage)

// Bus is a per-endpoint façade over a Transport. It offers named-handler
// request/response and named pub/sub push events. One Bus owns each
// endpoint's single reader.
type Bus struct {
	tr  transport.Transport
	log *logging.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	subs     map[string][]*Subscription

	pendingMu sync.Mutex
	pending   map[uint64]chan *Response

	nextID    atomic.Uint64
	nextSubID atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
}

// Subscription is an active event subscription.
type Subscription struct {
	bus   *Bus
	name  string
	id    uint64
	fn    EventFunc
	once  sync.Once
}

// Unsubscribe cancels the subscription. Idempotent. After return, the
// callback will not be invoked again.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.removeSubscription(s)
	})
}

// New creates a Bus over the given transport and starts its dispatch
// loop. The bus becomes the endpoint's single reader.
func New(tr transport.Transport) *Bus {
	b := &Bus{
		tr:       tr,
		log:      logging.Default().WithComponent("bus"),
		handlers: make(map[string]Handler),
		subs:     make(map[string][]*Subscription),
		pending:  make(map[uint64]chan *Response),
		done:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// RegisterHandler binds a request name to a handler. One handler per name
// per endpoint; re-registration fails with a handler-conflict error.
func (b *Bus) RegisterHandler(name string, fn Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[name]; exists {
		return errors.FromCode(errors.ErrCodeHandlerConflict, errors.WithSubject(name))
	}
	b.handlers[name] = fn
	return nil
}

// Request sends a correlated request and suspends the calling goroutine
// until the strictly-id-matched response arrives, ctx is done, or the
// transport closes. Out-of-order responses are supported.
func (b *Bus) Request(ctx context.Context, name string, params interface{}) (json.RawMessage, error) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartRequestSpan(ctx, name)
	result, err := b.request(ctx, name, params)
	tracer.EndRequestSpan(span, err)
	return result, err
}

func (b *Bus) request(ctx context.Context, name string, params interface{}) (json.RawMessage, error) {
	if b.closed.Load() {
		return nil, errors.FromCode(errors.ErrCodeTransportClosed, errors.WithSubject(name))
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "marshaling request params", errors.WithSubject(name))
	}

	id := b.nextID.Add(1)
	ch := make(chan *Response, 1)

	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()

	frame, err := marshalFrame(Request{JSONRPC: "2.0", ID: id, Method: name, Params: raw})
	if err == nil {
		err = b.tr.Send(frame)
	}
	if err != nil {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
		if err == transport.ErrClosed {
			return nil, errors.FromCode(errors.ErrCodeTransportClosed, errors.WithSubject(name))
		}
		return nil, errors.Wrap(err, "sending request", errors.WithSubject(name))
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fromRPCError(name, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
		return nil, errors.Wrap(ctx.Err(), "awaiting response", errors.WithSubject(name))
	case <-b.done:
		return nil, errors.FromCode(errors.ErrCodeTransportClosed, errors.WithSubject(name))
	}
}

// EmitEvent sends an uncorrelated push frame delivered to every current
// subscriber on the peer endpoint.
func (b *Bus) EmitEvent(name string, params interface{}) error {
	if b.closed.Load() {
		return errors.FromCode(errors.ErrCodeTransportClosed, errors.WithSubject(name))
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "marshaling event params", errors.WithSubject(name))
	}

	frame, err := marshalFrame(Notification{JSONRPC: "2.0", Method: name, Params: raw})
	if err != nil {
		return errors.Wrap(err, "marshaling event frame")
	}
	if err := b.tr.Send(frame); err != nil {
		if err == transport.ErrClosed {
			return errors.FromCode(errors.ErrCodeTransportClosed, errors.WithSubject(name))
		}
		return errors.Wrap(err, "sending event", errors.WithSubject(name))
	}
	return nil
}

// OnEvent subscribes to a named push event. Multiple subscribers per name
// are allowed; all are invoked, in subscription order, per event.
func (b *Bus) OnEvent(name string, fn EventFunc) *Subscription {
	sub := &Subscription{
		bus:  b,
		name: name,
		id:   b.nextSubID.Add(1),
		fn:   fn,
	}

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()

	return sub
}

// removeSubscription deletes a subscription from the registry.
func (b *Bus) removeSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.name]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.name] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Close shuts down the bus and its transport. Idempotent. Pending
// requests fail with a transport-closed error.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.tr.Close()
	// dispatch observes the closed recv channel and finishes shutdown.
	return nil
}

// dispatch is the endpoint's single reader: it classifies every inbound
// frame and routes it. Notifications are delivered synchronously here so
// per-endpoint delivery order equals emission order.
func (b *Bus) dispatch() {
	for raw := range b.tr.Recv() {
		f, kind, err := parseFrame(raw)
		if err != nil {
			b.log.Warn("dropping malformed frame", map[string]interface{}{"error": err})
			continue
		}

		switch kind {
		case kindRequest:
			go b.handleRequest(f)
		case kindNotification:
			b.deliverEvent(f.Method, f.Params)
		case kindResponse:
			b.settleResponse(f)
		}
	}

	// End-of-stream: reject everything still waiting.
	b.closed.Store(true)
	close(b.done)
	b.failPending()
}

// handleRequest runs the named handler and sends exactly one response
// frame. Handler failures and panics become failure responses, never a
// crashed bus.
func (b *Bus) handleRequest(f *frame) {
	b.mu.RLock()
	handler, ok := b.handlers[f.Method]
	b.mu.RUnlock()

	if !ok {
		b.respondError(*f.ID, errors.FromCode(errors.ErrCodeUnknownHandler, errors.WithSubject(f.Method)))
		return
	}

	result, err := b.invokeHandler(handler, f)
	if err != nil {
		if errors.AsProtocolError(err) == nil {
			err = errors.WrapWithCode(err, errors.ErrCodeHandlerExecution, "handler "+f.Method+" failed", errors.WithSubject(f.Method))
		}
		b.respondError(*f.ID, err)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		b.respondError(*f.ID, errors.Wrap(err, "marshaling handler result", errors.WithSubject(f.Method)))
		return
	}

	frame, err := marshalFrame(Response{JSONRPC: "2.0", ID: *f.ID, Result: raw})
	if err == nil {
		err = b.tr.Send(frame)
	}
	if err != nil && err != transport.ErrClosed {
		b.log.Warn("failed to send response", map[string]interface{}{"method": f.Method, "error": err})
	}
}

// invokeHandler calls a handler with panic recovery.
func (b *Bus) invokeHandler(handler Handler, f *frame) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			b.log.Error("handler panicked", map[string]interface{}{"method": f.Method, "panic": r})
		}
	}()
	return handler(context.Background(), f.Params)
}

// respondError sends a failure-response frame.
func (b *Bus) respondError(id uint64, err error) {
	frame, merr := marshalFrame(Response{JSONRPC: "2.0", ID: id, Error: toRPCError(err)})
	if merr != nil {
		b.log.Error("failed to marshal error response", map[string]interface{}{"error": merr})
		return
	}
	if serr := b.tr.Send(frame); serr != nil && serr != transport.ErrClosed {
		b.log.Warn("failed to send error response", map[string]interface{}{"error": serr})
	}
}

// deliverEvent invokes subscribers in subscription order.
func (b *Bus) deliverEvent(name string, params json.RawMessage) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs[name]))
	copy(subs, b.subs[name])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(params)
	}
}

// settleResponse matches a response to its pending request by id.
func (b *Bus) settleResponse(f *frame) {
	b.pendingMu.Lock()
	ch, ok := b.pending[*f.ID]
	if ok {
		delete(b.pending, *f.ID)
	}
	b.pendingMu.Unlock()

	if !ok {
		// Late response for an abandoned request.
		return
	}

	ch <- &Response{JSONRPC: f.JSONRPC, ID: *f.ID, Result: f.Result, Error: f.Error}
}

// failPending rejects all outstanding requests with transport-closed.
func (b *Bus) failPending() {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[uint64]chan *Response)
	b.pendingMu.Unlock()

	for id, ch := range pending {
		ch <- &Response{
			JSONRPC: "2.0",
			ID:      id,
			Error:   toRPCError(errors.FromCode(errors.ErrCodeTransportClosed)),
		}
	}
}

// toRPCError converts an error into a wire error object, carrying the
// structured error as data when available.
func toRPCError(err error) *RPCError {
	code := CodeInternalError
	switch errors.Code(err) {
	case errors.ErrCodeUnknownHandler:
		code = CodeMethodNotFound
	case errors.ErrCodeInvalidInput:
		code = CodeInvalidParams
	}

	rpcErr := &RPCError{Code: code, Message: err.Error()}
	if perr := errors.AsProtocolError(err); perr != nil {
		if data, merr := json.Marshal(perr); merr == nil {
			rpcErr.Data = data
		}
	}
	return rpcErr
}

// fromRPCError reconstructs a structured error from a wire error object.
func fromRPCError(subject string, rpcErr *RPCError) error {
	if len(rpcErr.Data) > 0 {
		var structured errors.Error
		if err := json.Unmarshal(rpcErr.Data, &structured); err == nil && structured.Code() != "" {
			return &structured
		}
	}
	if rpcErr.Code == CodeMethodNotFound {
		return errors.FromCode(errors.ErrCodeUnknownHandler, errors.WithSubject(subject))
	}
	return errors.WrapWithCode(rpcErr, errors.ErrCodeHandlerExecution, "request "+subject+" failed", errors.WithSubject(subject))
}
