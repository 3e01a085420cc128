package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentwire/agentwire/bus"
	"github.com/agentwire/agentwire/engine"
	agenterrors "github.com/agentwire/agentwire/errors"
	"github.com/agentwire/agentwire/history"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/protocol"
	"github.com/agentwire/agentwire/telemetry"
)

// Config configures a Bridge.
type Config struct {
	Bus    *bus.Bus
	Store  history.Store
	Engine *engine.Engine

	// Model, CWD, SystemPrompt and Tools describe the engine environment
	// reported in the per-initialization SystemMessage.
	Model        string
	CWD          string
	SystemPrompt string
	Tools        []string

	// Index, when set, receives every persisted message for full-text
	// search.
	Index *history.SearchIndex

	Logger *logging.Logger

	// RelayBuffer bounds the sub-agent progress queue. Default 64.
	RelayBuffer int
}

// Bridge is the engine-side owner of sessions. It registers the
// session.* handlers on the bus, holds sole write authority over the
// persisted causal chain, and pushes message, agent.progress, and
// session.done events.
type Bridge struct {
	bus    *bus.Bus
	store  history.Store
	engine *engine.Engine
	index  *history.SearchIndex
	log    *logging.Logger
	relay  *relay

	model        string
	cwd          string
	systemPrompt string
	tools        []string

	mu       sync.Mutex
	sessions map[string]*sessionState
	wg       sync.WaitGroup
}

// sessionState serializes sends per session: while one send runs, later
// sends queue FIFO and never interleave.
type sessionState struct {
	running bool
	pending []protocol.SendParams
}

// New creates a Bridge and registers its handlers on the bus.
func New(cfg Config) (*Bridge, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bridge: bus is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("bridge: store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("bridge: engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.RelayBuffer <= 0 {
		cfg.RelayBuffer = defaultRelayBuffer
	}

	b := &Bridge{
		bus:          cfg.Bus,
		store:        cfg.Store,
		engine:       cfg.Engine,
		index:        cfg.Index,
		log:          cfg.Logger.WithComponent("bridge"),
		model:        cfg.Model,
		cwd:          cfg.CWD,
		systemPrompt: cfg.SystemPrompt,
		tools:        cfg.Tools,
		sessions:     make(map[string]*sessionState),
	}
	b.relay = newRelay(cfg.Bus, cfg.Store, cfg.Index, b.log, cfg.RelayBuffer)
	b.relay.start()

	if err := b.bus.RegisterHandler(protocol.MethodInitialize, b.handleInitialize); err != nil {
		return nil, err
	}
	if err := b.bus.RegisterHandler(protocol.MethodSend, b.handleSend); err != nil {
		return nil, err
	}
	if err := b.bus.RegisterHandler(protocol.MethodList, b.handleList); err != nil {
		return nil, err
	}

	return b, nil
}

// Close waits for running sends to finish and stops the progress relay.
// The bus itself is owned by the caller.
func (b *Bridge) Close() error {
	b.wg.Wait()
	b.relay.stop()
	return nil
}

// handleInitialize adopts or creates a session. Resumed is true iff the
// requested id was previously configured; the SystemMessage is returned
// synchronously in the response, once per initialization.
func (b *Bridge) handleInitialize(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, agenterrors.Wrap(err, "invalid initialize params",
				agenterrors.WithCategory(agenterrors.CategoryPermanent))
		}
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	created, err := b.store.EnsureSession(sessionID)
	if err != nil {
		return nil, agenterrors.Wrap(err, "session setup failed")
	}

	b.log.Info("session initialized", map[string]interface{}{
		"session": sessionID,
		"resumed": !created,
	})

	return &protocol.InitializeResult{
		SessionID: sessionID,
		Resumed:   !created,
		System: protocol.SystemMessage{
			Subtype:   protocol.SubtypeInit,
			SessionID: sessionID,
			Model:     b.model,
			CWD:       b.cwd,
			Tools:     b.tools,
			Timestamp: time.Now().UTC(),
		},
	}, nil
}

// handleList returns the session's causal chain in append order,
// including grafted sub-agent branch messages.
func (b *Bridge) handleList(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.ListParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, agenterrors.Wrap(err, "invalid list params")
	}

	messages, err := b.store.List(params.SessionID)
	if err != nil {
		if errors.Is(err, history.ErrSessionNotFound) {
			return nil, agenterrors.Newf(agenterrors.ErrCodeSessionNotFound,
				"session %s not found", params.SessionID)
		}
		return nil, agenterrors.Wrap(err, "list failed")
	}

	return &protocol.ListResult{Messages: messages}, nil
}

// handleSend appends the user message, acknowledges immediately, and
// hands the run to a per-session worker. The ack promises hand-off
// only; session.done is the authoritative completion signal.
func (b *Bridge) handleSend(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.SendParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, agenterrors.Wrap(err, "invalid send params")
	}

	known, err := b.store.HasSession(params.SessionID)
	if err != nil {
		return nil, agenterrors.Wrap(err, "session lookup failed")
	}
	if !known {
		return nil, agenterrors.Newf(agenterrors.ErrCodeSessionNotFound,
			"session %s not found", params.SessionID)
	}

	if params.UUID == "" {
		params.UUID = uuid.NewString()
	}

	userMsg := protocol.Message{
		UUID:       params.UUID,
		ParentUUID: params.ParentUUID,
		SessionID:  params.SessionID,
		Role:       protocol.RoleUser,
		Content:    []protocol.ContentBlock{protocol.TextBlock(params.Message)},
		Timestamp:  time.Now().UTC(),
	}
	if err := b.store.Append(userMsg); err != nil {
		return nil, agenterrors.Wrap(err, "append failed",
			agenterrors.WithCategory(agenterrors.CategoryPermanent),
			agenterrors.WithSessionID(params.SessionID))
	}
	b.indexMessage(userMsg)

	queued := b.enqueue(params)

	return &protocol.SendAck{
		SessionID: params.SessionID,
		UUID:      params.UUID,
		Queued:    queued,
	}, nil
}

// enqueue hands the send to the session's worker, starting one if none
// is running. Returns true if a prior send is still in flight.
func (b *Bridge) enqueue(params protocol.SendParams) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.sessions[params.SessionID]
	if !ok {
		state = &sessionState{}
		b.sessions[params.SessionID] = state
	}

	if state.running {
		state.pending = append(state.pending, params)
		return true
	}

	state.running = true
	b.wg.Add(1)
	go b.worker(params.SessionID, params)
	return false
}

// worker drains the session's send queue one at a time, in issue order.
func (b *Bridge) worker(sessionID string, first protocol.SendParams) {
	defer b.wg.Done()

	// Only the send that started the worker ran immediately; everything
	// drained from pending waited behind a prior send.
	params, queued := first, false
	for {
		b.runSend(params, queued)

		b.mu.Lock()
		state := b.sessions[sessionID]
		if len(state.pending) == 0 {
			state.running = false
			b.mu.Unlock()
			return
		}
		params = state.pending[0]
		state.pending = state.pending[1:]
		b.mu.Unlock()
		queued = true
	}
}

// runSend executes one send to completion and emits exactly one
// session.done, success or failure. It runs on a detached context: a
// consumer disconnect drops the output at the subscriber, never the
// computation.
func (b *Bridge) runSend(params protocol.SendParams, queued bool) {
	ctx := context.Background()
	log := b.log.WithSession(params.SessionID)
	start := time.Now()

	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSendSpan(ctx, params.SessionID, params.UUID)

	hist, err := b.store.List(params.SessionID)
	if err != nil {
		b.emitDone(params, protocol.ResultMessage{
			SessionID:  params.SessionID,
			IsError:    true,
			Result:     err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		})
		tracer.EndSendSpan(span, telemetry.SendSpanOptions{Queued: queued}, err)
		return
	}

	lastUUID := params.UUID
	res, err := b.engine.Run(ctx, engine.Request{
		SessionID:    params.SessionID,
		Model:        params.Model,
		CWD:          params.CWD,
		SystemPrompt: b.systemPrompt,
		History:      hist,
		LastUUID:     &lastUUID,
		OnMessage:    func(msg protocol.Message) { b.persistAndEmit(msg) },
		OnProgress:   func(p protocol.AgentProgress) { b.relay.enqueue(p) },
	})

	// Progress events precede the terminal event on the wire.
	b.relay.flush()

	result := protocol.ResultMessage{
		SessionID:  params.SessionID,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.IsError = true
		result.Result = err.Error()
		log.Warn("send failed", map[string]interface{}{"uuid": params.UUID, "error": err.Error()})
	} else {
		result.Result = res.Text
		result.Usage = res.Usage
		result.NumTurns = res.NumTurns
		log.Info("send completed", map[string]interface{}{"uuid": params.UUID, "turns": res.NumTurns})
	}

	b.emitDone(params, result)

	opts := telemetry.SendSpanOptions{
		SessionID: params.SessionID,
		UUID:      params.UUID,
		Queued:    queued,
		Prompt:    params.Message,
	}
	if res != nil {
		opts.NumTurns = res.NumTurns
		opts.TokensIn = res.Usage.InputTokens
		opts.TokensOut = res.Usage.OutputTokens
		opts.FinalMessage = res.Text
	}
	tracer.EndSendSpan(span, opts, err)
}

// persistAndEmit appends a turn message to the chain and pushes it as a
// message event. Emission failures are logged and swallowed: the chain
// is authoritative, the event stream is best effort.
func (b *Bridge) persistAndEmit(msg protocol.Message) {
	if err := b.store.Append(msg); err != nil {
		b.log.Error("append failed", map[string]interface{}{
			"session": msg.SessionID,
			"uuid":    msg.UUID,
			"error":   err.Error(),
		})
		return
	}
	b.indexMessage(msg)

	err := b.bus.EmitEvent(protocol.EventMessage, &protocol.MessageEvent{
		SessionID: msg.SessionID,
		Message:   msg,
	})
	if err != nil {
		b.log.Warn("message emission failed", map[string]interface{}{
			"session": msg.SessionID,
			"error":   err.Error(),
		})
	}
}

// emitDone pushes the terminal event for one send.
func (b *Bridge) emitDone(params protocol.SendParams, result protocol.ResultMessage) {
	err := b.bus.EmitEvent(protocol.EventDone, &protocol.DoneEvent{
		SessionID: params.SessionID,
		Result:    result,
	})
	if err != nil {
		b.log.Warn("done emission failed", map[string]interface{}{
			"session": params.SessionID,
			"error":   err.Error(),
		})
	}
}

func (b *Bridge) indexMessage(msg protocol.Message) {
	if b.index == nil {
		return
	}
	if err := b.index.Index(msg); err != nil {
		b.log.Warn("index failed", map[string]interface{}{
			"uuid":  msg.UUID,
			"error": err.Error(),
		})
	}
}
