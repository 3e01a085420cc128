// Package telemetry provides OpenTelemetry tracing for the session layer.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps OpenTelemetry tracing with session-layer helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include message content in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (content in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Send Spans ---

// SendSpanOptions contains options for session.send spans.
type SendSpanOptions struct {
	SessionID    string
	UUID         string
	NumTurns     int
	TokensIn     int
	TokensOut    int
	Queued       bool
	Prompt       string // Only included if debug=true
	FinalMessage string // Only included if debug=true
}

// StartSendSpan starts a span covering one send from acknowledgement to
// its terminal event.
func (t *Tracer) StartSendSpan(ctx context.Context, sessionID, uuid string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "session.send", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("message.uuid", uuid),
	)
	return ctx, span
}

// EndSendSpan ends a send span with attributes.
func (t *Tracer) EndSendSpan(span trace.Span, opts SendSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("send.turns", opts.NumTurns),
		attribute.Int("send.tokens.input", opts.TokensIn),
		attribute.Int("send.tokens.output", opts.TokensOut),
		attribute.Bool("send.queued", opts.Queued),
	}

	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("send.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.FinalMessage != "" {
			attrs = append(attrs, attribute.String("send.result", truncate(opts.FinalMessage, 4000)))
		}
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Sub-Agent Spans ---

// SubAgentSpanOptions contains options for sub-agent spans.
type SubAgentSpanOptions struct {
	AgentType string
	AgentID   string
	Status    string // completed, failed
	Result    string // Only included if debug=true
}

// StartSubAgentSpan starts a span for a sub-agent spawn.
func (t *Tracer) StartSubAgentSpan(ctx context.Context, agentType, agentID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "subagent."+agentType, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("subagent.type", agentType),
		attribute.String("subagent.id", agentID),
	)
	return ctx, span
}

// EndSubAgentSpan ends a sub-agent span with attributes.
func (t *Tracer) EndSubAgentSpan(span trace.Span, opts SubAgentSpanOptions, err error) {
	span.SetAttributes(attribute.String("subagent.status", opts.Status))

	if t.debug && opts.Result != "" {
		span.SetAttributes(attribute.String("subagent.result", truncate(opts.Result, 4000)))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Bus Spans ---

// StartRequestSpan starts a span for one bus request/response exchange.
func (t *Tracer) StartRequestSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bus."+method, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("bus.method", method))
	return ctx, span
}

// EndRequestSpan ends a bus request span.
func (t *Tracer) EndRequestSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
