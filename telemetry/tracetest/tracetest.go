// Package tracetest provides an in-memory span recorder for asserting
// tracing behavior in tests without an exporter pipeline. Install the
// Provider with otel.SetTracerProvider before building the tracer under
// test.
package tracetest

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"

	"github.com/agentwire/agentwire/telemetry"
)

// Provider is a trace.TracerProvider that records every span started
// through its tracers.
type Provider struct {
	embedded.TracerProvider

	mu    sync.Mutex
	spans []*Span
}

// NewProvider creates an empty recording provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Install routes the global tracer through a fresh recording provider
// for the duration of a test, restoring the previous wiring afterwards.
func Install(tb testing.TB) *Provider {
	tb.Helper()
	rec := NewProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(rec)
	telemetry.SetGlobalTracer(telemetry.NewTracer("agentwire-test", false))
	tb.Cleanup(func() {
		telemetry.SetGlobalTracer(nil)
		otel.SetTracerProvider(prev)
	})
	return rec
}

// Tracer implements trace.TracerProvider.
func (p *Provider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return &tracer{provider: p}
}

// Spans returns a snapshot of recorded spans in start order.
func (p *Provider) Spans() []*Span {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Span, len(p.spans))
	copy(out, p.spans)
	return out
}

// SpanNamed returns the first recorded span with the given name, or nil.
func (p *Provider) SpanNamed(name string) *Span {
	for _, s := range p.Spans() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

type tracer struct {
	embedded.Tracer

	provider *Provider
}

// Start implements trace.Tracer.
func (t *tracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	s := &Span{
		Span: trace.SpanFromContext(context.Background()),
		name: name,
	}
	t.provider.mu.Lock()
	t.provider.spans = append(t.provider.spans, s)
	t.provider.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

// Span records the mutations made through the trace.Span interface. The
// embedded no-op span supplies everything not overridden.
type Span struct {
	trace.Span

	mu     sync.Mutex
	name   string
	ended  bool
	status codes.Code
	attrs  []attribute.KeyValue
	errs   []error
}

// End implements trace.Span.
func (s *Span) End(...trace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

// SetAttributes implements trace.Span.
func (s *Span) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = append(s.attrs, kv...)
}

// SetStatus implements trace.Span.
func (s *Span) SetStatus(code codes.Code, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// RecordError implements trace.Span.
func (s *Span) RecordError(err error, _ ...trace.EventOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Name returns the span's name.
func (s *Span) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Ended reports whether End was called.
func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Status returns the last status code set on the span.
func (s *Span) Status() codes.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Errors returns the errors recorded on the span.
func (s *Span) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

// Attr returns the last value set for a key and whether it was set.
func (s *Span) Attr(key string) (attribute.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.attrs) - 1; i >= 0; i-- {
		if string(s.attrs[i].Key) == key {
			return s.attrs[i].Value, true
		}
	}
	return attribute.Value{}, false
}
