// Package bus provides the per-endpoint message bus of the session
// protocol layer.
//
// # Overview
//
// A Bus wraps one Transport endpoint and layers two patterns over it:
//
//   - Request/response: named handlers, strict correlation-id matching,
//     out-of-order responses supported
//   - Push events: uncorrelated notifications fanned out to every current
//     subscriber, in subscription order
//
// The wire format is JSON-RPC 2.0 in newline-safe frames. Requests carry
// a correlation id; push events are notifications without one.
//
// # Usage
//
// Engine side:
//
//	b := bus.New(tr)
//	b.RegisterHandler("session.send", handleSend)
//	b.EmitEvent("message", msg)
//
// Consumer side:
//
//	b := bus.New(tr)
//	sub := b.OnEvent("message", onMessage)
//	defer sub.Unsubscribe()
//	result, err := b.Request(ctx, "session.send", params)
//
// # Failure Semantics
//
// Handler failures (including panics) become failure-response frames and
// never crash the bus. Requests to unregistered names fail with the
// unknown-handler error. When the transport closes, in-flight requests
// fail with the transport-closed error.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Request suspends only the
// calling goroutine. Event callbacks run on the bus's dispatch goroutine;
// within one endpoint they are invoked in exact emission order.
package bus
