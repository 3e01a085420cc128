// Package bridge is the engine side of the session protocol.
//
// # Overview
//
// The Bridge registers the session.initialize, session.send, and
// session.messages.list handlers on a bus and owns the persisted causal
// chain for every session it serves. Consumers never touch the store:
// they see the chain through list responses and live message events.
//
// A send is acknowledged as soon as the user message is appended; the
// agent loop then runs on a detached context and the result arrives as
// a session.done event — exactly one per send, success or failure.
// Sends for the same session issued while one is running queue FIFO and
// never interleave.
//
// Sub-agent progress flows through a bounded relay queue to
// agent.progress events; branch messages are grafted onto the chain at
// the spawning tool invocation.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Per-session sends
// are serialized internally.
package bridge
