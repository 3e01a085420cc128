// Package transport provides pluggable duplex transports for the message
// bus.
//
// # Overview
//
// A Transport is a point-to-point duplex channel carrying opaque JSON
// frames: data sent on one endpoint is observable, in order, on its peer.
// Transports know nothing about frame semantics; the bus layers
// request/response correlation and push events on top.
//
// # Available Implementations
//
//   - Pair: two cross-wired in-process endpoints, for embedding the engine
//     and a consumer in one process
//   - Stream: newline-delimited JSON over an io.Reader/io.Writer pair, for
//     process boundaries (child process stdin/stdout)
//   - NATS: duplex link over a pair of NATS subjects
//
// All implementations are interchangeable from the bus's point of view.
//
// # Close Semantics
//
// Close is idempotent. Once a transport is closed on either side, Send
// fails with ErrClosed and pending reads observe end-of-stream (the Recv
// channel is closed).
//
// # Thread Safety
//
// Send and Close are safe for concurrent use. Each endpoint supports
// exactly one active reader on its Recv channel.
package transport
