// Package protocol defines the wire data model of the session protocol
// layer: messages with causal-chain links, the system/result envelope
// types, sub-agent progress events, and the request and event names the
// bridge serves.
//
// All JSON tags are camelCase to match the wire format.
package protocol
