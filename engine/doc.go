// Package engine runs the agent loop.
//
// # Overview
//
// The Engine drives one send to completion: it calls the model with the
// session's conversation and the registered tool definitions, executes
// any requested tools, feeds results back, and repeats until the model
// answers without tool calls or the turn bound is hit.
//
// Each turn produces at most two messages on the session's causal
// chain: one coalesced assistant message (text plus tool_use blocks)
// and, when tools ran, one user message carrying the tool results.
// Token-level fragments are never surfaced.
//
// Task tool invocations spawn a nested sub-agent loop one level deep.
// Sub-agent turn messages branch off the spawning assistant message and
// are delivered through the OnProgress callback with the spawning
// tool_use id attached; the sub-agent's final text becomes the Task
// tool's result.
package engine
