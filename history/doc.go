// Package history stores per-session causal chains.
//
// # Overview
//
// A Store keeps the ordered message tree for each session: messages
// linked by parentUuid, rooted at nil, with sub-agent branches grafted at
// tool-invocation nodes. The bridge is the sole writer; a session façade
// only reads the chain through the session.messages.list request.
//
// MemoryStore is the in-process implementation. SearchIndex adds an
// optional bleve full-text index over message text for the CLI's
// `sessions search` command.
//
// # Thread Safety
//
// MemoryStore and SearchIndex are safe for concurrent use.
package history
