package protocol

import "time"

// SystemMessage is emitted once per session at initialization. It is not
// part of the causal chain.
type SystemMessage struct {
	Subtype   string    `json:"subtype"` // always "init"
	SessionID string    `json:"sessionId"`
	Model     string    `json:"model"`
	CWD       string    `json:"cwd"`
	Tools     []string  `json:"tools"`
	Timestamp time.Time `json:"timestamp"`
}

// SubtypeInit is the SystemMessage subtype for session initialization.
const SubtypeInit = "init"

// Usage holds token usage counters for one top-level send.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ResultMessage is the terminal marker for one top-level send: emitted
// exactly once, success or failure.
type ResultMessage struct {
	SessionID  string `json:"sessionId"`
	IsError    bool   `json:"isError"`
	Result     string `json:"result"` // accumulated text, or a human-readable error
	Usage      Usage  `json:"usage"`
	NumTurns   int    `json:"numTurns"`
	DurationMs int64  `json:"durationMs"`
}

// Sub-agent progress statuses. Every sub-agent's progress stream carries
// StatusRunning for each intermediate message and ends with exactly one
// StatusCompleted or StatusFailed.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AgentProgress wraps a message from a nested sub-agent and attributes it
// to the tool invocation that spawned the sub-agent. ParentToolUseID is a
// separate namespace from message uuid chaining.
type AgentProgress struct {
	SessionID       string    `json:"sessionId"`
	Message         *Message  `json:"message,omitempty"`
	ParentToolUseID string    `json:"parentToolUseId"`
	AgentID         string    `json:"agentId"`
	AgentType       string    `json:"agentType"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}

// Terminal reports whether the progress event ends its stream.
func (p *AgentProgress) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}
