// Package sink writes session items as newline-delimited JSON.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/agentwire/agentwire/session"
)

// Output modes.
const (
	ModeText       = "text"
	ModeStructured = "structured"
	ModeQuiet      = "quiet"
)

// ParseMode validates an output mode string.
func ParseMode(s string) (string, error) {
	switch s {
	case ModeText, ModeStructured, ModeQuiet:
		return s, nil
	default:
		return "", fmt.Errorf("unknown output mode: %q", s)
	}
}

// Sink writes each item as one self-contained JSON object, immediately
// on receipt, never batched. Outside structured and quiet modes the
// sink writes nothing; text rendering belongs to the caller.
type Sink struct {
	mu   sync.Mutex
	out  io.Writer
	mode string
	enc  *json.Encoder
}

// New creates a Sink writing to out.
func New(out io.Writer, mode string) *Sink {
	return &Sink{out: out, mode: mode, enc: json.NewEncoder(out)}
}

// record is the flattened wire form of one item: the type discriminator
// plus the payload fields hoisted to the top level, so each line stands
// alone without the consumer knowing the union shape.
type record struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// system
	Subtype string   `json:"subtype,omitempty"`
	Model   string   `json:"model,omitempty"`
	CWD     string   `json:"cwd,omitempty"`
	Tools   []string `json:"tools,omitempty"`

	// message and agent_progress
	Message interface{} `json:"message,omitempty"`

	// agent_progress
	ParentToolUseID string `json:"parentToolUseId,omitempty"`
	AgentID         string `json:"agentId,omitempty"`
	AgentType       string `json:"agentType,omitempty"`
	Status          string `json:"status,omitempty"`

	// result
	IsError    bool        `json:"isError,omitempty"`
	Result     string      `json:"result,omitempty"`
	Usage      interface{} `json:"usage,omitempty"`
	NumTurns   int         `json:"numTurns,omitempty"`
	DurationMs int64       `json:"durationMs,omitempty"`
}

// Write encodes one item. It is a no-op in text mode.
func (s *Sink) Write(item session.Item) error {
	if s.mode != ModeStructured && s.mode != ModeQuiet {
		return nil
	}

	rec := record{Type: item.Type}
	switch item.Type {
	case session.ItemSystem:
		if item.System != nil {
			rec.SessionID = item.System.SessionID
			rec.Timestamp = item.System.Timestamp
			rec.Subtype = item.System.Subtype
			rec.Model = item.System.Model
			rec.CWD = item.System.CWD
			rec.Tools = item.System.Tools
		}
	case session.ItemMessage:
		if item.Message != nil {
			rec.SessionID = item.Message.SessionID
			rec.Timestamp = item.Message.Timestamp
			rec.Message = item.Message
		}
	case session.ItemProgress:
		if item.Progress != nil {
			rec.SessionID = item.Progress.SessionID
			rec.Timestamp = item.Progress.Timestamp
			rec.ParentToolUseID = item.Progress.ParentToolUseID
			rec.AgentID = item.Progress.AgentID
			rec.AgentType = item.Progress.AgentType
			rec.Status = item.Progress.Status
			if item.Progress.Message != nil {
				rec.Message = item.Progress.Message
			}
		}
	case session.ItemResult:
		if item.Result != nil {
			rec.SessionID = item.Result.SessionID
			rec.IsError = item.Result.IsError
			rec.Result = item.Result.Result
			rec.Usage = item.Result.Usage
			rec.NumTurns = item.Result.NumTurns
			rec.DurationMs = item.Result.DurationMs
		}
	default:
		return fmt.Errorf("unknown item type: %q", item.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(&rec)
}
