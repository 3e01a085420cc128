package protocol

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	ContentText       = "text"
	ContentToolUse    = "tool_use"
	ContentToolResult = "tool_result"
	ContentImage      = "image"
)

// ContentBlock is one ordered part of a message. Type is the exhaustive
// discriminator; only the fields for that type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// Text, for type "text".
	Text string `json:"text,omitempty"`

	// Tool call, for type "tool_use".
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// Tool result, for type "tool_result".
	ToolUseID string `json:"toolUseId,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"isError,omitempty"`

	// Image, for type "image".
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"` // base64
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// ToolUseBlock builds a tool-call content block.
func ToolUseBlock(id, name string, input map[string]interface{}) ContentBlock {
	return ContentBlock{Type: ContentToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool-result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: ContentToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one node of a session's causal chain. Every non-root
// message's ParentUUID resolves to a previously emitted message in the
// same session, forming a tree rooted at nil. Branches attach where
// sub-agent output is grafted onto a tool-invocation node.
type Message struct {
	UUID       string         `json:"uuid"`
	ParentUUID *string        `json:"parentUuid"`
	SessionID  string         `json:"sessionId"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewMessage creates a message with a fresh uuid.
func NewMessage(sessionID, role string, parentUUID *string, content ...ContentBlock) Message {
	return Message{
		UUID:       uuid.NewString(),
		ParentUUID: parentUUID,
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
}

// Text returns the concatenated text blocks of the message.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == ContentText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool-call blocks of the message, in order.
func (m *Message) ToolUses() []ContentBlock {
	var calls []ContentBlock
	for _, block := range m.Content {
		if block.Type == ContentToolUse {
			calls = append(calls, block)
		}
	}
	return calls
}
