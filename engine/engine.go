package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	agenterrors "github.com/agentwire/agentwire/errors"
	"github.com/agentwire/agentwire/llm"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/protocol"
	"github.com/agentwire/agentwire/tools"
)

// DefaultMaxTurns bounds the model/tool iteration loop.
const DefaultMaxTurns = 25

// Config configures an Engine.
type Config struct {
	Provider  llm.Provider
	Registry  *tools.Registry
	SubAgents []SubAgentSpec
	MaxTurns  int // default DefaultMaxTurns
	Logger    *logging.Logger
}

// Engine runs the agent loop: model calls interleaved with tool
// execution until the model stops requesting tools.
type Engine struct {
	provider  llm.Provider
	registry  *tools.Registry
	subAgents map[string]SubAgentSpec
	maxTurns  int
	log       *logging.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("engine: provider is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	subAgents := make(map[string]SubAgentSpec, len(cfg.SubAgents))
	for _, spec := range cfg.SubAgents {
		if spec.Type == "" {
			return nil, fmt.Errorf("engine: sub-agent spec missing type")
		}
		if _, exists := subAgents[spec.Type]; exists {
			return nil, fmt.Errorf("engine: duplicate sub-agent type %q", spec.Type)
		}
		subAgents[spec.Type] = spec
	}

	return &Engine{
		provider:  cfg.Provider,
		registry:  cfg.Registry,
		subAgents: subAgents,
		maxTurns:  cfg.MaxTurns,
		log:       cfg.Logger.WithComponent("engine"),
	}, nil
}

// Request is one run of the agent loop for a session.
type Request struct {
	SessionID    string
	Model        string
	CWD          string
	SystemPrompt string

	// History is the session's persisted causal chain. The conversation
	// fed to the model is the path from the root to LastUUID.
	History  []protocol.Message
	LastUUID *string

	// OnMessage receives each completed turn message (assistant turns
	// and tool-result turns), coalesced, in chain order.
	OnMessage func(protocol.Message)

	// OnProgress receives sub-agent progress updates.
	OnProgress func(protocol.AgentProgress)
}

// Result is the outcome of a completed run.
type Result struct {
	Text     string
	Usage    protocol.Usage
	NumTurns int
	LastUUID *string
}

// Run executes the loop to completion. Each assistant turn is emitted
// as one message (token fragments are never surfaced piecemeal); each
// turn's tool results are emitted as one user message.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	defs := e.toolDefs()

	emit := func(msg protocol.Message) {
		if req.OnMessage != nil {
			req.OnMessage(msg)
		}
	}
	exec := func(ctx context.Context, assistantUUID string, call llm.ToolCall) (string, error) {
		if call.Name == tools.TaskToolName && len(e.subAgents) > 0 {
			return e.runTask(ctx, req, assistantUUID, call)
		}
		result, err := e.registry.Execute(ctx, call.Name, call.Args)
		if err != nil {
			return "", err
		}
		return stringify(result), nil
	}

	res, err := runLoop(ctx, loopConfig{
		provider:  e.provider,
		defs:      defs,
		maxTurns:  e.maxTurns,
		sessionID: req.SessionID,
		parent:    req.LastUUID,
		system:    req.SystemPrompt,
		history:   toConversation(req.History, req.LastUUID),
		emit:      emit,
		exec:      exec,
		log:       e.log.WithSession(req.SessionID),
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Text:     res.text,
		Usage:    res.usage,
		NumTurns: res.turns,
		LastUUID: res.lastUUID,
	}, nil
}

// toolDefs returns the model-facing tool definitions, including the
// Task tool when sub-agents are configured.
func (e *Engine) toolDefs() []llm.ToolDef {
	regDefs := e.registry.Definitions()
	defs := make([]llm.ToolDef, 0, len(regDefs)+1)
	for _, d := range regDefs {
		defs = append(defs, llm.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	if len(e.subAgents) > 0 {
		agentTypes := make([]string, 0, len(e.subAgents))
		for t := range e.subAgents {
			agentTypes = append(agentTypes, t)
		}
		task := tools.TaskDefinition(agentTypes)
		defs = append(defs, llm.ToolDef{
			Name:        task.Name,
			Description: task.Description,
			Parameters:  task.Parameters,
		})
	}
	return defs
}

type loopConfig struct {
	provider  llm.Provider
	defs      []llm.ToolDef
	maxTurns  int
	sessionID string
	parent    *string
	system    string
	history   []llm.Message
	emit      func(protocol.Message)
	exec      func(ctx context.Context, assistantUUID string, call llm.ToolCall) (string, error)
	log       *logging.Logger
}

type loopResult struct {
	text     string
	usage    protocol.Usage
	turns    int
	lastUUID *string
}

type toolOutcome struct {
	content string
	err     error
}

// runLoop is the model/tool iteration shared by the main loop and
// sub-agent loops. Messages emitted through cfg.emit chain off
// cfg.parent in issue order.
func runLoop(ctx context.Context, cfg loopConfig) (*loopResult, error) {
	conversation := make([]llm.Message, 0, len(cfg.history)+1)
	if cfg.system != "" {
		conversation = append(conversation, llm.Message{Role: "system", Content: cfg.system})
	}
	conversation = append(conversation, cfg.history...)

	parent := cfg.parent
	var usage protocol.Usage

	for turn := 1; turn <= cfg.maxTurns; turn++ {
		resp, err := cfg.provider.Chat(ctx, llm.ChatRequest{
			Messages: conversation,
			Tools:    cfg.defs,
		})
		if err != nil {
			return nil, agenterrors.Wrap(err, "model call failed")
		}
		usage.Add(protocol.Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens})

		// One coalesced assistant message per turn: text plus any
		// tool_use blocks, in that order.
		var blocks []protocol.ContentBlock
		if resp.Content != "" {
			blocks = append(blocks, protocol.TextBlock(resp.Content))
		}
		for _, tc := range resp.ToolCalls {
			blocks = append(blocks, protocol.ToolUseBlock(tc.ID, tc.Name, tc.Args))
		}
		assistant := protocol.NewMessage(cfg.sessionID, protocol.RoleAssistant, parent, blocks...)
		cfg.emit(assistant)
		parent = &assistant.UUID

		conversation = append(conversation, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return &loopResult{text: resp.Content, usage: usage, turns: turn, lastUUID: parent}, nil
		}

		// Execute this turn's tool calls in parallel. Tool failures
		// become error results fed back to the model; only a cancelled
		// run aborts the loop.
		outcomes := make([]toolOutcome, len(resp.ToolCalls))
		g, gctx := errgroup.WithContext(ctx)
		for i, tc := range resp.ToolCalls {
			i, tc := i, tc
			g.Go(func() error {
				if cfg.log != nil {
					cfg.log.Debug("tool call", map[string]interface{}{"tool": tc.Name, "id": tc.ID})
				}
				content, execErr := cfg.exec(gctx, assistant.UUID, tc)
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				outcomes[i] = toolOutcome{content: content, err: execErr}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, agenterrors.Wrap(err, "tool execution aborted")
		}

		// One tool-result message per turn, results in call order.
		resultBlocks := make([]protocol.ContentBlock, 0, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			content := outcomes[i].content
			isError := false
			if outcomes[i].err != nil {
				content = outcomes[i].err.Error()
				isError = true
				if cfg.log != nil {
					cfg.log.Warn("tool failed", map[string]interface{}{"tool": tc.Name, "error": content})
				}
			}
			resultBlocks = append(resultBlocks, protocol.ToolResultBlock(tc.ID, content, isError))
			conversation = append(conversation, llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
		toolMsg := protocol.NewMessage(cfg.sessionID, protocol.RoleUser, parent, resultBlocks...)
		cfg.emit(toolMsg)
		parent = &toolMsg.UUID
	}

	return nil, agenterrors.Newf(agenterrors.ErrCodeInternal,
		"agent loop did not settle within %d turns", cfg.maxTurns)
}

// toConversation converts the chain ending at lastUUID into
// provider-neutral messages, root first. Branch messages off the path
// (sub-agent output) are excluded.
func toConversation(history []protocol.Message, lastUUID *string) []llm.Message {
	if len(history) == 0 || lastUUID == nil {
		return nil
	}

	byUUID := make(map[string]*protocol.Message, len(history))
	for i := range history {
		byUUID[history[i].UUID] = &history[i]
	}

	var chain []*protocol.Message
	for cursor := lastUUID; cursor != nil; {
		msg, ok := byUUID[*cursor]
		if !ok {
			break
		}
		chain = append(chain, msg)
		cursor = msg.ParentUUID
	}

	out := make([]llm.Message, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, toLLMMessages(chain[i])...)
	}
	return out
}

// toLLMMessages flattens one chain message into provider-neutral form.
// Tool-result blocks become individual "tool" role messages.
func toLLMMessages(msg *protocol.Message) []llm.Message {
	var results []llm.Message
	var text string
	var toolCalls []llm.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case protocol.ContentText:
			text += block.Text
		case protocol.ContentToolUse:
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: block.Input,
			})
		case protocol.ContentToolResult:
			results = append(results, llm.Message{
				Role:       "tool",
				Content:    block.Content,
				ToolCallID: block.ToolUseID,
			})
		}
	}

	if len(results) > 0 {
		return results
	}
	return []llm.Message{{Role: msg.Role, Content: text, ToolCalls: toolCalls}}
}

// stringify renders a tool result for the model.
func stringify(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
