package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	agenterrors "github.com/agentwire/agentwire/errors"
	"github.com/agentwire/agentwire/llm"
	"github.com/agentwire/agentwire/protocol"
	"github.com/agentwire/agentwire/telemetry"
	"github.com/agentwire/agentwire/tools"
)

// SubAgentSpec declares a sub-agent type the model can delegate to via
// the Task tool.
type SubAgentSpec struct {
	// Type is the name the model passes as subagent_type.
	Type string
	// SystemPrompt frames the sub-agent's task.
	SystemPrompt string
	// Tools is an allowlist of registry tool names. Empty means all
	// registered tools. The Task tool is never available to sub-agents;
	// delegation depth is one.
	Tools []string
	// Provider overrides the engine's provider for this sub-agent type.
	Provider llm.Provider
	// MaxTurns overrides the engine's turn bound.
	MaxTurns int
}

// runTask dispatches a Task tool invocation to a nested sub-agent loop.
// The sub-agent's turn messages branch off the spawning assistant
// message and flow through OnProgress; the final text becomes the Task
// tool's result.
func (e *Engine) runTask(ctx context.Context, req Request, assistantUUID string, call llm.ToolCall) (string, error) {
	args, err := tools.ParseTaskArgs(call.Args)
	if err != nil {
		return "", err
	}

	spec, ok := e.subAgents[args.SubagentType]
	if !ok {
		return "", agenterrors.Newf(agenterrors.ErrCodeNotFound,
			"unknown sub-agent type: %s", args.SubagentType)
	}

	agentID := uuid.NewString()
	log := e.log.WithSession(req.SessionID)
	log.Info("sub-agent starting", map[string]interface{}{
		"agentId":   agentID,
		"agentType": spec.Type,
		"toolUseId": call.ID,
	})

	progress := func(status string, msg *protocol.Message) {
		if req.OnProgress == nil {
			return
		}
		req.OnProgress(protocol.AgentProgress{
			SessionID:       req.SessionID,
			Message:         msg,
			ParentToolUseID: call.ID,
			AgentID:         agentID,
			AgentType:       spec.Type,
			Status:          status,
			Timestamp:       time.Now().UTC(),
		})
	}

	provider := spec.Provider
	if provider == nil {
		provider = e.provider
	}
	maxTurns := spec.MaxTurns
	if maxTurns <= 0 {
		maxTurns = e.maxTurns
	}

	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSubAgentSpan(ctx, spec.Type, agentID)

	// The first branch message chains off the assistant message that
	// carries the spawning tool_use block.
	branchParent := assistantUUID
	res, runErr := runLoop(ctx, loopConfig{
		provider:  provider,
		defs:      e.subAgentDefs(spec),
		maxTurns:  maxTurns,
		sessionID: req.SessionID,
		parent:    &branchParent,
		system:    spec.SystemPrompt,
		history:   []llm.Message{{Role: "user", Content: args.Prompt}},
		emit: func(msg protocol.Message) {
			progress(protocol.StatusRunning, &msg)
		},
		exec: func(ctx context.Context, _ string, call llm.ToolCall) (string, error) {
			result, err := e.registry.Execute(ctx, call.Name, call.Args)
			if err != nil {
				return "", err
			}
			return stringify(result), nil
		},
		log: log,
	})

	// Exactly one terminal status per spawn, even with zero
	// intermediate messages.
	if runErr != nil {
		progress(protocol.StatusFailed, nil)
		tracer.EndSubAgentSpan(span, telemetry.SubAgentSpanOptions{
			AgentType: spec.Type,
			AgentID:   agentID,
			Status:    protocol.StatusFailed,
		}, runErr)
		log.Warn("sub-agent failed", map[string]interface{}{
			"agentId": agentID,
			"error":   runErr.Error(),
		})
		return "", agenterrors.Wrapf(runErr, "sub-agent %s failed", spec.Type)
	}

	progress(protocol.StatusCompleted, nil)
	tracer.EndSubAgentSpan(span, telemetry.SubAgentSpanOptions{
		AgentType: spec.Type,
		AgentID:   agentID,
		Status:    protocol.StatusCompleted,
		Result:    res.text,
	}, nil)
	log.Info("sub-agent completed", map[string]interface{}{
		"agentId":  agentID,
		"numTurns": res.turns,
	})
	return res.text, nil
}

// subAgentDefs returns the tool definitions visible to a sub-agent:
// the allowlisted registry tools, never the Task tool.
func (e *Engine) subAgentDefs(spec SubAgentSpec) []llm.ToolDef {
	regDefs := e.registry.Definitions()

	allowed := func(name string) bool {
		if len(spec.Tools) == 0 {
			return true
		}
		for _, t := range spec.Tools {
			if t == name {
				return true
			}
		}
		return false
	}

	defs := make([]llm.ToolDef, 0, len(regDefs))
	for _, d := range regDefs {
		if d.Name == tools.TaskToolName || !allowed(d.Name) {
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return defs
}
