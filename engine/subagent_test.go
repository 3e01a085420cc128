package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"

	"github.com/agentwire/agentwire/llm"
	"github.com/agentwire/agentwire/protocol"
	"github.com/agentwire/agentwire/telemetry/tracetest"
	"github.com/agentwire/agentwire/tools"
)

// taskCall builds a Task tool invocation for the mock provider.
func taskCall(id, agentType, prompt string) llm.ToolCall {
	return llm.ToolCall{
		ID:   id,
		Name: tools.TaskToolName,
		Args: map[string]interface{}{
			"description":   "delegated work",
			"prompt":        prompt,
			"subagent_type": agentType,
		},
	}
}

// --- Integration Tests ---

func TestRunTask_ProgressAndResult(t *testing.T) {
	subProvider := llm.NewMockProvider()
	subProvider.SetResponse("research summary")

	main := llm.NewMockProvider()
	main.SetToolCalls(taskCall("call_task", "researcher", "summarize the topic"))
	main.SetResponse("final answer")

	e, err := New(Config{
		Provider: main,
		SubAgents: []SubAgentSpec{{
			Type:         "researcher",
			SystemPrompt: "You are a focused researcher.",
			Provider:     subProvider,
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var emitted []protocol.Message
	var progress []protocol.AgentProgress
	res, err := e.Run(context.Background(), Request{
		SessionID:  "s",
		OnMessage:  func(m protocol.Message) { emitted = append(emitted, m) },
		OnProgress: func(p protocol.AgentProgress) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Text != "final answer" {
		t.Errorf("Text = %q", res.Text)
	}

	// The sub-agent's reply became the Task tool's result.
	toolMsg := emitted[1]
	if got := toolMsg.Content[0].Content; got != "research summary" {
		t.Errorf("Task result = %q, want sub-agent final text", got)
	}
	if toolMsg.Content[0].IsError {
		t.Error("Task result marked as error")
	}

	// One running update (the sub-agent's single turn) plus one terminal.
	if len(progress) != 2 {
		t.Fatalf("got %d progress events, want 2", len(progress))
	}
	if progress[0].Status != protocol.StatusRunning || progress[0].Message == nil {
		t.Errorf("first progress = %+v, want running with message", progress[0])
	}
	if progress[1].Status != protocol.StatusCompleted || progress[1].Message != nil {
		t.Errorf("terminal progress = %+v, want completed without message", progress[1])
	}
	for i, p := range progress {
		if p.ParentToolUseID != "call_task" {
			t.Errorf("progress[%d].ParentToolUseID = %q, want call_task", i, p.ParentToolUseID)
		}
		if p.AgentType != "researcher" {
			t.Errorf("progress[%d].AgentType = %q", i, p.AgentType)
		}
		if p.AgentID == "" {
			t.Errorf("progress[%d] missing agent id", i)
		}
	}
}

func TestRunTask_BranchGraftedAtToolUse(t *testing.T) {
	subProvider := llm.NewMockProvider()
	subProvider.SetResponse("branch output")

	main := llm.NewMockProvider()
	main.SetToolCalls(taskCall("call_task", "worker", "do it"))
	main.SetResponse("done")

	e, _ := New(Config{
		Provider:  main,
		SubAgents: []SubAgentSpec{{Type: "worker", Provider: subProvider}},
	})

	var emitted []protocol.Message
	var progress []protocol.AgentProgress
	if _, err := e.Run(context.Background(), Request{
		SessionID:  "s",
		OnMessage:  func(m protocol.Message) { emitted = append(emitted, m) },
		OnProgress: func(p protocol.AgentProgress) { progress = append(progress, p) },
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The first branch message's parent is the assistant message that
	// carried the spawning tool_use block.
	spawning := emitted[0]
	branch := progress[0].Message
	if branch.ParentUUID == nil || *branch.ParentUUID != spawning.UUID {
		t.Errorf("branch parent = %v, want spawning assistant uuid %s", branch.ParentUUID, spawning.UUID)
	}
	if branch.SessionID != "s" {
		t.Errorf("branch session = %q, want s", branch.SessionID)
	}
}

// Sub-agent emits two messages then its provider fails: the stream is
// running, running, failed and the failure surfaces as the Task error.
func TestRunTask_FailureAfterProgress(t *testing.T) {
	reg := tools.NewRegistry()
	addTool(t, reg, "step", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "step done", nil
	})

	subCalls := 0
	subProvider := llm.NewMockProvider()
	subProvider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		subCalls++
		if subCalls == 1 {
			return &llm.ChatResponse{
				Content:    "working on it",
				ToolCalls:  []llm.ToolCall{{ID: "sub_call", Name: "step"}},
				StopReason: "tool_use",
			}, nil
		}
		return nil, errors.New("model crashed")
	}

	main := llm.NewMockProvider()
	main.SetToolCalls(taskCall("call_task", "worker", "multi-step job"))
	main.SetResponse("handled the failure")

	e, _ := New(Config{
		Provider:  main,
		Registry:  reg,
		SubAgents: []SubAgentSpec{{Type: "worker", Provider: subProvider}},
	})

	var emitted []protocol.Message
	var progress []protocol.AgentProgress
	res, err := e.Run(context.Background(), Request{
		SessionID:  "s",
		OnMessage:  func(m protocol.Message) { emitted = append(emitted, m) },
		OnProgress: func(p protocol.AgentProgress) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "handled the failure" {
		t.Errorf("Text = %q", res.Text)
	}

	// assistant turn + tool-result turn from the sub-agent, then failed.
	var statuses []string
	for _, p := range progress {
		statuses = append(statuses, p.Status)
	}
	want := []string{
		protocol.StatusRunning,
		protocol.StatusRunning,
		protocol.StatusFailed,
	}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
	if progress[len(progress)-1].Message != nil {
		t.Error("terminal progress should not carry a message")
	}

	// The failure surfaced as the Task tool's error result.
	if !emitted[1].Content[0].IsError {
		t.Error("Task result should be an error")
	}
	if !strings.Contains(emitted[1].Content[0].Content, "model crashed") {
		t.Errorf("Task error content = %q", emitted[1].Content[0].Content)
	}
}

func TestRunTask_ZeroIntermediatesStillTerminal(t *testing.T) {
	subProvider := llm.NewMockProvider()
	subProvider.SetError(errors.New("immediate failure"))

	main := llm.NewMockProvider()
	main.SetToolCalls(taskCall("call_task", "worker", "doomed"))
	main.SetResponse("noted")

	e, _ := New(Config{
		Provider:  main,
		SubAgents: []SubAgentSpec{{Type: "worker", Provider: subProvider}},
	})

	var progress []protocol.AgentProgress
	if _, err := e.Run(context.Background(), Request{
		SessionID:  "s",
		OnProgress: func(p protocol.AgentProgress) { progress = append(progress, p) },
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(progress) != 1 {
		t.Fatalf("got %d progress events, want exactly one terminal", len(progress))
	}
	if progress[0].Status != protocol.StatusFailed {
		t.Errorf("status = %q, want failed", progress[0].Status)
	}
}

func TestRunTask_SpawnSpanCompleted(t *testing.T) {
	rec := tracetest.Install(t)

	subProvider := llm.NewMockProvider()
	subProvider.SetResponse("summary")

	main := llm.NewMockProvider()
	main.SetToolCalls(taskCall("call_task", "researcher", "dig in"))
	main.SetResponse("done")

	e, _ := New(Config{
		Provider:  main,
		SubAgents: []SubAgentSpec{{Type: "researcher", Provider: subProvider}},
	})
	if _, err := e.Run(context.Background(), Request{SessionID: "s"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	span := rec.SpanNamed("subagent.researcher")
	if span == nil {
		t.Fatal("no span recorded for the sub-agent spawn")
	}
	if !span.Ended() {
		t.Error("sub-agent span not ended")
	}
	if v, ok := span.Attr("subagent.status"); !ok || v.AsString() != protocol.StatusCompleted {
		t.Errorf("subagent.status = %q, want completed", v.AsString())
	}
	if v, ok := span.Attr("subagent.type"); !ok || v.AsString() != "researcher" {
		t.Errorf("subagent.type = %q, want researcher", v.AsString())
	}
	if span.Status() != codes.Ok {
		t.Errorf("span status = %v, want Ok", span.Status())
	}
}

func TestRunTask_SpawnSpanFailed(t *testing.T) {
	rec := tracetest.Install(t)

	subProvider := llm.NewMockProvider()
	subProvider.SetError(errors.New("immediate failure"))

	main := llm.NewMockProvider()
	main.SetToolCalls(taskCall("call_task", "worker", "doomed"))
	main.SetResponse("noted")

	e, _ := New(Config{
		Provider:  main,
		SubAgents: []SubAgentSpec{{Type: "worker", Provider: subProvider}},
	})
	if _, err := e.Run(context.Background(), Request{SessionID: "s"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	span := rec.SpanNamed("subagent.worker")
	if span == nil {
		t.Fatal("no span recorded for the failed spawn")
	}
	if !span.Ended() {
		t.Error("failed spawn span not ended")
	}
	if v, ok := span.Attr("subagent.status"); !ok || v.AsString() != protocol.StatusFailed {
		t.Errorf("subagent.status = %q, want failed", v.AsString())
	}
	if span.Status() != codes.Error {
		t.Errorf("span status = %v, want Error", span.Status())
	}
	if len(span.Errors()) == 0 {
		t.Error("failure not recorded on the span")
	}
}

// --- Failure Tests ---

func TestRunTask_UnknownAgentType(t *testing.T) {
	main := llm.NewMockProvider()
	main.SetToolCalls(taskCall("call_task", "ghost", "do it"))
	main.SetResponse("acknowledged")

	e, _ := New(Config{
		Provider:  main,
		SubAgents: []SubAgentSpec{{Type: "worker", Provider: llm.NewMockProvider()}},
	})

	var emitted []protocol.Message
	var progress []protocol.AgentProgress
	if _, err := e.Run(context.Background(), Request{
		SessionID:  "s",
		OnMessage:  func(m protocol.Message) { emitted = append(emitted, m) },
		OnProgress: func(p protocol.AgentProgress) { progress = append(progress, p) },
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !emitted[1].Content[0].IsError {
		t.Error("unknown agent type should produce an error result")
	}
	// No spawn happened, so no progress stream.
	if len(progress) != 0 {
		t.Errorf("got %d progress events, want 0", len(progress))
	}
}

func TestSubAgentDefs_ExcludesTaskAndFiltersAllowlist(t *testing.T) {
	reg := tools.NewRegistry()
	addTool(t, reg, "alpha", func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return "", nil })
	addTool(t, reg, "beta", func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return "", nil })

	e, _ := New(Config{
		Provider:  llm.NewMockProvider(),
		Registry:  reg,
		SubAgents: []SubAgentSpec{{Type: "worker"}},
	})

	defs := e.subAgentDefs(SubAgentSpec{Tools: []string{"beta"}})
	if len(defs) != 1 || defs[0].Name != "beta" {
		t.Errorf("defs = %+v, want only beta", defs)
	}

	all := e.subAgentDefs(SubAgentSpec{})
	if len(all) != 2 {
		t.Errorf("unrestricted defs = %d tools, want 2", len(all))
	}
	for _, d := range all {
		if d.Name == "Task" {
			t.Error("sub-agent defs must not include the Task tool")
		}
	}
}
