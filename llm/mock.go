package llm

import (
	"context"
	"sync"
)

// MockProvider is a configurable Provider for tests. It records requests
// and returns canned responses without any network calls.
type MockProvider struct {
	mu sync.Mutex

	// ChatFunc, when set, overrides all canned behavior.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	responses    []*ChatResponse
	err          error
	lastRequest  *ChatRequest
	requests     []ChatRequest
	callCount    int
	inputTokens  int
	outputTokens int
	stopReason   string
}

// NewMockProvider creates a mock provider with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{stopReason: "end_turn"}
}

// SetResponse queues a text-only response.
func (m *MockProvider) SetResponse(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &ChatResponse{Content: content})
	return m
}

// SetToolCall queues a response containing a single tool call.
func (m *MockProvider) SetToolCall(id, name string, args map[string]interface{}) *MockProvider {
	return m.SetToolCalls(ToolCall{ID: id, Name: name, Args: args})
}

// SetToolCalls queues a response containing the given tool calls.
func (m *MockProvider) SetToolCalls(calls ...ToolCall) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &ChatResponse{
		ToolCalls:  calls,
		StopReason: "tool_use",
	})
	return m
}

// SetError makes all subsequent calls fail with err.
func (m *MockProvider) SetError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// SetTokenCounts sets the usage reported on each response.
func (m *MockProvider) SetTokenCounts(input, output int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputTokens = input
	m.outputTokens = output
	return m
}

// SetStopReason overrides the stop reason for text responses.
func (m *MockProvider) SetStopReason(reason string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopReason = reason
	return m
}

// Chat implements the Provider interface. Queued responses are returned
// in order; the last one repeats once the queue is exhausted.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.lastRequest = &req
	m.requests = append(m.requests, req)

	if m.err != nil {
		return nil, m.err
	}

	var resp *ChatResponse
	switch {
	case len(m.responses) == 0:
		resp = &ChatResponse{Content: "mock response"}
	case m.callCount <= len(m.responses):
		resp = m.responses[m.callCount-1]
	default:
		resp = m.responses[len(m.responses)-1]
	}

	out := *resp
	if out.StopReason == "" {
		out.StopReason = m.stopReason
	}
	out.InputTokens = m.inputTokens
	out.OutputTokens = m.outputTokens
	out.Model = "mock-model"
	return &out, nil
}

// LastRequest returns the most recent request, or nil.
func (m *MockProvider) LastRequest() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// Requests returns all recorded requests.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of Chat calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears all recorded state and queued responses.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
	m.err = nil
	m.lastRequest = nil
	m.requests = nil
	m.callCount = 0
	m.inputTokens = 0
	m.outputTokens = 0
	m.stopReason = "end_turn"
}
