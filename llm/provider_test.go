package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestInferProviderFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-5", "anthropic"},
		{"claude-opus-4", "anthropic"},
		{"gpt-4o", "openai"},
		{"o1-preview", "openai"},
		{"o3-mini", "openai"},
		{"gemini-2.0-flash", "google"},
		{"GEMINI-1.5-PRO", "google"},
		{"llama-3", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := InferProviderFromModel(tt.model); got != tt.want {
			t.Errorf("InferProviderFromModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestProviderConfig_Validate(t *testing.T) {
	valid := ProviderConfig{
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-5",
		APIKey:    "sk-test",
		MaxTokens: 4096,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
	}{
		{"missing provider", func(c *ProviderConfig) { c.Provider = "" }},
		{"missing model", func(c *ProviderConfig) { c.Model = "" }},
		{"missing api key", func(c *ProviderConfig) { c.APIKey = "" }},
		{"missing max tokens", func(c *ProviderConfig) { c.MaxTokens = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(ProviderConfig{
		Provider:  "cohere",
		Model:     "command-r",
		APIKey:    "key",
		MaxTokens: 1024,
	})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewProvider_InferenceFailure(t *testing.T) {
	_, err := NewProvider(ProviderConfig{
		Model:     "mystery-model",
		APIKey:    "key",
		MaxTokens: 1024,
	})
	if err == nil {
		t.Fatal("expected error when provider cannot be inferred")
	}
}

func TestNewProvider_InfersAnthropic(t *testing.T) {
	p, err := NewProvider(ProviderConfig{
		Model:     "claude-sonnet-4-5",
		APIKey:    "sk-test",
		MaxTokens: 1024,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, ok := p.(*AnthropicProvider); !ok {
		t.Errorf("got provider type %T, want *AnthropicProvider", p)
	}
}

func TestMockProvider_DefaultResponse(t *testing.T) {
	mock := NewMockProvider()

	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content == "" {
		t.Error("expected non-empty default content")
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, "end_turn")
	}
	if mock.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1", mock.CallCount())
	}
}

func TestMockProvider_QueuedResponses(t *testing.T) {
	mock := NewMockProvider()
	mock.SetToolCall("call_1", "Search", map[string]interface{}{"query": "go"})
	mock.SetResponse("done")

	first, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(first.ToolCalls) != 1 || first.ToolCalls[0].Name != "Search" {
		t.Fatalf("first response tool calls = %+v, want one Search call", first.ToolCalls)
	}
	if first.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want %q", first.StopReason, "tool_use")
	}

	second, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if second.Content != "done" {
		t.Errorf("second response content = %q, want %q", second.Content, "done")
	}

	// Queue exhausted: last response repeats.
	third, _ := mock.Chat(context.Background(), ChatRequest{})
	if third.Content != "done" {
		t.Errorf("third response content = %q, want %q", third.Content, "done")
	}
}

func TestMockProvider_RecordsRequests(t *testing.T) {
	mock := NewMockProvider()

	req := ChatRequest{Messages: []Message{{Role: "user", Content: "question"}}}
	if _, err := mock.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	last := mock.LastRequest()
	if last == nil || len(last.Messages) != 1 || last.Messages[0].Content != "question" {
		t.Errorf("LastRequest = %+v, want recorded request", last)
	}
}

func TestMockProvider_Error(t *testing.T) {
	mock := NewMockProvider()
	wantErr := errors.New("boom")
	mock.SetError(wantErr)

	_, err := mock.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Chat error = %v, want %v", err, wantErr)
	}
}

func TestMockProvider_ChatFuncOverride(t *testing.T) {
	mock := NewMockProvider()
	mock.ChatFunc = func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{Content: "override"}, nil
	}

	resp, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "override" {
		t.Errorf("Content = %q, want %q", resp.Content, "override")
	}
}

// --- Failure Tests ---

func TestWithRetry_RetriesRateLimit(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 3, InitBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	err := withRetry(context.Background(), cfg, "test", func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("429 too many requests")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetry_BillingErrorFatal(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 3, InitBackoff: time.Millisecond}

	err := withRetry(context.Background(), cfg, "test", func() error {
		attempts++
		return fmt.Errorf("402 payment required: billing issue")
	})
	if err == nil {
		t.Fatal("expected billing error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (billing errors must not retry)", attempts)
	}
}

func TestWithRetry_NonRetryableFailsFast(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 3, InitBackoff: time.Millisecond}

	err := withRetry(context.Background(), cfg, "test", func() error {
		attempts++
		return fmt.Errorf("400 bad request: invalid model")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestWithRetry_ExhaustsRetries(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 2, InitBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	err := withRetry(context.Background(), cfg, "test", func() error {
		attempts++
		return fmt.Errorf("503 service unavailable")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxRetries: 5, InitBackoff: 10 * time.Second}
	err := withRetry(ctx, cfg, "test", func() error {
		return fmt.Errorf("overloaded")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err       string
		retryable bool
		billing   bool
	}{
		{"rate limit exceeded", true, false},
		{"429 Too Many Requests", true, false},
		{"server overloaded", true, false},
		{"500 internal server error", true, false},
		{"502 bad gateway", true, false},
		{"quota exceeded for project", false, true},
		{"insufficient credits", false, true},
		{"invalid api key", false, false},
	}

	for _, tt := range tests {
		err := errors.New(tt.err)
		if got := isRetryableError(err); got != tt.retryable {
			t.Errorf("isRetryableError(%q) = %v, want %v", tt.err, got, tt.retryable)
		}
		if got := isBillingError(err); got != tt.billing {
			t.Errorf("isBillingError(%q) = %v, want %v", tt.err, got, tt.billing)
		}
	}
}
