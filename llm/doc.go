// Package llm provides a provider-neutral interface to chat model APIs.
//
// # Overview
//
// The Provider interface abstracts over model vendors so the agent loop
// never depends on a specific SDK. Concrete implementations exist for
// Anthropic, OpenAI, and Google Gemini, plus a MockProvider for tests.
//
// # Usage
//
// Create a provider from configuration; the vendor can be inferred from
// the model name:
//
//	provider, err := llm.NewProvider(llm.ProviderConfig{
//	    Model:     "claude-sonnet-4-5",
//	    APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
//	    MaxTokens: 4096,
//	})
//	resp, err := provider.Chat(ctx, llm.ChatRequest{
//	    Messages: []llm.Message{{Role: "user", Content: "hello"}},
//	})
//
// Rate-limit and transient server errors are retried with exponential
// backoff; billing errors fail immediately.
//
// # Thread Safety
//
// Providers are safe for concurrent use by multiple goroutines.
package llm
