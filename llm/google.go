package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleProvider implements Provider using the official Google Gemini SDK.
type GoogleProvider struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	retry     RetryConfig
}

// NewGoogleProvider creates a Google Gemini provider.
func NewGoogleProvider(cfg ProviderConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for google")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for google")
	}
	if cfg.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required for google")
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	maxTokens := int32(cfg.MaxTokens)
	model.MaxOutputTokens = &maxTokens

	return &GoogleProvider{
		client:    client,
		model:     model,
		modelName: cfg.Model,
		retry:     cfg.Retry,
	}, nil
}

// Close closes the underlying client.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

// Chat implements the Provider interface. Gemini's chat API wants the
// final user turn as the sent message rather than history, so the
// conversation is rebuilt as history + prompt on every call.
func (p *GoogleProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.configureModel(req)

	cs := p.model.StartChat()
	cs.History = p.buildHistory(req.Messages)
	prompt := popPrompt(cs)

	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, p.retry, "google", func() error {
		var callErr error
		resp, callErr = cs.SendMessage(ctx, genai.Text(prompt))
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return p.readResponse(resp), nil
}

// configureModel applies per-request system instruction and tool
// declarations to the shared model handle.
func (p *GoogleProvider) configureModel(req ChatRequest) {
	for _, m := range req.Messages {
		if m.Role == "system" {
			p.model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(m.Content)},
			}
			break
		}
	}

	if len(req.Tools) == 0 {
		return
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, def := range req.Tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toGeminiSchema(def.Parameters),
		})
	}
	p.model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
}

// buildHistory maps neutral messages onto Gemini contents. Assistant
// turns use role "model"; tool results ride as FunctionResponse parts in
// user turns, keyed by the function name the engine stored in
// ToolCallID.
func (p *GoogleProvider) buildHistory(msgs []Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			history = append(history, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		case "assistant":
			content := &genai.Content{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			history = append(history, content)
		case "tool":
			history = append(history, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     m.ToolCallID,
					Response: map[string]interface{}{"result": m.Content},
				}},
			})
		}
	}
	return history
}

// popPrompt removes the trailing user turn from the chat history and
// returns its text, to be sent as the live message.
func popPrompt(cs *genai.ChatSession) string {
	n := len(cs.History)
	if n == 0 || cs.History[n-1].Role != "user" {
		return ""
	}
	last := cs.History[n-1]
	cs.History = cs.History[:n-1]
	if len(last.Parts) == 0 {
		return ""
	}
	text, _ := last.Parts[0].(genai.Text)
	return string(text)
}

// readResponse reads the first candidate. Gemini function calls carry no
// id, so one is synthesized from the function name.
func (p *GoogleProvider) readResponse(resp *genai.GenerateContentResponse) *ChatResponse {
	out := &ChatResponse{Model: p.modelName}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason != 0 {
		out.StopReason = candidate.FinishReason.String()
	}
	if candidate.Content == nil {
		return out
	}
	for _, part := range candidate.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Content += string(v)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   fmt.Sprintf("call_%s", v.Name),
				Name: v.Name,
				Args: v.Args,
			})
		}
	}
	return out
}

// toGeminiSchema converts a JSON Schema object into Gemini's Schema.
func toGeminiSchema(params map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject}
	schema.Properties = toGeminiProperties(params["properties"])
	if required, ok := params["required"].([]interface{}); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// toGeminiProperties converts a schema's properties map, skipping
// malformed entries.
func toGeminiProperties(v interface{}) map[string]*genai.Schema {
	props, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]*genai.Schema, len(props))
	for name, p := range props {
		if propMap, ok := p.(map[string]interface{}); ok {
			out[name] = toGeminiProperty(propMap)
		}
	}
	return out
}

// toGeminiProperty converts one schema property, recursing into arrays
// and nested objects.
func toGeminiProperty(prop map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{}

	switch prop["type"] {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if items, ok := prop["items"].(map[string]interface{}); ok {
			schema.Items = toGeminiProperty(items)
		}
	case "object":
		schema.Type = genai.TypeObject
		schema.Properties = toGeminiProperties(prop["properties"])
	}

	if desc, ok := prop["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := prop["enum"].([]interface{}); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	return schema
}
