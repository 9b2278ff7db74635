package provider

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatible adapts any provider that speaks the OpenAI
// chat-completions wire format against a custom base URL - groq, qwen
// (DashScope's compatible mode), glm4 (Zhipu) and kimi (Moonshot) all do.
// One adapter, one dependency (sashabaranov/go-openai), four providers.
type OpenAICompatible struct {
	name         string
	client       *openai.Client
	defaultModel string
}

// NewOpenAICompatible builds an adapter named name, calling baseURL with
// apiKey. defaultModel is used when a request doesn't specify one.
func NewOpenAICompatible(name, apiKey, baseURL, defaultModel string) *OpenAICompatible {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompatible{
		name:         name,
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}
}

// Name returns the provider ID this adapter was constructed for.
func (p *OpenAICompatible) Name() string { return p.name }

// Chat sends req as a chat-completions call and normalizes the response.
func (p *OpenAICompatible) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, p.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &StatusError{StatusCode: http.StatusBadGateway, Provider: p.name, Err: errors.New("empty choices")}
	}

	return &ChatResponse{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classify turns a go-openai request error into a StatusError carrying
// the upstream HTTP status, so the router's retry/fallback policy can
// tell a transient 429/5xx from a terminal validation or auth failure.
func (p *OpenAICompatible) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Provider: p.name, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Provider: p.name, Err: err}
	}
	// Network/timeout error: no HTTP status to classify by, treated as a
	// 5xx (retryable) by the router.
	return &StatusError{StatusCode: http.StatusServiceUnavailable, Provider: p.name, Err: err}
}
