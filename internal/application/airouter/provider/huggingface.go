package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HuggingFace adapts the classic HuggingFace Inference API
// (api-inference.huggingface.co/models/{model}), a third wire shape
// distinct from both OpenAI-compatible chat completions and Gemini's
// contents/parts schema: a bare {inputs, parameters} request and either an
// array or a single object of {generated_text} in response.
type HuggingFace struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

// NewHuggingFace builds a HuggingFace adapter. baseURL defaults to the
// public Inference API endpoint if empty.
func NewHuggingFace(apiKey, baseURL, defaultModel string) *HuggingFace {
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co/models"
	}
	return &HuggingFace{
		apiKey:       apiKey,
		baseURL:      baseURL,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns "huggingface".
func (p *HuggingFace) Name() string { return "huggingface" }

type hfRequestBody struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters,omitempty"`
	Options    hfOptions    `json:"options,omitempty"`
}

type hfParameters struct {
	Temperature    float64 `json:"temperature,omitempty"`
	MaxNewTokens   int     `json:"max_new_tokens,omitempty"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type hfResult struct {
	GeneratedText string `json:"generated_text"`
}

// Chat sends req as an Inference API call and normalizes the response.
// HuggingFace's classic API has no usage/token accounting in its response,
// so this adapter estimates tokens from text length instead.
func (p *HuggingFace) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	body := hfRequestBody{
		Inputs: prompt,
		Parameters: hfParameters{
			Temperature:    req.Temperature,
			MaxNewTokens:   req.MaxTokens,
			ReturnFullText: false,
		},
		Options: hfOptions{WaitForModel: true},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("huggingface: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("huggingface: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &StatusError{StatusCode: http.StatusServiceUnavailable, Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("huggingface: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Provider: p.Name(), Err: fmt.Errorf("%s", string(respBody))}
	}

	text, err := parseHFResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("huggingface: %w", err)
	}

	// Inference API's classic endpoint reports no token usage; estimate
	// from text length (roughly 4 bytes/token) so downstream cost/quota
	// accounting has a non-zero figure to work with.
	return &ChatResponse{
		Text:             text,
		Model:            model,
		PromptTokens:     len(prompt) / 4,
		CompletionTokens: len(text) / 4,
	}, nil
}

func parseHFResponse(raw []byte) (string, error) {
	var asArray []hfResult
	if err := json.Unmarshal(raw, &asArray); err == nil && len(asArray) > 0 {
		return asArray[0].GeneratedText, nil
	}

	var asObject hfResult
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.GeneratedText != "" {
		return asObject.GeneratedText, nil
	}

	return "", fmt.Errorf("unrecognized response shape: %s", string(raw))
}
