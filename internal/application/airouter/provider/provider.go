// Package provider implements the AI router's per-provider adapters: each
// one maps a provider's native request/response schema onto the common
// ChatRequest/ChatResponse shape the router dispatches against.
package provider

import (
	"context"
	"fmt"
)

// ChatRequest is the normalized shape every adapter accepts.
type ChatRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the normalized shape every adapter returns.
type ChatResponse struct {
	Text             string
	Model            string // the model actually used, after the adapter's default fill-in
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns the sum of prompt and completion tokens.
func (r *ChatResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Provider dials one AI backend.
type Provider interface {
	// Name is the provider ID used in routing tables, quota keys and
	// emitted events ("groq", "gemini", ...).
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StatusError carries the HTTP status an adapter's call failed with, so
// the router can classify 429/5xx as retryable and other 4xx as
// terminal without each adapter re-implementing that policy.
type StatusError struct {
	StatusCode int
	Provider   string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }
