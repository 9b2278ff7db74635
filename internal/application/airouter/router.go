package airouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smilemakc/mbflow/internal/application/airouter/provider"
	"github.com/smilemakc/mbflow/internal/application/observer"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/internal/infrastructure/ratelimit"
	"github.com/smilemakc/mbflow/pkg/models"
)

const (
	maxAttempts       = 3
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 8 * time.Second
	defaultCallBudget = 60 * time.Second
)

// Router dispatches a task-typed prompt to the provider the routing table
// names, falling back through the chain on quota exhaustion or retryable
// failure, the way the engine's node executor walks a DAG node's retry
// policy but scoped to one AI call.
type Router struct {
	providers map[string]provider.Provider
	limiters  map[string]*ratelimit.Limiter
	observers *observer.ObserverManager
	logger    *logger.Logger
}

// New builds a Router. limiters may be nil or missing entries for a
// provider; a provider with no limiter is treated as unmetered.
func New(providers map[string]provider.Provider, limiters map[string]*ratelimit.Limiter, observers *observer.ObserverManager, log *logger.Logger) *Router {
	return &Router{
		providers: providers,
		limiters:  limiters,
		observers: observers,
		logger:    log,
	}
}

// Dispatch routes req through its task type's provider chain (or the single
// explicit provider, when req.ExplicitProvider is set), applying per-provider
// quotas, a bounded retry policy for transient failures, and a one-shot
// reinforced retry when parse_json is requested but the reply isn't valid
// JSON.
func (r *Router) Dispatch(ctx context.Context, req Request) (*Response, error) {
	providers := chain(req.TaskType)
	if req.ExplicitProvider != "" {
		providers = []string{req.ExplicitProvider}
	}

	timeout := req.Timeout
	if timeout <= 0 || timeout > defaultCallBudget {
		timeout = defaultCallBudget
	}

	var lastErr error
	for _, name := range providers {
		prov, ok := r.providers[name]
		if !ok {
			lastErr = fmt.Errorf("airouter: provider %q not configured", name)
			continue
		}

		if limiter, ok := r.limiters[name]; ok {
			allowed, retryAfter, err := limiter.Allow(ctx, name)
			if err != nil {
				lastErr = fmt.Errorf("airouter: quota check for %s: %w", name, err)
				continue
			}
			if !allowed {
				lastErr = &models.RateLimitedError{Resource: "ai:" + name, RetryAfterSeconds: retryAfter}
				continue
			}
		}

		resp, err := r.callWithRetry(ctx, name, prov, req, timeout)
		if err == nil {
			return resp, nil
		}

		if isTerminal(err) {
			return nil, err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("airouter: no provider available for task type %q", req.TaskType)
	}
	return nil, lastErr
}

// isTerminal reports whether err should abort the whole dispatch rather than
// fall through to the next provider in the chain: auth/validation failures
// and a JSON-parse failure are provider-agnostic, not provider-unavailable.
func isTerminal(err error) bool {
	var authErr *models.AuthError
	var validErr *models.ValidationError
	var parseErr *ParseError
	return errors.As(err, &authErr) || errors.As(err, &validErr) || errors.As(err, &parseErr)
}

func (r *Router) callWithRetry(ctx context.Context, name string, prov provider.Provider, req Request, timeout time.Duration) (*Response, error) {
	chatReq := provider.ChatRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var chatResp *provider.ChatResponse
	var callErr error
	var latency time.Duration

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		r.emitAIRequest(ctx, req, name, chatReq.Model, attempt)

		start := time.Now()
		chatResp, callErr = prov.Chat(callCtx, chatReq)
		latency = time.Since(start)
		cancel()

		if callErr == nil {
			break
		}

		terminalErr, retryable := classify(name, callErr)
		if !retryable {
			return nil, terminalErr
		}
		if attempt == maxAttempts {
			callErr = terminalErr
			break
		}

		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if callErr != nil {
		return nil, fmt.Errorf("airouter: %s exhausted retries: %w", name, callErr)
	}

	if req.ParseJSON && !json.Valid([]byte(chatResp.Text)) {
		reinforced := chatReq
		reinforced.System = "Respond with valid JSON only. No markdown fences, no commentary."
		retryCtx, cancel := context.WithTimeout(ctx, timeout)
		r.emitAIRequest(ctx, req, name, chatReq.Model, maxAttempts+1)
		retried, err := prov.Chat(retryCtx, reinforced)
		cancel()
		if err != nil || !json.Valid([]byte(retried.Text)) {
			raw := chatResp.Text
			if retried != nil {
				raw = retried.Text
			}
			return nil, &ParseError{Provider: name, Raw: raw, Err: fmt.Errorf("response is not valid JSON")}
		}
		chatResp = retried
	}

	resp := &Response{
		Text:       chatResp.Text,
		Provider:   name,
		Model:      chatResp.Model,
		TokensUsed: chatResp.TotalTokens(),
		Cost:       cost(name, chatResp.PromptTokens, chatResp.CompletionTokens),
		Confidence: 1.0,
		LatencyMs:  latency.Milliseconds(),
	}
	r.emitAIResponse(ctx, req, resp)
	return resp, nil
}

// classify turns a provider's error into the terminal error Dispatch should
// surface (if any) and whether the failure is retryable. Errors other than
// provider.StatusError (a programmer error, a context cancellation) are
// treated as non-retryable so they don't loop silently.
func classify(name string, err error) (terminalErr error, retryable bool) {
	var statusErr *provider.StatusError
	if !errors.As(err, &statusErr) {
		return err, false
	}

	switch {
	case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
		return &models.AuthError{Action: "ai_provider_call:" + name, Err: statusErr}, false
	case statusErr.StatusCode == 429:
		return &models.RateLimitedError{Resource: "ai:" + name}, true
	case statusErr.StatusCode >= 500:
		return &models.TransientError{Op: "ai_provider_call:" + name, Err: statusErr}, true
	case statusErr.StatusCode >= 400:
		return &models.ValidationError{Field: "provider:" + name, Message: statusErr.Error()}, false
	default:
		return statusErr, true
	}
}

func backoff(attempt int) time.Duration {
	d := baseBackoff * time.Duration(1<<uint(attempt-1))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (r *Router) emitAIRequest(ctx context.Context, req Request, providerName, model string, attempt int) {
	if r.observers == nil {
		return
	}
	nodeID := req.NodeID
	r.observers.Notify(ctx, observer.Event{
		Type:        observer.EventTypeAIRequest,
		ExecutionID: req.ExecutionID,
		NodeID:      &nodeID,
		Timestamp:   time.Now(),
		Metadata: map[string]any{
			"provider":  providerName,
			"model":     model,
			"task_type": string(req.TaskType),
			"attempt":   attempt,
			"trace_id":  req.TraceID,
		},
	})
}

func (r *Router) emitAIResponse(ctx context.Context, req Request, resp *Response) {
	if r.observers == nil {
		return
	}
	nodeID := req.NodeID
	r.observers.Notify(ctx, observer.Event{
		Type:        observer.EventTypeAIResponse,
		ExecutionID: req.ExecutionID,
		NodeID:      &nodeID,
		Timestamp:   time.Now(),
		Metadata: map[string]any{
			"provider":    resp.Provider,
			"model":       resp.Model,
			"tokens_used": resp.TokensUsed,
			"cost":        resp.Cost,
			"latency_ms":  resp.LatencyMs,
			"trace_id":    req.TraceID,
		},
	})
}
