package airouter

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/mbflow/internal/application/airouter/provider"
	"github.com/smilemakc/mbflow/pkg/models"
)

// fakeProvider is a scripted provider.Provider for exercising Router's
// retry/fallback policy without a real HTTP call.
type fakeProvider struct {
	name  string
	calls atomic.Int32
	// responses, consumed in order; the last one repeats once exhausted.
	responses []fakeResponse
}

type fakeResponse struct {
	resp *provider.ChatResponse
	err  error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	idx := int(p.calls.Add(1)) - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	r := p.responses[idx]
	return r.resp, r.err
}

func TestRouter_Dispatch_Success(t *testing.T) {
	groq := &fakeProvider{name: "groq", responses: []fakeResponse{
		{resp: &provider.ChatResponse{Text: "hello", Model: "llama", PromptTokens: 10, CompletionTokens: 5}},
	}}

	r := New(map[string]provider.Provider{"groq": groq}, nil, nil, nil)
	resp, err := r.Dispatch(context.Background(), Request{TaskType: TaskQuickDecision, Prompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "groq", resp.Provider)
	assert.Equal(t, 15, resp.TokensUsed)
	assert.Equal(t, int32(1), groq.calls.Load())
}

func TestRouter_Dispatch_RetriesTransientThenSucceeds(t *testing.T) {
	groq := &fakeProvider{name: "groq", responses: []fakeResponse{
		{err: &provider.StatusError{StatusCode: 503, Provider: "groq"}},
		{err: &provider.StatusError{StatusCode: 503, Provider: "groq"}},
		{resp: &provider.ChatResponse{Text: "ok", Model: "llama"}},
	}}

	r := New(map[string]provider.Provider{"groq": groq}, nil, nil, nil)
	resp, err := r.Dispatch(context.Background(), Request{TaskType: TaskQuickDecision, Prompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), groq.calls.Load())
}

func TestRouter_Dispatch_FallsBackAfterRetryableExhausted(t *testing.T) {
	groq := &fakeProvider{name: "groq", responses: []fakeResponse{
		{err: &provider.StatusError{StatusCode: 429, Provider: "groq"}},
		{err: &provider.StatusError{StatusCode: 429, Provider: "groq"}},
		{err: &provider.StatusError{StatusCode: 429, Provider: "groq"}},
	}}
	qwen := &fakeProvider{name: "qwen", responses: []fakeResponse{
		{resp: &provider.ChatResponse{Text: "from qwen", Model: "qwen-plus"}},
	}}

	r := New(map[string]provider.Provider{"groq": groq, "qwen": qwen}, nil, nil, nil)
	resp, err := r.Dispatch(context.Background(), Request{TaskType: TaskQuickDecision, Prompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "qwen", resp.Provider)
	assert.Equal(t, int32(3), groq.calls.Load())
	assert.Equal(t, int32(1), qwen.calls.Load())
}

func TestRouter_Dispatch_AuthErrorAbortsWithoutFallback(t *testing.T) {
	groq := &fakeProvider{name: "groq", responses: []fakeResponse{
		{err: &provider.StatusError{StatusCode: 401, Provider: "groq"}},
	}}
	qwen := &fakeProvider{name: "qwen", responses: []fakeResponse{
		{resp: &provider.ChatResponse{Text: "should not be called", Model: "qwen-plus"}},
	}}

	r := New(map[string]provider.Provider{"groq": groq, "qwen": qwen}, nil, nil, nil)
	_, err := r.Dispatch(context.Background(), Request{TaskType: TaskQuickDecision, Prompt: "hi"})

	require.Error(t, err)
	var authErr *models.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(0), qwen.calls.Load())
}

func TestRouter_Dispatch_ExplicitProviderOverridesRoutingTable(t *testing.T) {
	kimi := &fakeProvider{name: "kimi", responses: []fakeResponse{
		{resp: &provider.ChatResponse{Text: "from kimi", Model: "moonshot"}},
	}}

	r := New(map[string]provider.Provider{"kimi": kimi}, nil, nil, nil)
	resp, err := r.Dispatch(context.Background(), Request{
		TaskType:         TaskQuickDecision, // would normally route to groq
		ExplicitProvider: "kimi",
		Prompt:           "hi",
	})

	require.NoError(t, err)
	assert.Equal(t, "kimi", resp.Provider)
}

func TestRouter_Dispatch_ParseJSONRetriesOnceThenParseError(t *testing.T) {
	groq := &fakeProvider{name: "groq", responses: []fakeResponse{
		{resp: &provider.ChatResponse{Text: "not json", Model: "llama"}},
		{resp: &provider.ChatResponse{Text: "still not json", Model: "llama"}},
	}}

	r := New(map[string]provider.Provider{"groq": groq}, nil, nil, nil)
	_, err := r.Dispatch(context.Background(), Request{TaskType: TaskQuickDecision, Prompt: "hi", ParseJSON: true})

	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Equal(t, int32(2), groq.calls.Load())
}

func TestRouter_Dispatch_ParseJSONSucceedsOnReinforcedRetry(t *testing.T) {
	groq := &fakeProvider{name: "groq", responses: []fakeResponse{
		{resp: &provider.ChatResponse{Text: "not json", Model: "llama"}},
		{resp: &provider.ChatResponse{Text: `{"ok":true}`, Model: "llama"}},
	}}

	r := New(map[string]provider.Provider{"groq": groq}, nil, nil, nil)
	resp, err := r.Dispatch(context.Background(), Request{TaskType: TaskQuickDecision, Prompt: "hi", ParseJSON: true})

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, resp.Text)
}

func TestChain_UnknownTaskTypeFallsBackToAuto(t *testing.T) {
	c := chain(TaskType("unknown"))
	assert.Equal(t, chain(TaskAuto), c)
}

func TestChain_QuickDecision(t *testing.T) {
	c := chain(TaskQuickDecision)
	assert.Equal(t, []string{"groq", "qwen", "glm4"}, c)
}

func TestCost_FreeProviderIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cost("groq", 1000, 1000))
}

func TestCost_PaidProviderScalesWithTokens(t *testing.T) {
	c := cost("gemini", 1000, 1000)
	assert.Greater(t, c, 0.0)
}
