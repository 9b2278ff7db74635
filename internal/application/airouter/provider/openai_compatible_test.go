package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompatible_Chat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama-3.3-70b-versatile", req.Model)
		assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[len(req.Messages)-1].Role)

		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "hi from groq"}},
			},
			Usage: openai.Usage{PromptTokens: 3, CompletionTokens: 7},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAICompatible("groq", "test-key", server.URL, "llama-3.3-70b-versatile")
	resp, err := p.Chat(t.Context(), ChatRequest{Prompt: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "hi from groq", resp.Text)
	assert.Equal(t, 3, resp.PromptTokens)
	assert.Equal(t, 7, resp.CompletionTokens)
	assert.Equal(t, "llama-3.3-70b-versatile", resp.Model)
}

func TestOpenAICompatible_Chat_SystemPromptIncluded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)

		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	p := NewOpenAICompatible("qwen", "test-key", server.URL, "qwen-plus")
	_, err := p.Chat(t.Context(), ChatRequest{Prompt: "hello", System: "be concise"})
	require.NoError(t, err)
}

func TestOpenAICompatible_Chat_NonOKStatusClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAICompatible("glm4", "bad-key", server.URL, "glm-4")
	_, err := p.Chat(t.Context(), ChatRequest{Prompt: "hello"})

	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}
