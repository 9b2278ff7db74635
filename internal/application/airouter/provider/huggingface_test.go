package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuggingFace_Chat_ArrayResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Path, "/meta-llama/Llama-3.1-8B-Instruct")

		json.NewEncoder(w).Encode([]hfResult{{GeneratedText: "generated text"}})
	}))
	defer server.Close()

	p := NewHuggingFace("test-token", server.URL, "meta-llama/Llama-3.1-8B-Instruct")
	resp, err := p.Chat(t.Context(), ChatRequest{Prompt: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "generated text", resp.Text)
}

func TestHuggingFace_Chat_ObjectResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(hfResult{GeneratedText: "object shape"})
	}))
	defer server.Close()

	p := NewHuggingFace("test-token", server.URL, "model")
	resp, err := p.Chat(t.Context(), ChatRequest{Prompt: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "object shape", resp.Text)
}

func TestHuggingFace_Chat_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("model is loading"))
	}))
	defer server.Close()

	p := NewHuggingFace("test-token", server.URL, "model")
	_, err := p.Chat(t.Context(), ChatRequest{Prompt: "hello"})

	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestHuggingFace_Chat_UnrecognizedShapeErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected":"shape"}`))
	}))
	defer server.Close()

	p := NewHuggingFace("test-token", server.URL, "model")
	_, err := p.Chat(t.Context(), ChatRequest{Prompt: "hello"})

	require.Error(t, err)
}
