package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-analyzer/internal/config"
)

func sharedLLMConfig() config.LLMConfig {
	return config.LLMConfig{Temperature: 0.3, MaxTokens: 256}
}

func TestGroqGenerate(t *testing.T) {
	var gotReq chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello from groq"}},
			},
		})
	}))
	defer srv.Close()

	p := newGroq(config.GroqConfig{Key: "gsk-test", BaseURL: srv.URL, Model: "llama-3.3-70b-versatile"}, sharedLLMConfig())

	out, err := p.Generate(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello from groq", out)
	assert.Equal(t, "llama-3.3-70b-versatile", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "say hello", gotReq.Messages[0].Content)
	assert.InDelta(t, 0.3, gotReq.Temperature, 0.001)
	assert.EqualValues(t, 256, gotReq.MaxTokens)
}

func TestGroqGenerate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newGroq(config.GroqConfig{Key: "k", BaseURL: srv.URL, Model: "m"}, sharedLLMConfig())

	_, err := p.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGroqGenerate_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	p := newGroq(config.GroqConfig{Key: "k", BaseURL: srv.URL, Model: "m"}, sharedLLMConfig())

	_, err := p.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestOllamaGenerate(t *testing.T) {
	var gotReq ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]string{"response": "hello from ollama"})
	}))
	defer srv.Close()

	p := newOllama(config.OllamaConfig{Host: srv.URL, Model: "llama3", TimeoutSecs: 5}, sharedLLMConfig())

	out, err := p.Generate(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello from ollama", out)
	assert.Equal(t, "llama3", gotReq.Model)
	assert.Equal(t, "say hello", gotReq.Prompt)
	assert.False(t, gotReq.Stream)
}

func TestOllamaGenerate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := newOllama(config.OllamaConfig{Host: srv.URL, Model: "ghost", TimeoutSecs: 5}, sharedLLMConfig())

	_, err := p.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
