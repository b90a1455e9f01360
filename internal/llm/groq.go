package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-analyzer/internal/config"
)

// groqProvider speaks Groq's OpenAI-compatible chat completions API.
type groqProvider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int64
	http        *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int64         `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func newGroq(cfg config.GroqConfig, shared config.LLMConfig) *groqProvider {
	return &groqProvider{
		apiKey:      cfg.Key,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: shared.Temperature,
		maxTokens:   shared.MaxTokens,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (g *groqProvider) Name() string { return "groq" }

func (g *groqProvider) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", eris.Wrap(err, "groq: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "groq: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "groq: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "groq: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("groq: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", eris.Wrap(err, "groq: unmarshal response")
	}
	if len(result.Choices) == 0 {
		return "", eris.New("groq: empty choices in response")
	}

	return result.Choices[0].Message.Content, nil
}
