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

// ollamaProvider calls a self-hosted Ollama instance. This is the only
// provider with a per-call timeout, since a local model can hang far longer
// than a hosted API would.
type ollamaProvider struct {
	host        string
	model       string
	temperature float64
	maxTokens   int64
	http        *http.Client
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func newOllama(cfg config.OllamaConfig, shared config.LLMConfig) *ollamaProvider {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ollamaProvider{
		host:        cfg.Host,
		model:       cfg.Model,
		temperature: shared.Temperature,
		maxTokens:   shared.MaxTokens,
		http:        &http.Client{Timeout: timeout},
	}
}

func (o *ollamaProvider) Name() string { return "ollama" }

func (o *ollamaProvider) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": o.temperature,
			"num_predict": o.maxTokens,
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ollama: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "ollama: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "ollama: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "ollama: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", eris.Wrap(err, "ollama: unmarshal response")
	}

	return result.Response, nil
}
