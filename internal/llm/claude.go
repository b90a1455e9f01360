package llm

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-analyzer/internal/config"
)

// claudeProvider generates text through the official Anthropic SDK.
type claudeProvider struct {
	client      sdk.Client
	model       string
	temperature float64
	maxTokens   int64
}

func newClaude(cfg config.AnthropicConfig, shared config.LLMConfig) *claudeProvider {
	return &claudeProvider{
		client:      sdk.NewClient(option.WithAPIKey(cfg.Key)),
		model:       cfg.Model,
		temperature: shared.Temperature,
		maxTokens:   shared.MaxTokens,
	}
}

func (c *claudeProvider) Name() string { return "claude" }

func (c *claudeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: sdk.Float(c.temperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "claude: create message")
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}
