package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rcliao/closer/internal/prompt"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Anthropic implements Generator over the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic creates a Messages API generator. SDK retries are disabled;
// callers retry through extcall.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client, model: cfg.Model}
}

func (g *Anthropic) Generate(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.Render())),
		},
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("generate anthropic: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("generate anthropic: no text in response")
	}
	return strings.TrimSpace(b.String()), nil
}

var _ Generator = (*Anthropic)(nil)
