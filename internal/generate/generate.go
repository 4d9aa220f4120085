// Package generate turns assembled prompts into text. Providers are thin
// clients; callers bound them with extcall and never trust their output
// length.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/closer/internal/prompt"
)

// Generator produces text for a prompt. maxTokens is a request, not a
// guarantee: providers may return more.
type Generator interface {
	Generate(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error)
}

// Config selects and configures a Generator.
type Config struct {
	// Provider is "openai", "anthropic" or "extractive" (default).
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New creates the configured generator.
func New(cfg Config) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "extractive":
		return Extractive{}, nil
	case "openai":
		return NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case "anthropic":
		return NewAnthropic(AnthropicConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("generate: unknown provider %q", cfg.Provider)
	}
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error)

func (f Func) Generate(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
	return f(ctx, p, maxTokens)
}
