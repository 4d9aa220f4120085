package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rcliao/closer/internal/prompt"
)

const (
	defaultOpenAIBase    = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 60 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 60 s.
	Timeout time.Duration
}

// OpenAI implements Generator over /chat/completions. Safe for concurrent use.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates a chat completions generator.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (g *OpenAI) Generate(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
	var msgs []chatMessage
	if p.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: p.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: p.Render()})

	data, err := json.Marshal(chatRequest{Model: g.cfg.Model, Messages: msgs, MaxTokens: maxTokens})
	if err != nil {
		return "", fmt.Errorf("generate openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("generate openai: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate openai: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("generate openai: read response body: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("generate openai: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("generate openai: rate limit (HTTP 429): %s", out.Error.Message)
		}
		return "", fmt.Errorf("generate openai: API error (%s): %s", out.Error.Type, out.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("generate openai: unexpected HTTP status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("generate openai: no choices returned")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

var _ Generator = (*OpenAI)(nil)
