// Package websearch fetches fresh external context from the Brave Search API.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/memerr"
)

const (
	defaultBaseURL = "https://api.search.brave.com/res/v1/web/search"
	defaultTimeout = 10 * time.Second

	DefaultResults = 10
	MaxResults     = 20
	DefaultCountry = "US"
	DefaultLang    = "en"
)

// Result is one web hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Config configures a Client.
type Config struct {
	APIKey string
	// BaseURL overrides the search endpoint.
	BaseURL string
	Timeout time.Duration
	// Attempts is the number of tries per search; defaults to 2.
	Attempts int
}

// Client searches the web. Safe for concurrent use.
type Client struct {
	cfg    Config
	policy extcall.Policy
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		policy: extcall.Policy{Timeout: cfg.Timeout, Attempts: cfg.Attempts},
		http:   &http.Client{},
		logger: logger,
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search returns at most n results for query. n is clamped to [1, 20];
// empty country and lang default to US and en.
func (c *Client) Search(ctx context.Context, query string, n int, country, lang string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, memerr.Validation("search", "query is empty")
	}
	if c.cfg.APIKey == "" {
		return nil, memerr.Validation("search", "no Brave API key configured (set CLOSER_BRAVE_API_KEY)")
	}
	n = clamp(n, 1, MaxResults)
	if country == "" {
		country = DefaultCountry
	}
	if lang == "" {
		lang = DefaultLang
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(n))
	params.Set("country", country)
	params.Set("search_lang", lang)
	params.Set("safesearch", "moderate")
	endpoint := c.cfg.BaseURL + "?" + params.Encode()

	resp, err := extcall.Do(ctx, c.policy, memerr.ErrSearch, "search", func(ctx context.Context) (*braveResponse, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}

	hits := resp.Web.Results
	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{Title: h.Title, Link: h.URL, Snippet: h.Description})
	}
	c.logger.Debug("websearch: done", "query", query, "results", len(out))
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*braveResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("websearch: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: brave API %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out braveResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}
	return &out, nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
