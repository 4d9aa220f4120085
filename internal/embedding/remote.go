package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// remote holds what the HTTP providers share: an endpoint, a client and
// the vector length every response must have.
type remote struct {
	name    string
	baseURL string
	client  *http.Client
	// dims is fixed by config, or learned from the first response when 0.
	dims atomic.Int64
}

func newRemote(name, baseURL string, dims int) *remote {
	r := &remote{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	r.dims.Store(int64(dims))
	return r
}

func (r *remote) setTimeout(d time.Duration) {
	if d > 0 {
		r.client.Timeout = d
	}
}

func (r *remote) Dims() int { return int(r.dims.Load()) }

// post sends body as JSON to path and returns the raw response body of a
// 200 reply. Any other status becomes an error carrying errMsg(body) when
// it yields a message, else the body itself.
func (r *remote) post(ctx context.Context, path string, header http.Header, body any, errMsg func([]byte) string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", r.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", r.name, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read: %w", r.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(b)
		if errMsg != nil {
			if m := errMsg(b); m != "" {
				msg = m
			}
		}
		return nil, fmt.Errorf("%s error %d: %s", r.name, resp.StatusCode, msg)
	}
	return b, nil
}

// check rejects empty vectors and vectors whose length differs from the
// known dimension. The first vector fixes the dimension when none was
// configured.
func (r *remote) check(v Vector) (Vector, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%s returned no embedding", r.name)
	}
	n := int64(len(v))
	if r.dims.CompareAndSwap(0, n) {
		return v, nil
	}
	if want := r.dims.Load(); want != n {
		return nil, fmt.Errorf("%s returned %d dims, expected %d", r.name, n, want)
	}
	return v, nil
}

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	*remote
	model string
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder using Ollama's API. The default
// model is nomic-embed-text. dims 0 learns the length from the first reply.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{remote: newRemote("ollama", baseURL, dims), model: model}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	b, err := e.post(ctx, "/api/embeddings", nil, ollamaRequest{Model: e.model, Prompt: text}, func(b []byte) string {
		var r struct {
			Error string `json:"error"`
		}
		json.Unmarshal(b, &r)
		return r.Error
	})
	if err != nil {
		return nil, err
	}
	var result ollamaResponse
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("ollama decode: %w", err)
	}
	return e.check(result.Embedding)
}

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	*remote
	apiKey string
	model  string
	// sendDims asks the API for a reduced vector length.
	sendDims bool
}

type openaiEmbedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
// dims 0 means the model's native 1536.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	sendDims := dims > 0 && dims != 1536
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		remote:   newRemote("openai", baseURL, dims),
		apiKey:   apiKey,
		model:    model,
		sendDims: sendDims,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	req := openaiEmbedRequest{Input: text, Model: e.model}
	if e.sendDims {
		req.Dimensions = e.Dims()
	}
	var header http.Header
	if e.apiKey != "" {
		header = http.Header{"Authorization": {"Bearer " + e.apiKey}}
	}

	b, err := e.post(ctx, "/embeddings", header, req, func(b []byte) string {
		var r openaiEmbedResponse
		if json.Unmarshal(b, &r) == nil && r.Error != nil {
			return r.Error.Message
		}
		return ""
	})
	if err != nil {
		return nil, err
	}
	var result openaiEmbedResponse
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("openai decode: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embedding")
	}
	return e.check(result.Data[0].Embedding)
}
