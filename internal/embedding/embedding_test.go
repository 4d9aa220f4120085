package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rcliao/closer/internal/similarity"
)

func TestOpenAIEmbedder_Success(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected /embeddings, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("unexpected Authorization header: %s", r.Header.Get("Authorization"))
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Dimensions != 3 {
			t.Errorf("expected reduced dimensions to be requested, got %d", req.Dimensions)
		}
		if req.Input != "Hello World" {
			t.Errorf("input should be passed verbatim, got %q", req.Input)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": want}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "key", "", 3)
	got, err := e.Embed(context.Background(), "Hello World")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != 3 || got[2] != 0.3 {
		t.Errorf("unexpected embedding %v", got)
	}
	if e.Dims() != 3 {
		t.Errorf("expected dims 3, got %d", e.Dims())
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "nope", "", 0)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestOllamaEmbedder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("expected /api/embeddings, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"embedding":[1,0,0]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "all-minilm", 0)
	if e.Dims() != 0 {
		t.Errorf("dims should be unknown before the first call, got %d", e.Dims())
	}
	got, err := e.Embed(context.Background(), "hi")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("unexpected embedding %v", got)
	}
	if e.Dims() != 3 {
		t.Errorf("expected dims learned from reply, got %d", e.Dims())
	}
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"embedding":[1,0,0]}`))
			return
		}
		w.Write([]byte(`{"embedding":[1,0]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "", 0)
	if _, err := e.Embed(context.Background(), "a"); err != nil {
		t.Fatalf("first embed: %v", err)
	}
	if _, err := e.Embed(context.Background(), "b"); err == nil {
		t.Error("expected error for a shorter vector")
	}
}

func TestOllamaEmbedder_ErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "missing", 0).Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("expected provider message in error, got %v", err)
	}
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "the quiet harbour at night")
	b, _ := e.Embed(ctx, "the quiet harbour at night")
	if sim := similarity.CosineSimilarity(a, b); sim < 0.9999 {
		t.Errorf("same text should embed identically, similarity %f", sim)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 dims, got %d", len(a))
	}
}

func TestHashEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "harbour lanterns fog")
	near, _ := e.Embed(ctx, "fog over the harbour lanterns")
	far, _ := e.Embed(ctx, "quarterly budget spreadsheet")
	if similarity.CosineSimilarity(q, near) <= similarity.CosineSimilarity(q, far) {
		t.Error("overlapping text should be more similar than unrelated text")
	}
}

func TestHashEmbedder_CaseSensitive(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "Paris")
	b, _ := e.Embed(ctx, "paris")
	if similarity.CosineSimilarity(a, b) > 0.9999 {
		t.Error("embedder must not fold case")
	}
}

type countingEmbedder struct {
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	c.calls.Add(1)
	return Vector{1, 0}, nil
}

func (c *countingEmbedder) Dims() int { return 2 }

func TestCached_ReusesVector(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCached(inner, 100)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	c.Embed(ctx, "same")
	c.Embed(ctx, "same")
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("expected 1 inner call, got %d", n)
	}
	c.Embed(ctx, "Same")
	if n := inner.calls.Load(); n != 2 {
		t.Errorf("differently cased text must miss the cache, got %d calls", n)
	}
	if c.Dims() != 2 {
		t.Errorf("expected dims 2, got %d", c.Dims())
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	e, err := New(Config{})
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if _, ok := e.(*HashEmbedder); !ok {
		t.Errorf("expected hash embedder by default, got %T", e)
	}
}
