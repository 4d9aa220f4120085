package dream

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/generate"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/prompt"
	"github.com/rcliao/closer/internal/segment"
)

type fakeRetriever struct {
	memories []model.RetrievalResult
	queried  string
	recent   bool
}

func (f *fakeRetriever) Query(ctx context.Context, text string, k int, minRelevance float64) ([]model.RetrievalResult, error) {
	f.queried = text
	return f.memories, nil
}

func (f *fakeRetriever) Recent(ctx context.Context, k int) ([]model.RetrievalResult, error) {
	f.recent = true
	return f.memories, nil
}

func withMemories(texts ...string) *fakeRetriever {
	f := &fakeRetriever{}
	for _, t := range texts {
		f.memories = append(f.memories, model.RetrievalResult{Entry: model.MemoryEntry{Text: t}, Relevance: 0.9})
	}
	return f
}

func fixed(text string) generate.Generator {
	return generate.Func(func(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
		return text, nil
	})
}

var onePolicy = extcall.Policy{Timeout: time.Second, Attempts: 1}

func newEngine(r Retriever, g generate.Generator) *Engine {
	return New(r, g, Config{GeneratePolicy: onePolicy}, nil)
}

func TestDream_EmptyStoreReturnsSentinel(t *testing.T) {
	called := false
	gen := generate.Func(func(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
		called = true
		return "", nil
	})
	e := newEngine(withMemories(), gen)

	d, err := e.Dream(context.Background(), "", 5, 0)
	if err != nil {
		t.Fatalf("dream: %v", err)
	}
	if !d.Empty || d.Text != EmptySentinel {
		t.Errorf("expected empty sentinel, got %+v", d)
	}
	if called {
		t.Error("generator must not be called without memories")
	}
}

func TestDream_ThemeUsesQueryElseRecent(t *testing.T) {
	ctx := context.Background()
	r := withMemories("Waves at dusk")
	e := newEngine(r, fixed("A tide of lanterns."))

	if _, err := e.Dream(ctx, "  the sea ", 3, 0); err != nil {
		t.Fatalf("dream: %v", err)
	}
	if r.queried != "the sea" || r.recent {
		t.Errorf("expected themed query, got queried=%q recent=%v", r.queried, r.recent)
	}

	r2 := withMemories("Waves at dusk")
	if _, err := newEngine(r2, fixed("A tide.")).Dream(ctx, "", 3, 0); err != nil {
		t.Fatalf("dream: %v", err)
	}
	if !r2.recent || r2.queried != "" {
		t.Errorf("expected recent sample, got queried=%q recent=%v", r2.queried, r2.recent)
	}
}

func TestDream_RequestsCeilingAsMaxTokens(t *testing.T) {
	var asked int
	gen := generate.Func(func(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
		asked = maxTokens
		return "Short.", nil
	})
	e := newEngine(withMemories("x"), gen)
	d, err := e.Dream(context.Background(), "", 0, 0)
	if err != nil {
		t.Fatalf("dream: %v", err)
	}
	if asked != DefaultTokenCeiling {
		t.Errorf("expected max tokens %d, got %d", DefaultTokenCeiling, asked)
	}
	if d.Truncated || d.Text != "Short." || d.Tokens != segment.CountTokens("Short.") {
		t.Errorf("unexpected dream %+v", d)
	}
}

func TestDream_TruncatesAtSentenceBoundary(t *testing.T) {
	out := "The house floats. Its windows hum softly. Doors open onto snowfields."
	e := newEngine(withMemories("x"), fixed(out))

	ceiling := segment.CountTokens("The house floats. Its windows hum softly.")
	d, err := e.Dream(context.Background(), "", 1, ceiling)
	if err != nil {
		t.Fatalf("dream: %v", err)
	}
	if d.Text != "The house floats. Its windows hum softly." || !d.Truncated {
		t.Errorf("unexpected truncation %q (truncated=%v)", d.Text, d.Truncated)
	}
	if d.Tokens > ceiling {
		t.Errorf("tokens %d over ceiling", d.Tokens)
	}
}

func TestDream_NeverExceedsCeiling(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vocab := []string{"moon", "salt", "grandmother's", "kitchen", "unremembering", "a", "light", "Lisbon", "!", "river-glass"}
	for i := 0; i < 200; i++ {
		var b strings.Builder
		for w := 0; w < 20+rng.Intn(400); w++ {
			b.WriteString(vocab[rng.Intn(len(vocab))])
			switch rng.Intn(8) {
			case 0:
				b.WriteString(". ")
			case 1:
				b.WriteString("?\n\n")
			default:
				b.WriteString(" ")
			}
		}
		ceiling := 1 + rng.Intn(400)
		e := newEngine(withMemories("m"), fixed(b.String()))

		d, err := e.Dream(context.Background(), "", 1, ceiling)
		if err != nil {
			// Only possible when the first word alone exceeds the ceiling.
			if !errors.Is(err, memerr.ErrGeneration) {
				t.Fatalf("case %d: unexpected error %v", i, err)
			}
			continue
		}
		if got := segment.CountTokens(d.Text); got > ceiling || got != d.Tokens {
			t.Fatalf("case %d: %d tokens (reported %d) over ceiling %d", i, got, d.Tokens, ceiling)
		}
	}
}

func TestDream_GeneratorFailurePropagates(t *testing.T) {
	gen := generate.Func(func(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
		return "", errors.New("upstream 500")
	})
	e := newEngine(withMemories("x"), gen)
	if _, err := e.Dream(context.Background(), "", 1, 0); !errors.Is(err, memerr.ErrGeneration) {
		t.Errorf("expected ErrGeneration, got %v", err)
	}
}

func TestDream_NegativeCeiling(t *testing.T) {
	e := newEngine(withMemories("x"), fixed("x"))
	if _, err := e.Dream(context.Background(), "", 1, -5); !errors.Is(err, memerr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDream_SourcesAreReported(t *testing.T) {
	e := newEngine(withMemories("a", "b"), fixed("Two lights."))
	d, _ := e.Dream(context.Background(), "lights", 2, 0)
	if len(d.Sources) != 2 || d.Theme != "lights" {
		t.Errorf("unexpected dream %+v", d)
	}
}
