// Package dream remixes retrieved memories into a short, length-bounded
// narrative.
package dream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/generate"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/prompt"
	"github.com/rcliao/closer/internal/segment"
)

const (
	DefaultTokenCeiling = 350
	DefaultK            = 5
	DefaultMinRelevance = 0.3
)

// EmptySentinel is the text of a dream produced with no memories.
const EmptySentinel = "No dream tonight: there are no memories to dream about."

// Retriever supplies memories to dream about.
type Retriever interface {
	Query(ctx context.Context, text string, k int, minRelevance float64) ([]model.RetrievalResult, error)
	Recent(ctx context.Context, k int) ([]model.RetrievalResult, error)
}

// Config configures an Engine. Zero fields take the package defaults.
type Config struct {
	TokenCeiling int
	K            int
	// MinRelevance filters themed retrieval; negative disables the filter.
	MinRelevance float64
	MemoryBudget int

	GeneratePolicy extcall.Policy
}

// Engine synthesizes dreams. Safe for concurrent use.
type Engine struct {
	retriever Retriever
	gen       generate.Generator
	cfg       Config
	logger    *slog.Logger
}

// New creates an Engine. A nil logger uses slog.Default().
func New(retriever Retriever, gen generate.Generator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.TokenCeiling <= 0 {
		cfg.TokenCeiling = DefaultTokenCeiling
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.MinRelevance == 0 {
		cfg.MinRelevance = DefaultMinRelevance
	} else if cfg.MinRelevance < 0 {
		cfg.MinRelevance = 0
	}
	if cfg.GeneratePolicy == (extcall.Policy{}) {
		cfg.GeneratePolicy = extcall.Policy{Timeout: 60 * time.Second, Attempts: 2}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{retriever: retriever, gen: gen, cfg: cfg, logger: logger}
}

// Dream retrieves up to k memories (by theme when one is given, otherwise
// the most recent) and asks the generator for one dream. The returned text
// never measures more than tokenCeiling tokens; longer output is cut at the
// last whole sentence that fits. With no memories the result is Empty and
// carries EmptySentinel. k <= 0 and tokenCeiling == 0 select the defaults.
func (e *Engine) Dream(ctx context.Context, theme string, k, tokenCeiling int) (*model.Dream, error) {
	if tokenCeiling < 0 {
		return nil, memerr.Validation("dream", "token ceiling must be positive, got %d", tokenCeiling)
	}
	if tokenCeiling == 0 {
		tokenCeiling = e.cfg.TokenCeiling
	}
	if k <= 0 {
		k = e.cfg.K
	}
	theme = strings.TrimSpace(theme)

	var (
		memories []model.RetrievalResult
		err      error
	)
	if theme != "" {
		memories, err = e.retriever.Query(ctx, theme, k, e.cfg.MinRelevance)
	} else {
		memories, err = e.retriever.Recent(ctx, k)
	}
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		e.logger.Info("dream: nothing to dream about", "theme", theme)
		return &model.Dream{Text: EmptySentinel, Empty: true, Theme: theme}, nil
	}

	p, err := prompt.New(prompt.KindDream).
		Theme(theme).
		Instruction(instruction(tokenCeiling)).
		Memories(memories).
		MemoryBudget(e.cfg.MemoryBudget).
		Build()
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrGeneration, "dream", err)
	}

	out, err := extcall.Do(ctx, e.cfg.GeneratePolicy, memerr.ErrGeneration, "generate", func(ctx context.Context) (string, error) {
		return e.gen.Generate(ctx, p, tokenCeiling)
	})
	if err != nil {
		return nil, err
	}

	text, truncated := segment.TruncateToTokens(out, tokenCeiling)
	if text == "" {
		return nil, memerr.Wrap(memerr.ErrGeneration, "dream", errors.New("generator returned no usable text"))
	}
	if truncated {
		e.logger.Debug("dream: truncated generator output", "tokens", segment.CountTokens(out), "ceiling", tokenCeiling)
	}

	return &model.Dream{
		Text:      text,
		Truncated: truncated,
		Tokens:    segment.CountTokens(text),
		Theme:     theme,
		Sources:   memories,
	}, nil
}

func instruction(ceiling int) string {
	words := max(ceiling*3/4, 10)
	return fmt.Sprintf("Dream about these memories. Keep it under %d words.", words)
}
