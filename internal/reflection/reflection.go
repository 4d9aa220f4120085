// Package reflection runs a bounded self-dialogue over stored memories.
//
// Each step retrieves memories relevant to the latest thought, asks the
// generator for the next one and appends it. The engine stops at the depth
// ceiling, when the generator emits the stop marker, or when a step fails;
// in the last case the turns produced so far are returned as a partial
// result. Nothing is persisted.
package reflection

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/generate"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/prompt"
)

const (
	DefaultMaxDepth     = 3
	DefaultK            = 3
	DefaultMinRelevance = 0.3
	DefaultMaxTokens    = 300
	DefaultStopMarker   = "[[END]]"
)

// Stop reasons reported on model.Reflection.
const (
	StopMaxDepth   = "max_depth"
	StopMarker     = "stop_marker"
	StopCancelled  = "cancelled"
	StopRetrieval  = "retrieval_failed"
	StopGeneration = "generation_failed"
)

// Retriever finds memories relevant to a text.
type Retriever interface {
	Query(ctx context.Context, text string, k int, minRelevance float64) ([]model.RetrievalResult, error)
}

// Config configures an Engine. Zero fields take the package defaults.
type Config struct {
	// MaxDepth is the hard turn ceiling. Requests may lower it, never raise it.
	MaxDepth int
	// K is the number of memories retrieved per step.
	K int
	// MinRelevance filters retrieved memories; negative disables the filter.
	MinRelevance float64
	// MaxTokens is requested from the generator for each turn.
	MaxTokens    int
	StopMarker   string
	MemoryBudget int

	GeneratePolicy extcall.Policy
}

// Options are per-call overrides.
type Options struct {
	// Depth is the number of turns to run, at most the configured ceiling;
	// 0 uses the ceiling.
	Depth int
	// K overrides the number of memories retrieved per step.
	K int
}

// Engine runs reflections. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	retriever Retriever
	gen       generate.Generator
	cfg       Config
	logger    *slog.Logger
}

// New creates an Engine. A nil logger uses slog.Default().
func New(retriever Retriever, gen generate.Generator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.MinRelevance == 0 {
		cfg.MinRelevance = DefaultMinRelevance
	} else if cfg.MinRelevance < 0 {
		cfg.MinRelevance = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.StopMarker == "" {
		cfg.StopMarker = DefaultStopMarker
	}
	if cfg.GeneratePolicy == (extcall.Policy{}) {
		cfg.GeneratePolicy = extcall.Policy{Timeout: 60 * time.Second, Attempts: 2}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{retriever: retriever, gen: gen, cfg: cfg, logger: logger}
}

// MaxDepth returns the configured depth ceiling.
func (e *Engine) MaxDepth() int { return e.cfg.MaxDepth }

// Reflect runs a reflection on topic. The returned error is non-nil only
// for invalid input; failures during the run end it early and are recorded
// on the partial result instead.
func (e *Engine) Reflect(ctx context.Context, topic string, opts Options) (*model.Reflection, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, memerr.Validation("reflect", "topic is empty")
	}
	if opts.Depth < 0 {
		return nil, memerr.Validation("reflect", "depth must be at least 1, got %d", opts.Depth)
	}
	if opts.Depth > e.cfg.MaxDepth {
		return nil, memerr.Validation("reflect", "depth %d exceeds maximum depth %d", opts.Depth, e.cfg.MaxDepth)
	}
	maxDepth := e.cfg.MaxDepth
	if opts.Depth > 0 {
		maxDepth = opts.Depth
	}
	k := e.cfg.K
	if opts.K > 0 {
		k = opts.K
	}

	r := &model.Reflection{ID: uuid.NewString(), Topic: topic, Turns: []model.ReflectionTurn{}}
	log := e.logger.With("reflection", r.ID)
	var dialogue []prompt.Turn

	for depth := 0; depth < maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			e.fail(r, StopCancelled, err)
			break
		}

		focus := topic
		if len(dialogue) > 0 {
			focus = dialogue[len(dialogue)-1].Text
		}
		memories, err := e.retriever.Query(ctx, focus, k, e.cfg.MinRelevance)
		if err != nil {
			e.fail(r, stopReason(ctx, StopRetrieval), err)
			break
		}

		p, err := prompt.New(prompt.KindReflection).
			Theme(topic).
			Instruction(instruction(depth)).
			Memories(memories).
			MemoryBudget(e.cfg.MemoryBudget).
			Dialogue(dialogue).
			StopMarker(e.cfg.StopMarker).
			Build()
		if err != nil {
			e.fail(r, StopGeneration, memerr.Wrap(memerr.ErrGeneration, "reflect", err))
			break
		}

		out, err := extcall.Do(ctx, e.cfg.GeneratePolicy, memerr.ErrGeneration, "generate", func(ctx context.Context) (string, error) {
			return e.gen.Generate(ctx, p, e.cfg.MaxTokens)
		})
		if err != nil {
			e.fail(r, stopReason(ctx, StopGeneration), err)
			break
		}

		response, stopped := stripMarker(out, e.cfg.StopMarker)
		if response == "" && !stopped {
			e.fail(r, StopGeneration, memerr.Wrap(memerr.ErrGeneration, "generate", errors.New("generator returned no text")))
			break
		}
		if response != "" {
			r.Turns = append(r.Turns, model.ReflectionTurn{
				Depth:    depth + 1,
				Prompt:   p.Render(),
				Response: response,
				Context:  memories,
			})
			dialogue = append(dialogue, prompt.Turn{Depth: depth + 1, Text: response})
		}
		if stopped {
			r.StopReason = StopMarker
			break
		}
	}

	if r.StopReason == "" {
		r.StopReason = StopMaxDepth
	}
	if r.Partial {
		log.Warn("reflection ended early", "topic", topic, "turns", len(r.Turns), "reason", r.StopReason, "error", r.Err)
	} else {
		log.Info("reflection complete", "turns", len(r.Turns), "reason", r.StopReason)
	}
	return r, nil
}

func (e *Engine) fail(r *model.Reflection, reason string, err error) {
	r.Partial = true
	r.StopReason = reason
	r.Err = err
	r.Error = err.Error()
}

// stopReason prefers StopCancelled when the run's context is done.
func stopReason(ctx context.Context, reason string) string {
	if ctx.Err() != nil {
		return StopCancelled
	}
	return reason
}

func instruction(depth int) string {
	if depth == 0 {
		return "Begin a reflection on the theme, drawing on the memories above. Two to four sentences."
	}
	return "Continue the reflection one level deeper than your last thought. Do not repeat it. Two to four sentences."
}

// stripMarker removes every occurrence of marker and reports whether one
// was present.
func stripMarker(text, marker string) (string, bool) {
	if marker == "" || !strings.Contains(text, marker) {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, marker, "")), true
}
