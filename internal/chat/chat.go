// Package chat runs a conversation with the companion: each user message
// is answered from recalled memories, and the model may call the memory
// tools before it replies.
package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/generate"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/prompt"
)

const (
	DefaultK            = 5
	DefaultMaxTokens    = 400
	DefaultMaxToolCalls = 4
	DefaultHistory      = 8

	// ToolArrow starts a tool-call line in generator output.
	ToolArrow = "→"

	userRole  = "You"
	agentRole = "Closer"
	toolRole  = "Tool"
)

// Retriever recalls memories relevant to a message.
type Retriever interface {
	Query(ctx context.Context, text string, k int, minRelevance float64) ([]model.RetrievalResult, error)
}

// Dispatcher runs a named tool with JSON arguments.
type Dispatcher interface {
	Call(ctx context.Context, name string, args json.RawMessage) (any, error)
}

// Config configures a Session. Zero fields take the package defaults.
type Config struct {
	K int
	// MinRelevance filters recalled memories; 0 keeps every hit and a
	// negative value uses the retriever's default.
	MinRelevance float64
	MaxTokens    int
	MaxToolCalls int
	// History is the number of trailing turns kept in the prompt.
	History int

	GeneratePolicy extcall.Policy
}

// ToolCall is one tool the model asked for and what came back.
type ToolCall struct {
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
	Result string          `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Reply is the answer to one user message.
type Reply struct {
	Text      string     `json:"text"`
	Recalled  int        `json:"recalled"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Session holds one conversation. Not safe for concurrent use.
type Session struct {
	retriever Retriever
	gen       generate.Generator
	tools     Dispatcher
	cfg       Config
	logger    *slog.Logger

	history []prompt.Turn
}

// New starts an empty conversation. tools may be nil, in which case tool
// lines in generator output are dropped unanswered. A nil logger uses
// slog.Default().
func New(retriever Retriever, gen generate.Generator, tools Dispatcher, cfg Config, logger *slog.Logger) *Session {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = DefaultMaxToolCalls
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.GeneratePolicy == (extcall.Policy{}) {
		cfg.GeneratePolicy = extcall.Policy{Timeout: 60 * time.Second, Attempts: 2}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{retriever: retriever, gen: gen, tools: tools, cfg: cfg, logger: logger}
}

// Send answers one user message. Memories relevant to the message are
// recalled first. When the generator asks for tools, they are run, their
// results are added to the conversation, and the generator is asked once
// more for a prose reply; tool lines in that second reply are ignored.
func (s *Session) Send(ctx context.Context, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, memerr.Validation("chat", "message is empty")
	}

	memories, err := s.retriever.Query(ctx, message, s.cfg.K, s.cfg.MinRelevance)
	if err != nil {
		return nil, err
	}

	s.history = append(s.history, prompt.Turn{Role: userRole, Text: message})
	reply := &Reply{Recalled: len(memories)}

	out, err := s.generate(ctx, memories)
	if err != nil {
		s.history = s.history[:len(s.history)-1]
		return nil, err
	}
	text, calls := ParseToolCalls(out)

	if len(calls) > 0 && s.tools != nil {
		if len(calls) > s.cfg.MaxToolCalls {
			s.logger.Warn("chat: dropping extra tool calls", "asked", len(calls), "max", s.cfg.MaxToolCalls)
			calls = calls[:s.cfg.MaxToolCalls]
		}
		for i := range calls {
			s.run(ctx, &calls[i])
			s.history = append(s.history, prompt.Turn{Role: toolRole, Text: toolTurn(calls[i])})
		}
		reply.ToolCalls = calls

		out, err = s.generate(ctx, memories)
		if err != nil {
			return nil, err
		}
		text, _ = ParseToolCalls(out)
	}

	reply.Text = text
	s.history = append(s.history, prompt.Turn{Role: agentRole, Text: text})
	return reply, nil
}

func (s *Session) generate(ctx context.Context, memories []model.RetrievalResult) (string, error) {
	p, err := prompt.New(prompt.KindChat).
		Instruction(fmt.Sprintf("Reply to the last message from %s.", userRole)).
		Memories(memories).
		Dialogue(s.history).
		DialogueTail(s.cfg.History).
		Build()
	if err != nil {
		return "", memerr.Wrap(memerr.ErrGeneration, "chat", err)
	}
	return extcall.Do(ctx, s.cfg.GeneratePolicy, memerr.ErrGeneration, "generate", func(ctx context.Context) (string, error) {
		return s.gen.Generate(ctx, p, s.cfg.MaxTokens)
	})
}

func (s *Session) run(ctx context.Context, c *ToolCall) {
	out, err := s.tools.Call(ctx, c.Name, c.Args)
	if err != nil {
		s.logger.Warn("chat: tool failed", "tool", c.Name, "err", err)
		c.Error = err.Error()
		return
	}
	text, err := resultText(out)
	if err != nil {
		c.Error = err.Error()
		return
	}
	c.Result = text
}

func resultText(v any) (string, error) {
	if text, ok := v.(string); ok {
		return text, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}

func toolTurn(c ToolCall) string {
	if c.Error != "" {
		return fmt.Sprintf("%s failed: %s", c.Name, c.Error)
	}
	return fmt.Sprintf("%s returned: %s", c.Name, c.Result)
}

// ParseToolCalls splits generator output into prose and tool calls. A tool
// call is a line of the form `→ name{json}` (or `-> name {json}`); missing
// arguments mean {}. Everything else is prose, returned trimmed.
func ParseToolCalls(out string) (string, []ToolCall) {
	var prose []string
	var calls []ToolCall
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, ToolArrow)
		if !ok {
			rest, ok = strings.CutPrefix(trimmed, "->")
		}
		if !ok {
			prose = append(prose, line)
			continue
		}
		rest = strings.Trim(strings.TrimSpace(rest), "`")
		name, args := rest, ""
		if i := strings.IndexAny(rest, "{ ("); i >= 0 {
			name, args = rest[:i], strings.TrimSpace(rest[i:])
		}
		if name == "" {
			continue
		}
		if args == "" || args == "()" {
			args = "{}"
		}
		calls = append(calls, ToolCall{Name: name, Args: json.RawMessage(args)})
	}
	return strings.TrimSpace(strings.Join(prose, "\n")), calls
}

// Run reads one message per line from in and writes each reply to out
// until in is exhausted, ctx is done, or the user types quit or exit.
// A failed turn is reported on out and the conversation continues.
func Run(ctx context.Context, s *Session, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, userRole+": ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		reply, err := s.Send(ctx, line)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			fmt.Fprintf(out, "(error: %v)\n", err)
			continue
		}
		for _, c := range reply.ToolCalls {
			fmt.Fprintf(out, "%s %s%s\n", ToolArrow, c.Name, c.Args)
		}
		fmt.Fprintf(out, "%s: %s\n", agentRole, reply.Text)
	}
}
