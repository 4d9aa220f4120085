package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/generate"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/prompt"
)

type fakeRetriever struct {
	memories []model.RetrievalResult
	queries  []string
}

func (f *fakeRetriever) Query(ctx context.Context, text string, k int, minRelevance float64) ([]model.RetrievalResult, error) {
	f.queries = append(f.queries, text)
	return f.memories, nil
}

type call struct {
	name string
	args string
}

type fakeTools struct {
	calls []call
	fail  map[string]error
}

func (f *fakeTools) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	f.calls = append(f.calls, call{name, string(args)})
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	return map[string]string{"tool": name}, nil
}

// scripted returns its replies in order and records every prompt.
type scripted struct {
	replies []string
	prompts []prompt.Prompt
}

func (s *scripted) Generate(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
	s.prompts = append(s.prompts, p)
	if len(s.prompts) > len(s.replies) {
		return "", errors.New("no more replies")
	}
	return s.replies[len(s.prompts)-1], nil
}

var onePolicy = extcall.Policy{Timeout: time.Second, Attempts: 1}

func newSession(r Retriever, g generate.Generator, d Dispatcher) *Session {
	return New(r, g, d, Config{GeneratePolicy: onePolicy}, nil)
}

func TestParseToolCalls(t *testing.T) {
	out := "→ query_memory{\"query\": \"sister\", \"k\": 3}\n" +
		"-> save_memory {\"note_content\": \"User has a sister\"}\n" +
		"  → `web_search{\"query\": \"solstice date\"}`\n" +
		"→ dream\n" +
		"You said she feels like your mirror.\nHow is she?"
	text, calls := ParseToolCalls(out)
	if text != "You said she feels like your mirror.\nHow is she?" {
		t.Errorf("unexpected prose %q", text)
	}
	want := []call{
		{"query_memory", `{"query": "sister", "k": 3}`},
		{"save_memory", `{"note_content": "User has a sister"}`},
		{"web_search", `{"query": "solstice date"}`},
		{"dream", `{}`},
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), calls)
	}
	for i, w := range want {
		if calls[i].Name != w.name || string(calls[i].Args) != w.args {
			t.Errorf("call %d = %s %s, want %s %s", i, calls[i].Name, calls[i].Args, w.name, w.args)
		}
	}
}

func TestParseToolCalls_ProseOnly(t *testing.T) {
	text, calls := ParseToolCalls("  Hello there.\n")
	if text != "Hello there." || len(calls) != 0 {
		t.Errorf("unexpected parse %q %+v", text, calls)
	}
}

func TestSend_RecallsMemoriesForEveryMessage(t *testing.T) {
	r := &fakeRetriever{memories: []model.RetrievalResult{
		{Entry: model.MemoryEntry{Text: "User has a sister named Ana"}, Relevance: 0.8},
	}}
	g := &scripted{replies: []string{"I remember Ana.", "Tell me more."}}
	s := newSession(r, g, nil)

	reply, err := s.Send(context.Background(), "  What about my sister?  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Text != "I remember Ana." || reply.Recalled != 1 || len(reply.ToolCalls) != 0 {
		t.Errorf("unexpected reply %+v", reply)
	}
	if _, err := s.Send(context.Background(), "She moved."); err != nil {
		t.Fatalf("send: %v", err)
	}

	if strings.Join(r.queries, "|") != "What about my sister?|She moved." {
		t.Errorf("unexpected queries %q", r.queries)
	}
	p := g.prompts[1]
	if p.Kind != prompt.KindChat || len(p.Memories) != 1 {
		t.Fatalf("unexpected prompt %+v", p)
	}
	rendered := p.Render()
	for _, want := range []string{"You: What about my sister?", "Closer: I remember Ana.", "You: She moved."} {
		if !strings.Contains(rendered, want) {
			t.Errorf("prompt is missing %q:\n%s", want, rendered)
		}
	}
}

func TestSend_RunsToolsThenReplies(t *testing.T) {
	g := &scripted{replies: []string{
		"→ query_memory{\"query\": \"promotion\"}\n→ save_memory{\"note_content\": \"User wants a promotion\"}",
		"→ web_search{\"query\": \"ignored\"}\nIn my view the wall is visibility.",
	}}
	tools := &fakeTools{}
	s := newSession(&fakeRetriever{}, g, tools)

	reply, err := s.Send(context.Background(), "I want a promotion.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Text != "In my view the wall is visibility." {
		t.Errorf("unexpected text %q", reply.Text)
	}
	if len(tools.calls) != 2 || tools.calls[0].name != "query_memory" || tools.calls[1].name != "save_memory" {
		t.Errorf("unexpected tool calls %+v", tools.calls)
	}
	if len(reply.ToolCalls) != 2 || reply.ToolCalls[0].Result != `{"tool":"query_memory"}` {
		t.Errorf("unexpected reported calls %+v", reply.ToolCalls)
	}
	if len(g.prompts) != 2 {
		t.Fatalf("expected two generations, got %d", len(g.prompts))
	}
	if !strings.Contains(g.prompts[1].Render(), "Tool: save_memory returned:") {
		t.Errorf("second prompt lacks tool results:\n%s", g.prompts[1].Render())
	}
}

func TestSend_ToolFailureIsShownToTheModel(t *testing.T) {
	g := &scripted{replies: []string{"→ web_search{\"query\": \"x\"}", "I could not look that up."}}
	tools := &fakeTools{fail: map[string]error{"web_search": errors.New("search is not configured")}}
	s := newSession(&fakeRetriever{}, g, tools)

	reply, err := s.Send(context.Background(), "Look it up.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.ToolCalls[0].Error != "search is not configured" {
		t.Errorf("unexpected call %+v", reply.ToolCalls[0])
	}
	if !strings.Contains(g.prompts[1].Render(), "web_search failed: search is not configured") {
		t.Errorf("second prompt lacks the failure:\n%s", g.prompts[1].Render())
	}
}

func TestSend_CapsToolCalls(t *testing.T) {
	out := strings.Repeat("→ query_memory{\"query\": \"a\"}\n", 10)
	g := &scripted{replies: []string{out, "Done."}}
	tools := &fakeTools{}
	s := New(&fakeRetriever{}, g, tools, Config{MaxToolCalls: 3, GeneratePolicy: onePolicy}, nil)

	if _, err := s.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(tools.calls) != 3 {
		t.Errorf("expected 3 tool calls, got %d", len(tools.calls))
	}
}

func TestSend_WithoutToolsDropsToolLines(t *testing.T) {
	g := &scripted{replies: []string{"→ query_memory{}\nHello."}}
	s := newSession(&fakeRetriever{}, g, nil)

	reply, err := s.Send(context.Background(), "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Text != "Hello." || len(g.prompts) != 1 {
		t.Errorf("unexpected reply %+v after %d generations", reply, len(g.prompts))
	}
}

func TestSend_EmptyMessage(t *testing.T) {
	s := newSession(&fakeRetriever{}, &scripted{}, nil)
	if _, err := s.Send(context.Background(), "   "); !errors.Is(err, memerr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSend_GeneratorFailureKeepsHistoryClean(t *testing.T) {
	g := &scripted{}
	s := newSession(&fakeRetriever{}, g, nil)
	if _, err := s.Send(context.Background(), "hello"); !errors.Is(err, memerr.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if len(s.history) != 0 {
		t.Errorf("failed turn left history %+v", s.history)
	}
}

func TestRun(t *testing.T) {
	g := &scripted{replies: []string{"→ save_memory{\"note_content\": \"likes tea\"}", "Noted.", "Goodbye soon."}}
	tools := &fakeTools{}
	s := newSession(&fakeRetriever{}, g, tools)

	in := strings.NewReader("I like tea\n\nanything else\nquit\nnever read\n")
	var out strings.Builder
	if err := Run(context.Background(), s, in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"→ save_memory{\"note_content\": \"likes tea\"}\n",
		"Closer: Noted.\n",
		"Closer: Goodbye soon.\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output is missing %q:\n%s", want, got)
		}
	}
	if len(g.prompts) != 3 {
		t.Errorf("expected 3 generations, got %d", len(g.prompts))
	}
}

func TestRun_ReportsFailedTurnAndContinues(t *testing.T) {
	g := &scripted{}
	s := newSession(&fakeRetriever{}, g, nil)

	var out strings.Builder
	if err := Run(context.Background(), s, strings.NewReader("one\ntwo\n"), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := strings.Count(out.String(), "(error: "); n != 2 {
		t.Errorf("expected two reported errors, got %d:\n%s", n, out.String())
	}
}
