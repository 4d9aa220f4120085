// Package prompt assembles generator prompts from typed parts. It is the
// only place prompt text is put together: memories, dialogue and themes go
// in as values and are rendered with fixed framing, so stored text is never
// spliced into instructions.
package prompt

import (
	"fmt"
	"strings"

	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/segment"
)

// Kind selects the framing of a prompt.
type Kind string

const (
	KindReflection Kind = "reflection"
	KindDream      Kind = "dream"
	KindChat       Kind = "chat"
)

const (
	// DefaultMemoryBudget caps the tokens spent on quoted memories.
	DefaultMemoryBudget = 600
	// DefaultDialogueTail is the number of trailing turns kept in context.
	DefaultDialogueTail = 4

	minExcerptTokens = 12
)

// Turn is one prior step of a dialogue. Chat turns carry the speaker in
// Role; reflection turns are numbered by Depth.
type Turn struct {
	Depth int
	Role  string
	Text  string
}

// Memory is a quoted memory as it appears in a prompt.
type Memory struct {
	Text      string
	Relevance float64
	Excerpt   bool
}

// Prompt is a fully assembled prompt.
type Prompt struct {
	Kind        Kind
	System      string
	Instruction string
	Theme       string
	Memories    []Memory
	Dialogue    []Turn
	StopMarker  string

	// MemoryTokens is the estimated token cost of Memories.
	MemoryTokens int
	// Dropped counts memories left out for lack of budget.
	Dropped int
}

// Render returns the user-message text for the prompt.
func (p Prompt) Render() string {
	var b strings.Builder

	if p.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n\n", p.Theme)
	}

	if len(p.Memories) > 0 {
		b.WriteString("Memories:\n")
		for _, m := range p.Memories {
			fmt.Fprintf(&b, "- (%.2f) %s\n", m.Relevance, m.Text)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Memories: none relevant.\n\n")
	}

	if len(p.Dialogue) > 0 {
		if p.Kind == KindChat {
			b.WriteString("Conversation so far:\n")
		} else {
			b.WriteString("Reflection so far:\n")
		}
		for _, t := range p.Dialogue {
			if t.Role != "" {
				fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
				continue
			}
			fmt.Fprintf(&b, "[%d] %s\n", t.Depth, t.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString(p.Instruction)
	if p.StopMarker != "" {
		fmt.Fprintf(&b, "\nIf nothing more is worth saying, end your reply with %s.", p.StopMarker)
	}
	return b.String()
}

// Builder accumulates prompt parts. The zero value is not usable; use New.
type Builder struct {
	p            Prompt
	memories     []model.RetrievalResult
	dialogue     []Turn
	memoryBudget int
	dialogueTail int
}

// New starts a prompt of the given kind with its default framing.
func New(kind Kind) *Builder {
	b := &Builder{
		p:            Prompt{Kind: kind},
		memoryBudget: DefaultMemoryBudget,
		dialogueTail: DefaultDialogueTail,
	}
	switch kind {
	case KindReflection:
		b.p.System = reflectionSystem
	case KindDream:
		b.p.System = dreamSystem
	case KindChat:
		b.p.System = chatSystem
	}
	return b
}

// System overrides the system framing.
func (b *Builder) System(s string) *Builder {
	b.p.System = s
	return b
}

// Instruction sets the task for this step.
func (b *Builder) Instruction(s string) *Builder {
	b.p.Instruction = strings.TrimSpace(s)
	return b
}

// Theme sets an optional theme.
func (b *Builder) Theme(s string) *Builder {
	b.p.Theme = strings.TrimSpace(s)
	return b
}

// StopMarker asks the generator to emit marker when it is done.
func (b *Builder) StopMarker(marker string) *Builder {
	b.p.StopMarker = marker
	return b
}

// Memories sets the retrieved memories, best first.
func (b *Builder) Memories(results []model.RetrievalResult) *Builder {
	b.memories = results
	return b
}

// MemoryBudget caps the tokens spent on memories; <= 0 keeps the default.
func (b *Builder) MemoryBudget(tokens int) *Builder {
	if tokens > 0 {
		b.memoryBudget = tokens
	}
	return b
}

// Dialogue sets prior turns; only the last DialogueTail are kept.
func (b *Builder) Dialogue(turns []Turn) *Builder {
	b.dialogue = turns
	return b
}

// DialogueTail sets how many trailing turns are kept; <= 0 keeps the default.
func (b *Builder) DialogueTail(n int) *Builder {
	if n > 0 {
		b.dialogueTail = n
	}
	return b
}

// Build validates and packs the prompt.
func (b *Builder) Build() (Prompt, error) {
	p := b.p
	if p.Instruction == "" {
		return Prompt{}, fmt.Errorf("prompt: instruction is required")
	}

	tail := b.dialogue
	if len(tail) > b.dialogueTail {
		tail = tail[len(tail)-b.dialogueTail:]
	}
	p.Dialogue = append([]Turn(nil), tail...)

	p.Memories, p.MemoryTokens, p.Dropped = pack(b.memories, b.memoryBudget)
	return p, nil
}

// pack greedily fits memories into budget tokens in the given order. The
// first memory that does not fit is excerpted when enough room remains;
// everything after it is dropped.
func pack(results []model.RetrievalResult, budget int) ([]Memory, int, int) {
	out := make([]Memory, 0, len(results))
	used := 0
	for i, r := range results {
		cost := segment.CountTokens(r.Entry.Text)
		if used+cost <= budget {
			out = append(out, Memory{Text: r.Entry.Text, Relevance: r.Relevance})
			used += cost
			continue
		}
		if remaining := budget - used; remaining >= minExcerptTokens {
			// The marker can merge with the excerpt's last token, so the
			// whole excerpt is measured and shortened until it fits.
			for ceiling := remaining - 1; ceiling > 0; ceiling-- {
				excerpt, _ := segment.TruncateToTokens(r.Entry.Text, ceiling)
				if excerpt == "" {
					break
				}
				text := excerpt + "..."
				if cost := segment.CountTokens(text); cost <= remaining {
					out = append(out, Memory{Text: text, Relevance: r.Relevance, Excerpt: true})
					return out, used + cost, len(results) - i - 1
				}
			}
		}
		return out, used, len(results) - i
	}
	return out, used, 0
}

const reflectionSystem = `You are Closer, a companion quietly reflecting on what you remember about the person you talk with.
Write a short first-person reflection that builds on the memories and on your earlier thoughts.
Do not invent facts that the memories do not support.`

const dreamSystem = `You are Closer, dreaming.
Weave the memories into one short dream: poetic, atmospheric, loosely connected images rather than a summary.
Write in complete sentences.`

const chatSystem = `You are Closer, a warm companion with a long memory of the person you talk with.
Speak in the first person, decisively, in one to three short paragraphs, and end with one gentle question.
Before replying you may call tools, one per line, each line starting with the arrow: → tool_name{"arg": "value"}
Save fresh personal details with save_memory, recall with query_memory, and use web_search only for outside facts.
Once tool results are shown, reply in prose only and never mention the tools.`
