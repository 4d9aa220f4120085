package generate

import (
	"context"
	"strings"

	"github.com/rcliao/closer/internal/prompt"
)

// Extractive is an offline generator that answers with the quoted memories
// themselves, one sentence each. Reflections end as soon as every memory
// has already been said.
type Extractive struct{}

var _ Generator = Extractive{}

func (Extractive) Generate(ctx context.Context, p prompt.Prompt, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	said := make(map[string]bool)
	for _, t := range p.Dialogue {
		for _, s := range strings.Split(t.Text, "\n") {
			said[strings.TrimSpace(s)] = true
		}
	}

	var lines []string
	for _, m := range p.Memories {
		s := sentence(m.Text)
		if s == "" || said[s] {
			continue
		}
		said[s] = true
		lines = append(lines, s)
	}

	if len(lines) == 0 {
		if p.StopMarker != "" {
			return p.StopMarker, nil
		}
		return "", nil
	}
	if p.Kind == prompt.KindDream {
		return strings.Join(lines, " "), nil
	}
	return strings.Join(lines, "\n"), nil
}

func sentence(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "..."))
	if s == "" {
		return ""
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
