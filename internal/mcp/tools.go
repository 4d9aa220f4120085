package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rcliao/closer/internal/lifecycle"
	"github.com/rcliao/closer/internal/reflection"
)

type tool struct {
	name        string
	description string
	inputSchema string
	schema      *jsonschema.Schema
	run         func(ctx context.Context, args json.RawMessage) (any, error)
}

// memoryRecord is the shape query_memory returns for each hit.
type memoryRecord struct {
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
	SavedAt   string  `json:"saved_at"`
}

type searchRecord struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (s *Server) toolset() []*tool {
	return []*tool{
		{
			name:        "save_memory",
			description: "Save a short note about the user to long-term memory. Store one fact per call, in the user's own words when possible.",
			inputSchema: `{
  "type": "object",
  "properties": {
    "note_content": {"type": "string", "minLength": 1, "description": "The note to remember"}
  },
  "required": ["note_content"],
  "additionalProperties": false
}`,
			run: s.saveMemory,
		},
		{
			name:        "query_memory",
			description: "Find saved memories relevant to a query, most relevant first.",
			inputSchema: `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "What to look for"},
    "k": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum number of memories"}
  },
  "required": ["query"],
  "additionalProperties": false
}`,
			run: s.queryMemory,
		},
		{
			name:        "reflect",
			description: "Think about a topic by reflecting over related memories for a bounded number of turns.",
			inputSchema: fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "topic": {"type": "string", "minLength": 1},
    "depth": {"type": "integer", "minimum": 1, "maximum": %d, "description": "Turns to run"},
    "save": {"type": "boolean", "description": "Save the final thought as a memory"}
  },
  "required": ["topic"],
  "additionalProperties": false
}`, s.app.Reflection.MaxDepth()),
			run: s.reflect,
		},
		{
			name:        "dream",
			description: "Weave memories into a short dream, optionally around a theme.",
			inputSchema: `{
  "type": "object",
  "properties": {
    "theme": {"type": "string"},
    "k": {"type": "integer", "minimum": 1, "maximum": 20}
  },
  "additionalProperties": false
}`,
			run: s.dream,
		},
		{
			name:        "web_search",
			description: "Search the web and return titles, links and snippets.",
			inputSchema: `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "n_results": {"type": "integer", "description": "Number of results, 1 to 20"},
    "country": {"type": "string"},
    "lang": {"type": "string"}
  },
  "required": ["query"],
  "additionalProperties": false
}`,
			run: s.webSearch,
		},
	}
}

func (s *Server) saveMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		NoteContent string `json:"note_content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if _, err := s.app.Memory.Save(ctx, args.NoteContent, map[string]string{"source": "mcp"}); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Memory saved: '%s'", lifecycle.Preview(args.NoteContent, 50)), nil
}

func (s *Server) queryMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	args := struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}{K: 5}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	total, err := s.app.Store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []memoryRecord{{Text: "No memories stored yet", Relevance: 0}}, nil
	}

	results, err := s.app.Retrieval.Query(ctx, args.Query, args.K, -1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []memoryRecord{{Text: "No relevant memories found for: " + args.Query, Relevance: 0}}, nil
	}
	out := make([]memoryRecord, 0, len(results))
	for _, r := range results {
		out = append(out, memoryRecord{
			Text:      r.Entry.Text,
			Relevance: r.Relevance,
			SavedAt:   r.Entry.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return out, nil
}

func (s *Server) reflect(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Topic string `json:"topic"`
		Depth int    `json:"depth"`
		Save  bool   `json:"save"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	r, err := s.app.Reflection.Reflect(ctx, args.Topic, reflection.Options{Depth: args.Depth})
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"id":          r.ID,
		"final":       r.Final(),
		"turns":       len(r.Turns),
		"partial":     r.Partial,
		"stop_reason": r.StopReason,
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if args.Save && r.Final() != "" {
		// A failed save must not discard the reflection itself.
		id, err := s.app.Memory.Save(ctx, r.Final(), map[string]string{"source": "reflection", "reflection": r.ID})
		if err != nil {
			out["save_error"] = err.Error()
		} else {
			out["saved_id"] = id
		}
	}
	return out, nil
}

func (s *Server) dream(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Theme string `json:"theme"`
		K     int    `json:"k"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	d, err := s.app.Dream.Dream(ctx, args.Theme, args.K, 0)
	if err != nil {
		return nil, err
	}
	return d.Text, nil
}

func (s *Server) webSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	args := struct {
		Query    string `json:"query"`
		NResults int    `json:"n_results"`
		Country  string `json:"country"`
		Lang     string `json:"lang"`
	}{NResults: 10, Country: "US", Lang: "en"}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	results, err := s.app.Search.Search(ctx, args.Query, args.NResults, args.Country, args.Lang)
	if err != nil {
		return nil, err
	}
	out := make([]searchRecord, 0, len(results))
	for _, r := range results {
		out = append(out, searchRecord{Title: r.Title, Link: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}
