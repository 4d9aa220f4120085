// Package model defines the core memory data types.
package model

import "time"

// MemoryEntry is one stored utterance together with its embedding.
type MemoryEntry struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RetrievalResult pairs an entry with its relevance to a query.
// Relevance is recomputed on every query and never persisted.
type RetrievalResult struct {
	Entry     MemoryEntry `json:"entry"`
	Relevance float64     `json:"relevance"`
	Distance  float64     `json:"distance"`
}

// Snapshot is a point-in-time copy of the persisted store.
type Snapshot struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// ReflectionTurn is one generated step of a reflection dialogue.
type ReflectionTurn struct {
	Depth    int               `json:"depth"`
	Prompt   string            `json:"prompt"`
	Response string            `json:"response"`
	Context  []RetrievalResult `json:"context,omitempty"`
}

// Reflection is the (possibly partial) outcome of a reflection run.
type Reflection struct {
	ID         string           `json:"id"`
	Topic      string           `json:"topic"`
	Turns      []ReflectionTurn `json:"turns"`
	Partial    bool             `json:"partial"`
	StopReason string           `json:"stop_reason"`
	Error      string           `json:"error,omitempty"`
	Err        error            `json:"-"`
}

// Final returns the last generated response, or "" when no turn completed.
func (r *Reflection) Final() string {
	if r == nil || len(r.Turns) == 0 {
		return ""
	}
	return r.Turns[len(r.Turns)-1].Response
}

// Dream is the outcome of a dream synthesis. Empty marks the
// "nothing to dream about" case.
type Dream struct {
	Text      string            `json:"text"`
	Empty     bool              `json:"empty"`
	Truncated bool              `json:"truncated,omitempty"`
	Tokens    int               `json:"tokens"`
	Theme     string            `json:"theme,omitempty"`
	Sources   []RetrievalResult `json:"sources,omitempty"`
}
