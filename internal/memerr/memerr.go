// Package memerr defines the error kinds surfaced by the memory engine.
//
// Every error returned across a component boundary wraps exactly one of the
// sentinels below, so callers can classify failures with errors.Is while the
// underlying cause stays available through errors.Unwrap.
package memerr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrEmbedding   = errors.New("embedding error")
	ErrGeneration  = errors.New("generation error")
	ErrVectorStore = errors.New("vector store error")
	ErrTimeout     = errors.New("timeout")
	ErrIO          = errors.New("io error")
	ErrSearch      = errors.New("web search error")
)

// Error carries an operation name, a kind sentinel and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap tags err with kind. A deadline error is always reported as
// ErrTimeout regardless of kind, and an err already carrying one of the
// sentinels keeps its original classification.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	} else if k := KindOf(err); k != nil {
		kind = k
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds an ErrValidation with a formatted message.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the sentinel err is classified under, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrTimeout, ErrValidation, ErrEmbedding, ErrGeneration, ErrVectorStore, ErrIO, ErrSearch} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
