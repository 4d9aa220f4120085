package memerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(ErrIO, "snapshot", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrIO) {
		t.Errorf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if got := err.Error(); got != "snapshot: io error: unexpected EOF" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestWrapDeadlineIsTimeout(t *testing.T) {
	cause := fmt.Errorf("post: %w", context.DeadlineExceeded)
	err := Wrap(ErrEmbedding, "embed", cause)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, ErrEmbedding) {
		t.Error("deadline should not be classified as embedding error")
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := Wrap(ErrEmbedding, "embed", errors.New("boom"))
	outer := Wrap(ErrVectorStore, "query", inner)
	if KindOf(outer) != ErrEmbedding {
		t.Errorf("expected inner kind to win, got %v", KindOf(outer))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(ErrIO, "x", nil) != nil {
		t.Error("expected nil")
	}
}

func TestValidation(t *testing.T) {
	err := Validation("save", "text has %d words", 41)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if KindOf(errors.New("plain")) != nil {
		t.Error("plain error should have no kind")
	}
}
