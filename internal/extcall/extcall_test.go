package extcall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rcliao/closer/internal/memerr"
)

var fast = Policy{Timeout: time.Second, Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestDo_Success(t *testing.T) {
	got, err := Do(context.Background(), fast, memerr.ErrEmbedding, "embed", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("expected 42, nil; got %d, %v", got, err)
	}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fast, memerr.ErrEmbedding, "embed", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("expected ok after 3 calls, got %q after %d", got, calls)
	}
}

func TestDo_ExhaustedAttemptsWrapsKind(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast, memerr.ErrGeneration, "generate", func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("503")
	})
	if !errors.Is(err, memerr.ErrGeneration) {
		t.Errorf("expected ErrGeneration, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_TimeoutIsNotRetried(t *testing.T) {
	p := Policy{Timeout: 10 * time.Millisecond, Attempts: 3, InitialDelay: time.Millisecond}
	calls := 0
	_, err := Do(context.Background(), p, memerr.ErrEmbedding, "embed", func(ctx context.Context) ([]float32, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, memerr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestDo_TimeoutWhenCallIgnoresContextError(t *testing.T) {
	p := Policy{Timeout: 5 * time.Millisecond, Attempts: 1}
	_, err := Do(context.Background(), p, memerr.ErrGeneration, "generate", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", errors.New("http: request canceled")
	})
	if !errors.Is(err, memerr.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestDo_ValidationNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast, memerr.ErrEmbedding, "embed", func(ctx context.Context) (int, error) {
		calls++
		return 0, memerr.Validation("embed", "empty input")
	})
	if !errors.Is(err, memerr.ErrValidation) {
		t.Errorf("expected ErrValidation to be kept, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, fast, memerr.ErrVectorStore, "query", func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no attempts, got %d", calls)
	}
}
