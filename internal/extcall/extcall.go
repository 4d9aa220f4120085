// Package extcall runs calls to external collaborators (embedding model,
// generator, vector store, web search) under a timeout with exponential
// back-off retries.
//
// Usage:
//
//	vec, err := extcall.Do(ctx, policy, memerr.ErrEmbedding, "embed", func(ctx context.Context) ([]float32, error) {
//	    return embedder.Embed(ctx, text)
//	})
package extcall

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rcliao/closer/internal/memerr"
)

// Policy controls one class of external call.
type Policy struct {
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// Attempts is the total number of attempts; values below 1 mean 1.
	Attempts int
	// InitialDelay is the wait before the second attempt; later waits
	// double up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy suits short-lived network calls.
var DefaultPolicy = Policy{
	Timeout:      30 * time.Second,
	Attempts:     2,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Do calls fn under p. The returned error wraps kind, or memerr.ErrTimeout
// when an attempt ran past its deadline. Timeouts, validation failures and
// cancellation of ctx are never retried.
func Do[T any](ctx context.Context, p Policy, kind error, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = DefaultPolicy.InitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultPolicy.MaxDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, memerr.Wrap(kind, op, errors.Join(lastErr, err))
		}

		v, err := once(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == attempts {
			break
		}

		slog.Debug("extcall: attempt failed, retrying",
			"op", op, "attempt", attempt, "max", attempts, "err", err, "delay", delay)
		select {
		case <-ctx.Done():
			return zero, memerr.Wrap(kind, op, errors.Join(lastErr, ctx.Err()))
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return zero, memerr.Wrap(kind, op, lastErr)
}

func once[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(cctx)
	if err != nil && cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = errors.Join(err, context.DeadlineExceeded)
	}
	return v, err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, memerr.ErrValidation)
}
