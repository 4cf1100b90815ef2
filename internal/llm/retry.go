package llm

import (
	"context"
	"errors"
	"time"
)

// Retrying wraps a client with a bounded retry on collaborator failures.
// Context cancellation and non-collaborator errors pass through untouched.
type Retrying struct {
	inner    Client
	attempts int
	backoff  time.Duration
}

func NewRetrying(inner Client, attempts int) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{inner: inner, attempts: attempts, backoff: 500 * time.Millisecond}
}

func (r *Retrying) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
		out, err := r.inner.Complete(ctx, system, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errors.Is(err, ErrCollaborator) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}
