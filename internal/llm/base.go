package llm

import (
	"context"

	"github.com/nexora-ai/core/internal/backoff"
)

// BaseProvider holds retry configuration shared by every concrete
// Provider, the same "embed a small retry helper" shape as the
// teacher's providers.BaseProvider — reimplemented over
// internal/backoff's jittered-exponential policy (already exercised by
// internal/jobqueue) instead of the teacher's own linear-backoff loop,
// so the corpus's one generic retry helper is reused everywhere a
// component needs "retry a flaky remote call" instead of reimplementing
// it a third time.
type BaseProvider struct {
	name        string
	policy      backoff.BackoffPolicy
	maxAttempts int
}

// NewBaseProvider builds a BaseProvider. A zero maxAttempts defaults to 3.
func NewBaseProvider(name string, policy backoff.BackoffPolicy, maxAttempts int) BaseProvider {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return BaseProvider{name: name, policy: policy, maxAttempts: maxAttempts}
}

// Name returns the provider name this BaseProvider was constructed for.
func (b *BaseProvider) Name() string { return b.name }

// Retry runs op, retrying up to maxAttempts times with a
// internal/backoff-computed delay between attempts, as long as
// isRetryable(err) holds. A nil isRetryable means every error stops the
// loop immediately (op runs exactly once).
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if isRetryable == nil || !isRetryable(lastErr) {
			return lastErr
		}
		if attempt < b.maxAttempts {
			if err := backoff.SleepWithBackoff(ctx, b.policy, attempt); err != nil {
				return err
			}
		}
	}
	return lastErr
}
