package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"caseline-sync/internal/errs"
	"caseline-sync/internal/logger"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// RetryExecutor wraps an operation with bounded retries and exponential
// backoff. It carries no state of its own.
type RetryExecutor struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func NewRetryExecutor(maxRetries int, baseDelay time.Duration) *RetryExecutor {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &RetryExecutor{MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// Do runs op up to MaxRetries times. A storage-class error aborts
// immediately: retrying a broken local transaction cannot succeed. The final
// error propagates to the caller.
func (r *RetryExecutor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if errs.IsStorage(lastErr) {
			return lastErr
		}
		if attempt == r.MaxRetries {
			break
		}

		delay := backoffDelay(r.BaseDelay, attempt)
		logger.Log.Debug("Retrying after failure",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// backoffDelay returns base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}
