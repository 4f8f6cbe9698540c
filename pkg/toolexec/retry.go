package toolexec

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/logger"
)

// RetryConfig parameterizes per-call exponential backoff: the delay before
// retry n is BaseDelay * 2^n (the multiplier is fixed at 2) plus random
// jitter of up to BaseDelay, capped at MaxDelay; at most MaxRetries retries
// follow the first attempt.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns reasonable defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// categorizedError lets callers attach a category to an error so
// withRetry's RetryIf predicate can branch on it without string matching.
type categorizedError struct {
	category ErrorCategory
	err      error
}

func (e *categorizedError) Error() string { return e.err.Error() }
func (e *categorizedError) Unwrap() error { return e.err }

// WithCategory wraps err so the executor's retry and result-building logic
// can recover its ErrorCategory.
func WithCategory(err error, category ErrorCategory) error {
	if err == nil {
		return nil
	}
	return &categorizedError{category: category, err: err}
}

// categoryOf extracts the ErrorCategory attached by WithCategory, defaulting
// to CategoryUnknown (non-retriable) when the tool didn't categorize it.
func categoryOf(err error) ErrorCategory {
	var ce *categorizedError
	if errors.As(err, &ce) {
		return ce.category
	}
	return CategoryUnknown
}

// withRetry runs fn under avast/retry-go/v4 with jittered exponential
// backoff, retrying only categories marked retriable.
func withRetry(ctx context.Context, cfg RetryConfig, toolName string, fn func(context.Context) (ToolResult, error)) (ToolResult, error) {
	var result ToolResult

	jitter := cfg.BaseDelay
	if jitter <= 0 {
		jitter = time.Millisecond
	}

	err := retrygo.Do(
		func() error {
			r, err := fn(ctx)
			result = r
			return err
		},
		retrygo.RetryIf(func(err error) bool { return categoryOf(err).retriable() }),
		retrygo.Attempts(uint(cfg.MaxRetries+1)),
		retrygo.Delay(cfg.BaseDelay),
		retrygo.DelayType(retrygo.CombineDelay(retrygo.BackOffDelay, retrygo.RandomDelay)),
		retrygo.MaxJitter(jitter),
		retrygo.MaxDelay(cfg.MaxDelay),
		retrygo.Context(ctx),
		retrygo.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("tool", toolName).WithField("attempt", n+1).Warn("retrying tool call")
		}),
	)

	return result, err
}
