package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the transport-level retry wrapper around external
// calls. This is distinct from the judge-rejection retry loop, which is
// business logic handled by re-enqueuing a varied attempt.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first
	// try. Default: 3.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry, doubled
	// each attempt. Default: 1s. A classified failure with a longer
	// base delay (e.g. rate limiting) overrides it.
	InitialBackoff time.Duration

	// MaxBackoff caps any computed delay. Default: 2m.
	MaxBackoff time.Duration

	// JitterFraction adds random jitter as a fraction of the computed
	// delay. Default: 0.25.
	JitterFraction float64

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, c Classification, err error)
}

// DefaultRetryConfig is the retry policy for AI collaborator calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Minute,
		JitterFraction: 0.25,
	}
}

// DoVal executes fn with classification-aware retries. Only failures whose
// classification is retryable are re-attempted; judge rejections surface
// immediately since they are not transport errors. Context cancellation
// stops retries.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}

		c := Classify(err)
		if c.Kind == KindJudgeRejection || !AllowRetry(c, attempt, cfg.MaxAttempts) {
			return zero, lastErr
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, c, lastErr)
		}

		delay := backoffFor(c, attempt, cfg)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// Do is DoVal for calls with no return value.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Minute
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func backoffFor(c Classification, attempt int, cfg RetryConfig) time.Duration {
	base := cfg.InitialBackoff
	if c.RetryDelay > base {
		base = c.RetryDelay
	}
	delay := CalculateDelay(base, attempt)
	if delay > cfg.MaxBackoff {
		delay = cfg.MaxBackoff
	}
	if cfg.JitterFraction > 0 {
		jitterRange := float64(delay) * cfg.JitterFraction
		delay += time.Duration((rand.Float64()*2 - 1) * jitterRange)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// RetryLogger returns an OnRetry callback logging each retry attempt.
func RetryLogger(operation string) func(int, Classification, error) {
	return func(attempt int, c Classification, err error) {
		zap.L().Warn("retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("kind", string(c.Kind)),
			zap.Error(err),
		)
	}
}
