package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes exponential backoff between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=1"`

	// BaseDelay is the delay after the first failed attempt
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"gte=0"`

	// MaxDelay caps every computed delay; zero means uncapped
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"gte=0"`

	// ExponentialBase is the growth factor per attempt
	ExponentialBase float64 `mapstructure:"exponential_base" validate:"gte=1"`

	// Jitter scales each delay by a uniform factor in [0.5, 1.0]
	Jitter bool `mapstructure:"jitter"`
}

// DefaultPolicy returns a Policy with reasonable defaults for remote calls
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Backoff returns min(BaseDelay * ExponentialBase^(attempt-1), MaxDelay)
// for a 1-indexed attempt. Attempts below 1 are treated as 1.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	base := p.ExponentialBase
	if base < 1 {
		base = 1
	}

	raw := float64(p.BaseDelay) * math.Pow(base, float64(attempt-1))
	if p.MaxDelay > 0 && raw >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if math.IsInf(raw, 0) || raw >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(raw)
}

// Delay returns the suspension before the attempt following attempt,
// applying jitter when enabled.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	if !p.Jitter || d <= 0 {
		return d
	}
	factor := 0.5 + rand.Float64()*0.5 // #nosec G404 -- jitter does not need crypto randomness
	return time.Duration(float64(d) * factor)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// SleepContext sleeps for d unless ctx is done first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// Retry re-invokes Next while the returned error is retryable.
type Retry struct {
	Policy Policy

	// Retryable decides whether an error consumes an attempt and is retried.
	// If nil, IsRetryable is used.
	Retryable func(error) bool

	// Sleep suspends between attempts. If nil, SleepContext is used.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry, if set, is called before each suspension
	OnRetry func(attempt int, delay time.Duration, err error)

	Logger *slog.Logger
	Next   Invoker
}

// Invoke implements Invoker.
func (r *Retry) Invoke(ctx context.Context, op Operation) (any, error) {
	next := r.Next
	if next == nil {
		next = Direct{}
	}
	retryable := r.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	maxAttempts := r.Policy.attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := next.Invoke(ctx, op)
		if err == nil {
			if attempt > 1 && r.Logger != nil {
				r.Logger.Info("operation succeeded after retry", "attempt", attempt)
			}
			return value, nil
		}
		if !retryable(err) {
			return nil, err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := r.Policy.Delay(attempt)
		if hint := RetryAfter(err); hint > delay {
			delay = hint
			if r.Policy.MaxDelay > 0 && delay > r.Policy.MaxDelay {
				delay = r.Policy.MaxDelay
			}
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}
		if r.Logger != nil {
			r.Logger.Warn("operation failed, retrying",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"delay", delay,
				"error", err)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry interrupted: %w", err)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}
