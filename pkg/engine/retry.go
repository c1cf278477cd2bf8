package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// WaitMin and WaitMax bound the jittered pause between attempts.
	// Every pause is drawn uniformly from [WaitMin, WaitMax); there is no growth.
	WaitMin time.Duration
	WaitMax time.Duration

	// MaxAttempts is the total number of times the operation may be invoked.
	MaxAttempts int

	// IsRetryable decides whether a failed attempt may be tried again.
	IsRetryable func(error) bool

	// Explanation is appended to each attempt's status entry, if set.
	Explanation string

	// OnRetry is called before sleeping ahead of another attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns the policy used for remote calls unless configured otherwise.
func DefaultRetryPolicy(isRetryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		WaitMin:     1 * time.Second,
		WaitMax:     2 * time.Second,
		MaxAttempts: 3,
		IsRetryable: isRetryable,
	}
}

// Validate checks that the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.WaitMin < 0 || p.WaitMax < 0 {
		return fmt.Errorf("retry waits must not be negative")
	}
	if p.WaitMin > p.WaitMax {
		return fmt.Errorf("wait min > wait max (%s > %s)", p.WaitMin, p.WaitMax)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	return nil
}

func (p RetryPolicy) wait() time.Duration {
	window := p.WaitMax - p.WaitMin
	if window <= 0 {
		return p.WaitMin
	}
	return p.WaitMin + time.Duration(rand.Int64N(int64(window)))
}

// Retry invokes op until it succeeds, the policy's attempts are exhausted, or
// op fails with a permanent error or one the policy does not consider retryable. Every failed
// attempt appends one entry to status. The last error is returned unchanged.
func Retry[R any](ctx context.Context, status *Channel, policy RetryPolicy, op func(context.Context) (R, error)) (R, error) {
	var zero R
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	logger := zerolog.Ctx(ctx)

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		entry := fmt.Sprintf("%v (attempt %d/%d)", err, attempt+1, policy.MaxAttempts)
		if policy.Explanation != "" {
			entry += "\n" + policy.Explanation
		}
		status.Append(entry)

		if attempt+1 >= policy.MaxAttempts {
			return zero, err
		}
		if IsPermanent(err) || policy.IsRetryable == nil || !policy.IsRetryable(err) {
			return zero, err
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, err)
		}
		backoff := policy.wait()
		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", policy.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Retrying after failure")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		}
	}
}
