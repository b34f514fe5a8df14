package recovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ducminhle1904/signal-bridge/internal/errors"
)

// BackoffStrategy defines different backoff strategies
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// Policy bounds how often and how fast an operation is retried
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    BackoffStrategy
	Multiplier  float64
	Jitter      bool
}

// DefaultPolicy retries three times with exponential backoff from 500ms
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Strategy:    BackoffExponential,
		Multiplier:  2,
		Jitter:      true,
	}
}

// Retrier executes operations under a Policy and keeps error statistics
type Retrier struct {
	policy Policy
	mu     sync.Mutex
	stats  *errors.ErrorStats
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier, filling zero policy fields from DefaultPolicy
func NewRetrier(policy Policy) *Retrier {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.Strategy == "" {
		policy.Strategy = def.Strategy
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = def.Multiplier
	}
	return &Retrier{
		policy: policy,
		stats:  errors.NewErrorStats(50),
		sleep:  sleepCtx,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are used up or ctx ends. Errors that are not BotErrors count as IO failures.
func (r *Retrier) Do(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		botErr := categorize(err, component, operation)
		r.mu.Lock()
		r.stats.RecordError(botErr)
		r.mu.Unlock()
		if !botErr.IsRetryable() || attempt == r.policy.MaxAttempts-1 {
			break
		}
		if err := r.sleep(ctx, r.Delay(attempt)); err != nil {
			break
		}
	}
	return fmt.Errorf("%s.%s failed: %w", component, operation, lastErr)
}

// Delay returns the wait before retry number attempt+1
func (r *Retrier) Delay(attempt int) time.Duration {
	base := r.policy.BaseDelay
	var delay time.Duration

	switch r.policy.Strategy {
	case BackoffExponential:
		multiplier := 1.0
		for i := 0; i < attempt; i++ {
			multiplier *= r.policy.Multiplier
		}
		delay = time.Duration(float64(base) * multiplier)
	case BackoffLinear:
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if delay > r.policy.MaxDelay {
		delay = r.policy.MaxDelay
	}
	if r.policy.Jitter {
		delay = addJitter(delay)
	}
	return delay
}

// Stats exposes the errors seen by this retrier. Only safe to read while no
// operation is running.
func (r *Retrier) Stats() *errors.ErrorStats {
	return r.stats
}

func categorize(err error, component, operation string) *errors.BotError {
	var botErr *errors.BotError
	if stderrors.As(err, &botErr) {
		return botErr
	}
	return errors.NewIOError(component, operation, err)
}

// addJitter adds up to 10% random jitter
func addJitter(delay time.Duration) time.Duration {
	jitter := int64(delay) / 10
	if jitter <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(jitter))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
