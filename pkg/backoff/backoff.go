package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Strategy decides how long to wait before a retry.
// attempt is 1-based (1 for the first retry).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Fixed waits the same duration before every retry
type Fixed struct {
	Duration time.Duration
}

// NewFixed creates a fixed delay strategy
func NewFixed(duration time.Duration) *Fixed {
	return &Fixed{Duration: duration}
}

// Delay returns the fixed duration for any attempt
func (f *Fixed) Delay(attempt int) time.Duration {
	return f.Duration
}

// Exponential grows the delay by Multiplier per attempt, capped at MaxDelay
// when it is positive. With Jitter set the delay is drawn uniformly from
// [0, exponential delay).
type Exponential struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

// NewExponential creates an exponential strategy without jitter
func NewExponential(baseDelay time.Duration, multiplier float64, maxDelay time.Duration) *Exponential {
	return &Exponential{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
	}
}

// NewJitter creates an exponential strategy with full jitter
func NewJitter(baseDelay time.Duration, multiplier float64, maxDelay time.Duration) *Exponential {
	e := NewExponential(baseDelay, multiplier, maxDelay)
	e.Jitter = true
	return e
}

// Delay returns the delay before the given retry
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(e.BaseDelay) * math.Pow(e.Multiplier, float64(attempt-1))
	if e.MaxDelay > 0 && delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}

	if e.Jitter {
		delay = rand.Float64() * delay
	}
	return time.Duration(delay)
}

// Default is the strategy clients use to wait for a starting daemon
func Default() Strategy {
	return NewJitter(50*time.Millisecond, 2, time.Second)
}

// Retry calls fn until it succeeds, retries are used up, or ctx ends.
// retries is the number of calls after the first; the last error is
// returned. A false from retryable stops immediately.
func Retry(ctx context.Context, retries int, strategy Strategy, retryable func(error) bool, fn func() error) error {
	err := fn()
	for attempt := 1; err != nil && attempt <= retries; attempt++ {
		if retryable != nil && !retryable(err) {
			return err
		}

		timer := time.NewTimer(strategy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		err = fn()
	}
	return err
}
