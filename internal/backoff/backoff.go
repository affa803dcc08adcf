// Package backoff computes retry delays for failed dispatch attempts.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before the next attempt, given the
	// number of attempts already made (1-indexed: after the first failed
	// attempt, Delay(1) applies).
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Cap).
type Exponential struct {
	Initial time.Duration
	Cap     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, cap time.Duration) *Exponential {
	return &Exponential{Initial: initial, Cap: cap}
}

// Delay returns Initial * 2^(attempt-1), capped at Cap. Attempts below 1
// are treated as 1.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Cap > 0 && (d > e.Cap || d <= 0) {
		return e.Cap
	}
	return d
}

// Default is the dispatch retry schedule: 1, 2, 4, 8, 16, 32, 60, 60, ...
// minutes.
func Default() Strategy {
	return &Exponential{Initial: time.Minute, Cap: 60 * time.Minute}
}

// Constant always returns the same delay regardless of attempt number.
// Used by tests and tooling that want deterministic requeue times.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration { return c.Interval }
