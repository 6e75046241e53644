package database

import (
	"context"
	"math"
	"time"
)

// RetryPolicy bounds the connection attempts made by Connect.
type RetryPolicy struct {
	// MaxAttempts is the number of retries after the initial attempt.
	MaxAttempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
}

// DefaultRetryPolicy returns 5 retries starting at 5s with a 1.5 multiplier.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   5 * time.Second,
		Multiplier:  1.5,
	}
}

// Delay returns the wait before retry number attempt (1-based):
// BaseDelay × Multiplier^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
}

// withDefaults fills unset fields. The zero policy is the default policy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p == (RetryPolicy{}) {
		return d
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// FailurePolicy decides what happens once retries are exhausted.
type FailurePolicy int

const (
	// FailurePropagate returns the terminal error to the caller.
	FailurePropagate FailurePolicy = iota
	// FailureTerminate additionally invokes the configured fatal handler,
	// which is expected to end the process.
	FailureTerminate
)

func (p FailurePolicy) String() string {
	if p == FailureTerminate {
		return "terminate"
	}
	return "propagate"
}

// FailurePolicyFor returns FailureTerminate for production deployments and
// FailurePropagate everywhere else.
func FailurePolicyFor(production bool) FailurePolicy {
	if production {
		return FailureTerminate
	}
	return FailurePropagate
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
