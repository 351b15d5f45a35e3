package fetcher

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides whether a failed hop is attempted again and how long to
// wait first.
type RetryPolicy interface {
	ShouldRetry(ctx context.Context, err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy waits base*2^attempt between attempts, capped at
// maxDelay, with optional jitter.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      bool
}

// NewExponentialRetryPolicy builds a policy allowing maxAttempts total
// attempts per hop. Values below one are treated as one.
func NewExponentialRetryPolicy(maxAttempts int, base, maxDelay time.Duration, jitter bool) *ExponentialRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   base,
		maxDelay:    maxDelay,
		jitter:      jitter,
	}
}

// MaxAttempts returns the total number of attempts per hop.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether attempt (zero-based, already failed with err)
// may be followed by another. Terminal errors and cancellation of the
// caller's context never retry; an expired per-hop deadline does.
func (p *ExponentialRetryPolicy) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt+1 >= p.maxAttempts {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !terminal(err)
}

// Backoff returns the wait before the attempt following attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	if !p.jitter {
		return time.Duration(delay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
