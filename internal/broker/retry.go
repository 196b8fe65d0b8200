package broker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy is capped exponential backoff with jitter for broker calls.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int
}

// DefaultRetryPolicy matches the adapter defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:     250 * time.Millisecond,
		Max:         10 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// delay computes the pause before attempt n (0-based).
func (p RetryPolicy) delay(n int, rng *rand.Rand) time.Duration {
	base := float64(p.Initial) * math.Pow(p.Multiplier, float64(n))
	if base > float64(p.Max) {
		base = float64(p.Max)
	}
	if p.Jitter > 0 && rng != nil {
		base *= 1 - p.Jitter + 2*p.Jitter*rng.Float64()
	}
	return time.Duration(base)
}

// retryable classifies an error from one attempt. 429/408/5xx and transport
// failures retry; other 4xx do not.
func retryable(err error) (bool, time.Duration) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true, rl.RetryAfter
	}
	var he *HTTPError
	if errors.As(err, &he) {
		if he.StatusCode == http.StatusRequestTimeout || he.StatusCode >= 500 {
			return true, 0
		}
		return false, 0
	}
	if errors.Is(err, ErrNetwork) {
		return true, 0
	}
	// Typed domain errors (auth, rejection, not-found, parse) never retry.
	return false, 0
}

// do runs fn with the policy. Retry-After from a rate-limit response
// overrides the computed backoff for that attempt.
func (p RetryPolicy) do(ctx context.Context, rng *rand.Rand, onRetry func(), fn func() error) error {
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn()
		if last == nil {
			return nil
		}

		ok, serverWait := retryable(last)
		if !ok {
			return last
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if onRetry != nil {
			onRetry()
		}

		wait := p.delay(attempt, rng)
		if serverWait > 0 {
			wait = serverWait
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return &MaxRetriesExceededError{Attempts: p.MaxAttempts, Last: last}
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
