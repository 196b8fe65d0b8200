package alpaca

import (
	"math"
	"math/rand"
	"time"
)

// ReconnectPolicy computes capped exponential backoff with jitter:
//
//	delay_n = min(initial * multiplier^n, max) * U[1-jitter, 1+jitter]
//
// Attempts is the cap on consecutive failures; 0 means unlimited. A
// successful transition to Streaming resets the counter.
type ReconnectPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64 // fraction in [0,1)
	MaxAttempts int

	attempt int
	rng     *rand.Rand
}

// NewReconnectPolicy seeds the jitter source. Tests pass a fixed seed via
// WithSeed for reproducible sequences.
func NewReconnectPolicy(initial, max time.Duration, multiplier, jitter float64, maxAttempts int) *ReconnectPolicy {
	return &ReconnectPolicy{
		Initial:     initial,
		Max:         max,
		Multiplier:  multiplier,
		Jitter:      jitter,
		MaxAttempts: maxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed replaces the jitter source; returns the policy for chaining.
func (p *ReconnectPolicy) WithSeed(seed int64) *ReconnectPolicy {
	p.rng = rand.New(rand.NewSource(seed))
	return p
}

// Next returns the delay before the next attempt, or (0, false) when the
// attempt cap is exhausted.
func (p *ReconnectPolicy) Next() (time.Duration, bool) {
	if p.MaxAttempts > 0 && p.attempt >= p.MaxAttempts {
		return 0, false
	}

	base := float64(p.Initial) * math.Pow(p.Multiplier, float64(p.attempt))
	if base > float64(p.Max) {
		base = float64(p.Max)
	}
	p.attempt++

	if p.Jitter > 0 {
		factor := 1 - p.Jitter + 2*p.Jitter*p.rng.Float64()
		base *= factor
	}
	return time.Duration(base), true
}

// Reset clears the failure counter after a successful Streaming transition.
func (p *ReconnectPolicy) Reset() {
	p.attempt = 0
}

// Attempt reports how many delays have been handed out since the last reset.
func (p *ReconnectPolicy) Attempt() int {
	return p.attempt
}
