package tactics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// AdaptiveConfig tunes the urgency feedback loop.
type AdaptiveConfig struct {
	InitialUrgency float64
	// Sensitivities per signal, applied per tick.
	AdverseMoveStep float64 // urgency increase when price moves against us
	LiquidityStep   float64 // urgency increase when displayed size shrinks
	SpreadStep      float64 // urgency decrease when the spread widens
	TimeStep        float64 // urgency increase as the deadline nears
	Deadline        time.Time

	Passive    PassiveLimitConfig
	Aggressive AggressiveLimitConfig
}

// Adaptive maintains an urgency scalar in [0,1] and resamples the scheduler
// choice each tick: aggressive above 0.5, passive otherwise. Adverse price
// moves and vanishing liquidity raise urgency, a widening spread lowers it
// (crossing got more expensive), and a closing deadline raises it.
type Adaptive struct {
	cfg     AdaptiveConfig
	side    domain.Side
	qty     domain.Quantity
	clock   Clock
	urgency float64

	prevMid    domain.Money
	prevDepth  domain.Quantity
	prevSpread domain.Money
	seeded     bool
}

func NewAdaptive(cfg AdaptiveConfig, side domain.Side, qty domain.Quantity, clock Clock) *Adaptive {
	u := cfg.InitialUrgency
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	return &Adaptive{cfg: cfg, side: side, qty: qty, clock: clock, urgency: u}
}

// Urgency exposes the current scalar.
func (a *Adaptive) Urgency() float64 { return a.urgency }

// Observe folds one market snapshot into the urgency scalar.
func (a *Adaptive) Observe(snap Snapshot) {
	mid := snap.Quote.Mid()
	depth := a.nearDepth(snap)
	spread := snap.Quote.Spread()

	if a.seeded {
		if a.adverse(mid) {
			a.urgency += a.cfg.AdverseMoveStep
		}
		if depth.Cmp(a.prevDepth) < 0 {
			a.urgency += a.cfg.LiquidityStep
		}
		if spread.Cmp(a.prevSpread) > 0 {
			a.urgency -= a.cfg.SpreadStep
		}
	}
	if !a.cfg.Deadline.IsZero() {
		total := a.cfg.Deadline.Sub(a.clock.Now())
		if total <= 0 {
			a.urgency = 1
		} else if total < time.Minute {
			a.urgency += a.cfg.TimeStep
		}
	}

	if a.urgency < 0 {
		a.urgency = 0
	}
	if a.urgency > 1 {
		a.urgency = 1
	}

	a.prevMid = mid
	a.prevDepth = depth
	a.prevSpread = spread
	a.seeded = true
}

// adverse reports a price move against the order's side.
func (a *Adaptive) adverse(mid domain.Money) bool {
	if a.side == domain.Buy {
		return mid.Cmp(a.prevMid) > 0
	}
	return mid.Cmp(a.prevMid) < 0
}

func (a *Adaptive) nearDepth(snap Snapshot) domain.Quantity {
	if a.side == domain.Buy {
		return snap.Quote.AskSize
	}
	return snap.Quote.BidSize
}

// Tick observes the market, then delegates to the scheduler the current
// urgency selects. A fresh sub-scheduler is built per tick so the choice is
// re-sampled every time.
func (a *Adaptive) Tick(snap Snapshot) Action {
	a.Observe(snap)

	if a.urgency > highUrgency {
		return NewAggressiveLimit(a.cfg.Aggressive, a.side, a.qty, a.clock).Tick(snap)
	}
	return NewPassiveLimit(a.cfg.Passive, a.side, a.qty, a.clock).Tick(snap)
}

// DefaultAdaptiveConfig is the tuning used when none is configured.
func DefaultAdaptiveConfig(deadline time.Time) AdaptiveConfig {
	return AdaptiveConfig{
		InitialUrgency:  0.3,
		AdverseMoveStep: 0.1,
		LiquidityStep:   0.05,
		SpreadStep:      0.05,
		TimeStep:        0.1,
		Deadline:        deadline,
		Passive: PassiveLimitConfig{
			OffsetBps: decimal.NewFromInt(2),
			Decay:     15 * time.Second,
			MaxWait:   2 * time.Minute,
		},
		Aggressive: AggressiveLimitConfig{
			CrossBps: decimal.NewFromInt(5),
			Timeout:  30 * time.Second,
		},
	}
}
