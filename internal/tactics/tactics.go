// Package tactics turns sized decisions into child orders over time. Every
// scheduler is a deterministic function of (decision, market snapshot,
// clock); tests drive them with virtual clocks and synthetic markets.
package tactics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// Clock abstracts time for schedulers. Production uses SystemClock; tests
// use a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock for deterministic tests.
type ManualClock struct {
	T time.Time
}

func (c *ManualClock) Now() time.Time       { return c.T }
func (c *ManualClock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// MarketState classifies current conditions for tactic selection.
type MarketState string

const (
	MarketNormal     MarketState = "normal"
	MarketWideSpread MarketState = "wide_spread"
	MarketVolatile   MarketState = "volatile"
)

// Snapshot is the market context a scheduler sees on each tick.
type Snapshot struct {
	Quote          domain.Quote
	LastPrice      domain.Money
	ADV            domain.Quantity // average daily volume
	IntervalVolume domain.Quantity // volume over the most recent interval
	State          MarketState
}

// ActionKind tags what a scheduler wants done right now.
type ActionKind string

const (
	ActionPlace   ActionKind = "place"
	ActionReprice ActionKind = "reprice"
	ActionCancel  ActionKind = "cancel"
	ActionDone    ActionKind = "done"
	ActionWait    ActionKind = "wait"
)

// ChildOrder is one concrete order a tactic wants submitted.
type ChildOrder struct {
	Side       domain.Side
	Type       domain.OrderType
	Quantity   domain.Quantity
	LimitPrice domain.Money
	At         time.Time
	TimeInForce domain.TimeInForce
}

// Action is a scheduler's instruction for the current tick.
type Action struct {
	Kind   ActionKind
	Order  ChildOrder // set for Place and Reprice
	Reason string     // set for Cancel and Done
}

var (
	bpsDivisor = decimal.NewFromInt(10000)
	one        = decimal.NewFromInt(1)
)

// bpsFactor returns 1 ± bps/10000.
func bpsFactor(bps decimal.Decimal, up bool) decimal.Decimal {
	delta := bps.Div(bpsDivisor)
	if up {
		return one.Add(delta)
	}
	return one.Sub(delta)
}
