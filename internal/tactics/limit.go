package tactics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// PassiveLimitConfig tunes the passive-limit-with-decay scheduler.
type PassiveLimitConfig struct {
	OffsetBps  decimal.Decimal // initial distance inside the near touch
	Decay      time.Duration   // after this, reprice toward the touch
	MaxWait    time.Duration   // after this without a fill, cancel
}

// PassiveLimit places inside the near touch, decays toward it, and gives up
// after MaxWait. The near touch for a buy is the bid; for a sell, the ask.
type PassiveLimit struct {
	cfg     PassiveLimitConfig
	side    domain.Side
	qty     domain.Quantity
	clock   Clock
	started time.Time
	placed  bool
	repriced bool
}

func NewPassiveLimit(cfg PassiveLimitConfig, side domain.Side, qty domain.Quantity, clock Clock) *PassiveLimit {
	return &PassiveLimit{cfg: cfg, side: side, qty: qty, clock: clock}
}

// Tick returns the next action given the current market.
func (p *PassiveLimit) Tick(snap Snapshot) Action {
	now := p.clock.Now()

	if !p.placed {
		p.placed = true
		p.started = now
		return Action{Kind: ActionPlace, Order: ChildOrder{
			Side:        p.side,
			Type:        domain.Limit,
			Quantity:    p.qty,
			LimitPrice:  p.passivePrice(snap),
			At:          now,
			TimeInForce: domain.Day,
		}}
	}

	elapsed := now.Sub(p.started)
	if elapsed >= p.cfg.MaxWait {
		return Action{Kind: ActionCancel, Reason: "passive limit max wait exceeded"}
	}
	if !p.repriced && elapsed >= p.cfg.Decay {
		p.repriced = true
		return Action{Kind: ActionReprice, Order: ChildOrder{
			Side:        p.side,
			Type:        domain.Limit,
			Quantity:    p.qty,
			LimitPrice:  p.touch(snap),
			At:          now,
			TimeInForce: domain.Day,
		}}
	}
	return Action{Kind: ActionWait}
}

// passivePrice is offset_bps inside the near touch: below the bid for buys,
// above the ask for sells.
func (p *PassiveLimit) passivePrice(snap Snapshot) domain.Money {
	if p.side == domain.Buy {
		return snap.Quote.BidPrice.MulFrac(bpsFactor(p.cfg.OffsetBps, false))
	}
	return snap.Quote.AskPrice.MulFrac(bpsFactor(p.cfg.OffsetBps, true))
}

func (p *PassiveLimit) touch(snap Snapshot) domain.Money {
	if p.side == domain.Buy {
		return snap.Quote.BidPrice
	}
	return snap.Quote.AskPrice
}

// AggressiveLimitConfig tunes the crossing scheduler.
type AggressiveLimitConfig struct {
	CrossBps decimal.Decimal // distance beyond the opposite touch
	Timeout  time.Duration
}

// AggressiveLimit crosses the spread with a bounded-price limit: above the
// ask for buys, below the bid for sells. Expires after Timeout.
type AggressiveLimit struct {
	cfg     AggressiveLimitConfig
	side    domain.Side
	qty     domain.Quantity
	clock   Clock
	started time.Time
	placed  bool
}

func NewAggressiveLimit(cfg AggressiveLimitConfig, side domain.Side, qty domain.Quantity, clock Clock) *AggressiveLimit {
	return &AggressiveLimit{cfg: cfg, side: side, qty: qty, clock: clock}
}

func (a *AggressiveLimit) Tick(snap Snapshot) Action {
	now := a.clock.Now()

	if !a.placed {
		a.placed = true
		a.started = now
		return Action{Kind: ActionPlace, Order: ChildOrder{
			Side:        a.side,
			Type:        domain.Limit,
			Quantity:    a.qty,
			LimitPrice:  a.crossingPrice(snap),
			At:          now,
			TimeInForce: domain.IOC,
		}}
	}
	if now.Sub(a.started) >= a.cfg.Timeout {
		return Action{Kind: ActionCancel, Reason: "aggressive limit timeout"}
	}
	return Action{Kind: ActionWait}
}

func (a *AggressiveLimit) crossingPrice(snap Snapshot) domain.Money {
	if a.side == domain.Buy {
		return snap.Quote.AskPrice.MulFrac(bpsFactor(a.cfg.CrossBps, true))
	}
	return snap.Quote.BidPrice.MulFrac(bpsFactor(a.cfg.CrossBps, false))
}
