package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/risk"
	"github.com/ccheney/cream-sub002/internal/tactics"
)

// SnapshotProvider serves current market context for tactic selection. The
// execution engine backs this with the stream-proxy quote feed plus cached
// volume statistics.
type SnapshotProvider interface {
	Snapshot(symbol string) (tactics.Snapshot, bool)
}

// Tactician picks a scheduler for each sized decision and shapes the first
// child order it emits. Subsequent children (TWAP slices, iceberg refills,
// passive reprices) are driven by the schedulers' own clocks.
type Tactician struct {
	passive    tactics.PassiveLimitConfig
	aggressive tactics.AggressiveLimitConfig
	twap       tactics.TWAPConfig
	vwap       tactics.VWAPConfig
	icebergFrac decimal.Decimal
	clock      tactics.Clock
}

// TacticianConfig carries the per-tactic tuning from configuration.
type TacticianConfig struct {
	Passive    tactics.PassiveLimitConfig
	Aggressive tactics.AggressiveLimitConfig
	TWAP       tactics.TWAPConfig
	VWAP       tactics.VWAPConfig
	// IcebergDisplayFraction sizes the visible slice as a fraction of the
	// parent order.
	IcebergDisplayFraction decimal.Decimal
}

func NewTactician(cfg TacticianConfig, clock tactics.Clock) *Tactician {
	if clock == nil {
		clock = tactics.SystemClock{}
	}
	return &Tactician{
		passive:    cfg.Passive,
		aggressive: cfg.Aggressive,
		twap:        cfg.TWAP,
		vwap:        cfg.VWAP,
		icebergFrac: cfg.IcebergDisplayFraction,
		clock:       clock,
	}
}

// FirstChild selects the tactic and produces the opening child order for a
// sized decision.
func (t *Tactician) FirstChild(sd risk.SizedDecision, purpose domain.OrderPurpose, snap tactics.Snapshot) (tactics.TacticType, tactics.ChildOrder, error) {
	side := domain.Buy
	if sd.Decision.Action == domain.ActionSell ||
		(sd.Decision.Action == domain.ActionClose && sd.Decision.Direction == domain.Long) {
		side = domain.Sell
	}

	tactic := tactics.Select(purpose, sd.Units, sd.Decision.Urgency, snap)

	switch tactic {
	case tactics.PassiveLimitTactic:
		act := tactics.NewPassiveLimit(t.passive, side, sd.Units, t.clock).Tick(snap)
		return tactic, act.Order, nil

	case tactics.AggressiveLimitTactic:
		act := tactics.NewAggressiveLimit(t.aggressive, side, sd.Units, t.clock).Tick(snap)
		return tactic, act.Order, nil

	case tactics.TWAPTactic:
		slices, err := tactics.TWAPSchedule(t.twap, sd.Units, t.clock.Now())
		if err != nil {
			return tactic, tactics.ChildOrder{}, err
		}
		return tactic, tactics.ChildOrder{
			Side:        side,
			Type:        domain.Market,
			Quantity:    slices[0].Quantity,
			At:          slices[0].At,
			TimeInForce: domain.Day,
		}, nil

	case tactics.VWAPTactic:
		qty := tactics.VWAPNextSlice(t.vwap, sd.Units, snap, t.clock.Now())
		if !qty.IsPositive() {
			return tactic, tactics.ChildOrder{}, fmt.Errorf("vwap: no interval volume for %s", sd.Decision.Instrument.Symbol)
		}
		return tactic, tactics.ChildOrder{
			Side:        side,
			Type:        tactics.VWAPOrderType(t.vwap),
			Quantity:    qty,
			At:          t.clock.Now(),
			TimeInForce: domain.Day,
		}, nil

	case tactics.IcebergTactic:
		display := sd.Units.MulFrac(t.icebergFrac)
		if !display.IsPositive() {
			display = sd.Units
		}
		ic := tactics.NewIceberg(tactics.IcebergConfig{DisplayQty: display}, side, sd.Units, t.clock)
		act := ic.Tick(snap)
		return tactic, act.Order, nil

	default:
		act := tactics.NewAdaptive(tactics.DefaultAdaptiveConfig(t.clock.Now().Add(t.passive.MaxWait)), side, sd.Units, t.clock).Tick(snap)
		return tactic, act.Order, nil
	}
}
