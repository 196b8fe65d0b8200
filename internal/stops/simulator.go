package stops

import (
	"hash/fnv"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// ConflictPolicy decides the winner when a candle's range covers both the
// stop and the target.
type ConflictPolicy string

const (
	StopFirst   ConflictPolicy = "stop_first"
	TargetFirst ConflictPolicy = "target_first"
	WorstCase   ConflictPolicy = "worst_case"
	RandomPick  ConflictPolicy = "random"
)

// FillPriceModel selects how the trigger fill is priced.
type FillPriceModel string

const (
	FillAtLevel FillPriceModel = "level"
	FillSlipped FillPriceModel = "slipped"
)

// SimulatorConfig tunes backtest trigger resolution.
type SimulatorConfig struct {
	Conflict    ConflictPolicy
	PriceModel  FillPriceModel
	SlippageBps decimal.Decimal
}

// DefaultSimulatorConfig is StopFirst at the level: the conservative bias.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{Conflict: StopFirst, PriceModel: FillAtLevel}
}

// SimResult is the outcome of testing one candle.
type SimResult struct {
	Kind      TriggerKind
	FillPrice domain.Money
}

// Simulator resolves stop/target hits against candle extremes.
type Simulator struct {
	cfg SimulatorConfig
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{cfg: cfg}
}

// Evaluate tests a candle against the levels. Long: stop against the low,
// target against the high; short inverted. When both hit, the conflict
// policy resolves. Returns ok=false when nothing fired.
func (s *Simulator) Evaluate(dir domain.Direction, bar domain.Bar, stop, target domain.Money) (SimResult, bool) {
	var stopHit, targetHit bool
	if dir == domain.Long {
		stopHit = stop.IsPositive() && bar.Low.Cmp(stop) <= 0
		targetHit = target.IsPositive() && bar.High.Cmp(target) >= 0
	} else {
		stopHit = stop.IsPositive() && bar.High.Cmp(stop) >= 0
		targetHit = target.IsPositive() && bar.Low.Cmp(target) <= 0
	}

	switch {
	case !stopHit && !targetHit:
		return SimResult{}, false
	case stopHit && !targetHit:
		return s.result(TriggerStopLoss, dir, stop), true
	case targetHit && !stopHit:
		return s.result(TriggerTakeProfit, dir, target), true
	}

	// Same-bar conflict.
	switch s.cfg.Conflict {
	case TargetFirst:
		return s.result(TriggerTakeProfit, dir, target), true
	case WorstCase:
		// The stop is always the worse outcome: lower realized P&L on longs,
		// higher cost to cover on shorts.
		return s.result(TriggerStopLoss, dir, stop), true
	case RandomPick:
		if pickStop(bar, stop, target) {
			return s.result(TriggerStopLoss, dir, stop), true
		}
		return s.result(TriggerTakeProfit, dir, target), true
	default: // StopFirst
		return s.result(TriggerStopLoss, dir, stop), true
	}
}

// pickStop derives a deterministic coin flip from (timestamp, stop, target)
// so replays reproduce exactly.
func pickStop(bar domain.Bar, stop, target domain.Money) bool {
	h := fnv.New64a()
	h.Write([]byte(bar.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000")))
	h.Write([]byte(stop.String()))
	h.Write([]byte(target.String()))
	return h.Sum64()%2 == 0
}

// result prices the fill per the configured model. Slippage is applied
// against the taker: a long exits by selling (price down), a short exits by
// buying (price up).
func (s *Simulator) result(kind TriggerKind, dir domain.Direction, level domain.Money) SimResult {
	price := level
	if s.cfg.PriceModel == FillSlipped && s.cfg.SlippageBps.IsPositive() {
		frac := s.cfg.SlippageBps.Div(decimal.NewFromInt(10000))
		if dir == domain.Long {
			price = level.MulFrac(decimal.NewFromInt(1).Sub(frac))
		} else {
			price = level.MulFrac(decimal.NewFromInt(1).Add(frac))
		}
	}
	return SimResult{Kind: kind, FillPrice: price}
}
