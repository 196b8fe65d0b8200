// Package backtest simulates order execution against historical candles:
// slippage and commission models, partial fills, trigger resolution, a
// time-ordered replay engine, and look-ahead-bias validation.
package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// SlippageModel prices execution friction against a reference price.
type SlippageModel interface {
	// Apply returns the adjusted fill price. side is the taker side of the
	// simulated fill; entry distinguishes entry- from exit-specific rates.
	Apply(ref domain.Money, side domain.Side, entry bool, ctx SlippageContext) domain.Money
}

// SlippageContext carries the market inputs some models need.
type SlippageContext struct {
	HalfSpread     domain.Money
	OrderQty       domain.Quantity
	IntervalVolume domain.Quantity
}

var (
	oneDec  = decimal.NewFromInt(1)
	tenK    = decimal.NewFromInt(10000)
)

// FixedBps applies entry- and exit-specific basis points against the taker.
type FixedBps struct {
	EntryBps decimal.Decimal
	ExitBps  decimal.Decimal
}

func (m FixedBps) Apply(ref domain.Money, side domain.Side, entry bool, _ SlippageContext) domain.Money {
	bps := m.ExitBps
	if entry {
		bps = m.EntryBps
	}
	frac := bps.Div(tenK)
	if side == domain.Buy {
		return ref.MulFrac(oneDec.Add(frac))
	}
	return ref.MulFrac(oneDec.Sub(frac))
}

// SpreadBased fills at mid + fraction * half_spread toward the taker side,
// with fraction in [0,1].
type SpreadBased struct {
	Fraction decimal.Decimal
}

func (m SpreadBased) Apply(ref domain.Money, side domain.Side, _ bool, ctx SlippageContext) domain.Money {
	step := ctx.HalfSpread.MulFrac(m.Fraction)
	if side == domain.Buy {
		return ref.Add(step)
	}
	return ref.Sub(step)
}

// VolumeImpact models price impact as
// coefficient * (order_qty / interval_qty)^exponent; the square-root law at
// exponent 0.5. The impact is a price fraction applied against the taker.
type VolumeImpact struct {
	Coefficient decimal.Decimal
	Exponent    float64
}

func (m VolumeImpact) Apply(ref domain.Money, side domain.Side, _ bool, ctx SlippageContext) domain.Money {
	if !ctx.IntervalVolume.IsPositive() {
		return ref
	}
	ratio := ctx.OrderQty.Decimal().Div(ctx.IntervalVolume.Decimal())
	powed := ratio.InexactFloat64()
	impact := m.Coefficient.Mul(decimal.NewFromFloat(pow(powed, m.Exponent)))
	if side == domain.Buy {
		return ref.MulFrac(oneDec.Add(impact))
	}
	return ref.MulFrac(oneDec.Sub(impact))
}

func pow(base, exp float64) float64 {
	if base <= 0 {
		return 0
	}
	return math.Pow(base, exp)
}
