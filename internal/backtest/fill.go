package backtest

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// PartialFillConfig enables the two partial-fill mechanisms.
type PartialFillConfig struct {
	// Probabilistic: with Probability, the fill shrinks to a uniform random
	// fraction in [MinFraction, MaxFraction] of the requested quantity.
	Probabilistic   bool
	Probability     float64
	MinFraction     decimal.Decimal
	MaxFraction     decimal.Decimal

	// Liquidity-based: the fill is clipped to
	// MaxOrderFractionOfVolume * bar volume.
	LiquidityBased           bool
	MaxOrderFractionOfVolume decimal.Decimal
}

// EngineConfig assembles the fill engine.
type EngineConfig struct {
	Slippage     SlippageModel
	Fees         FeeSchedule
	Partials     PartialFillConfig
	// VerifyTicks is how many ticks beyond the limit price the bar must
	// trade through before a limit fill is believed.
	VerifyTicks int
	TickSize    domain.Money
	Seed        int64
}

// FillResult reports what a candle did to a pending order.
type FillResult struct {
	Filled    bool
	Quantity  domain.Quantity
	Price     domain.Money
	Fees      Fees
	Partial   bool
}

// Engine decides whether a pending order fills against a single candle, at
// what price, for what quantity, and what it costs.
type Engine struct {
	cfg EngineConfig
	rng *rand.Rand
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.TickSize.IsZero() {
		cfg.TickSize = domain.MustMoney("0.01")
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// TryFill evaluates one candle against one pending order.
func (e *Engine) TryFill(o *domain.Order, bar domain.Bar) FillResult {
	ref, ok := e.referencePrice(o, bar)
	if !ok {
		return FillResult{}
	}

	qty := o.LeavesQty
	partial := false

	if e.cfg.Partials.LiquidityBased && bar.Volume.IsPositive() {
		cap := bar.Volume.MulFrac(e.cfg.Partials.MaxOrderFractionOfVolume)
		capFloor := floorQty(cap)
		if capFloor.IsPositive() && capFloor.Cmp(qty) < 0 {
			qty = capFloor
			partial = true
		}
	}

	if e.cfg.Partials.Probabilistic && e.rng.Float64() < e.cfg.Partials.Probability {
		span := e.cfg.Partials.MaxFraction.Sub(e.cfg.Partials.MinFraction)
		frac := e.cfg.Partials.MinFraction.Add(span.Mul(decimal.NewFromFloat(e.rng.Float64())))
		reduced := floorQty(qty.MulFrac(frac))
		if reduced.IsPositive() && reduced.Cmp(qty) < 0 {
			qty = reduced
			partial = true
		}
	}
	if !qty.IsPositive() {
		return FillResult{}
	}

	price := ref
	if e.cfg.Slippage != nil {
		entry := o.Purpose == domain.PurposeEntry || o.Purpose == domain.PurposeScaleIn
		price = e.cfg.Slippage.Apply(ref, o.Side, entry, SlippageContext{
			HalfSpread:     bar.High.Sub(bar.Low).MulFrac(decimal.RequireFromString("0.5")),
			OrderQty:       qty,
			IntervalVolume: bar.Volume,
		})
	}

	// Limit discipline survives slippage: the order never fills through its
	// own limit.
	if o.Type == domain.Limit || o.Type == domain.StopLimit {
		if o.Side == domain.Buy && price.Cmp(o.LimitPrice) > 0 {
			price = o.LimitPrice
		}
		if o.Side == domain.Sell && price.Cmp(o.LimitPrice) < 0 {
			price = o.LimitPrice
		}
	}

	return FillResult{
		Filled:   true,
		Quantity: qty,
		Price:    price,
		Fees:     e.cfg.Fees.Compute(o.Instrument, o.Side, qty, price),
		Partial:  partial,
	}
}

// referencePrice decides whether the candle reaches the order and at what
// base price. Market orders fill at the open. Limit orders require the bar
// to trade VerifyTicks beyond the limit to confirm liquidity at the level.
// Stop orders trigger on the extreme and fill at the stop level.
func (e *Engine) referencePrice(o *domain.Order, bar domain.Bar) (domain.Money, bool) {
	switch o.Type {
	case domain.Market:
		return bar.Open, true

	case domain.Limit:
		verify := e.cfg.TickSize.MulFrac(decimal.NewFromInt(int64(e.cfg.VerifyTicks)))
		if o.Side == domain.Buy {
			need := o.LimitPrice.Sub(verify)
			if bar.Low.Cmp(need) <= 0 {
				return o.LimitPrice, true
			}
		} else {
			need := o.LimitPrice.Add(verify)
			if bar.High.Cmp(need) >= 0 {
				return o.LimitPrice, true
			}
		}
		return domain.ZeroMoney, false

	case domain.Stop:
		if o.Side == domain.Sell {
			if bar.Low.Cmp(o.StopPrice) <= 0 {
				return o.StopPrice, true
			}
		} else {
			if bar.High.Cmp(o.StopPrice) >= 0 {
				return o.StopPrice, true
			}
		}
		return domain.ZeroMoney, false

	case domain.StopLimit:
		triggered := false
		if o.Side == domain.Sell {
			triggered = bar.Low.Cmp(o.StopPrice) <= 0
		} else {
			triggered = bar.High.Cmp(o.StopPrice) >= 0
		}
		if !triggered {
			return domain.ZeroMoney, false
		}
		limit := *o
		limit.Type = domain.Limit
		return e.referencePrice(&limit, bar)
	}
	return domain.ZeroMoney, false
}

func floorQty(q domain.Quantity) domain.Quantity {
	f, _ := domain.QuantityFromString(q.Decimal().Floor().String())
	return f
}
