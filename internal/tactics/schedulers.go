package tactics

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// TWAPConfig defines the time-weighted schedule.
type TWAPConfig struct {
	Duration      time.Duration
	SliceInterval time.Duration
	AllowPastEnd  bool
}

// TWAPSlice is one scheduled child submission.
type TWAPSlice struct {
	At       time.Time
	Quantity domain.Quantity
}

// TWAPSchedule splits totalQty evenly across N = duration/interval slices,
// each at an exact offset from start. The remainder from whole-share
// division lands on the first slice. A final slice that would straddle the
// window end is clipped when AllowPastEnd is false.
func TWAPSchedule(cfg TWAPConfig, totalQty domain.Quantity, start time.Time) ([]TWAPSlice, error) {
	if cfg.SliceInterval <= 0 || cfg.Duration < cfg.SliceInterval {
		return nil, fmt.Errorf("twap: interval %s does not fit duration %s", cfg.SliceInterval, cfg.Duration)
	}
	if !totalQty.IsPositive() {
		return nil, fmt.Errorf("twap: quantity must be positive")
	}

	n := int64(cfg.Duration / cfg.SliceInterval)

	per := totalQty.DivInt(n)
	if !per.IsPositive() {
		return nil, fmt.Errorf("twap: %s shares cannot split into %d slices", totalQty, n)
	}
	remainder := totalQty.Sub(per.MulFrac(decimal.NewFromInt(n)))

	// A trailing slice at n*interval would straddle the window end; it is
	// emitted only when allowed and only when the interval does not divide
	// the window evenly. Otherwise the remainder folds into the first slice
	// (clip).
	tail := cfg.AllowPastEnd && cfg.Duration%cfg.SliceInterval != 0 && remainder.IsPositive()

	slices := make([]TWAPSlice, 0, n+1)
	for i := int64(0); i < n; i++ {
		qty := per
		if i == 0 && !tail {
			qty = qty.Add(remainder)
		}
		slices = append(slices, TWAPSlice{
			At:       start.Add(time.Duration(i) * cfg.SliceInterval),
			Quantity: qty,
		})
	}
	if tail {
		slices = append(slices, TWAPSlice{
			At:       start.Add(time.Duration(n) * cfg.SliceInterval),
			Quantity: remainder,
		})
	}
	return slices, nil
}

// VWAPConfig bounds volume participation.
type VWAPConfig struct {
	MaxPctVolume decimal.Decimal // fraction of recent interval volume
	Start        time.Time       // zero means unconstrained
	End          time.Time
	NoTakeLiquidity bool
}

// VWAPNextSlice sizes the next child as
// min(max_pct_volume * recent_interval_volume, remaining). Returns zero
// outside the configured window or when the interval had no volume.
func VWAPNextSlice(cfg VWAPConfig, remaining domain.Quantity, snap Snapshot, now time.Time) domain.Quantity {
	if !remaining.IsPositive() {
		return domain.ZeroQuantity
	}
	if !cfg.Start.IsZero() && now.Before(cfg.Start) {
		return domain.ZeroQuantity
	}
	if !cfg.End.IsZero() && now.After(cfg.End) {
		return domain.ZeroQuantity
	}
	if !snap.IntervalVolume.IsPositive() {
		return domain.ZeroQuantity
	}

	cap := snap.IntervalVolume.MulFrac(cfg.MaxPctVolume)
	capFloor := domain.MustQuantity(cap.Decimal().Floor().String())
	return capFloor.Min(remaining)
}

// VWAPOrderType picks the child order type under the liquidity constraint.
func VWAPOrderType(cfg VWAPConfig) domain.OrderType {
	if cfg.NoTakeLiquidity {
		return domain.Limit
	}
	return domain.Market
}

// IcebergConfig sizes the visible slice.
type IcebergConfig struct {
	DisplayQty domain.Quantity
}

// Iceberg shows DisplayQty at a time and refills as fills arrive.
type Iceberg struct {
	cfg       IcebergConfig
	side      domain.Side
	remaining domain.Quantity
	visible   domain.Quantity
	clock     Clock
}

func NewIceberg(cfg IcebergConfig, side domain.Side, totalQty domain.Quantity, clock Clock) *Iceberg {
	return &Iceberg{cfg: cfg, side: side, remaining: totalQty, clock: clock}
}

// OnFill reduces both the visible slice and the total.
func (ic *Iceberg) OnFill(qty domain.Quantity) {
	ic.visible = ic.visible.Sub(qty)
	if ic.visible.IsNegative() {
		ic.visible = domain.ZeroQuantity
	}
	ic.remaining = ic.remaining.Sub(qty)
	if ic.remaining.IsNegative() {
		ic.remaining = domain.ZeroQuantity
	}
}

// Tick refills the display when it is exhausted; Done when total reached.
func (ic *Iceberg) Tick(snap Snapshot) Action {
	if !ic.remaining.IsPositive() {
		return Action{Kind: ActionDone, Reason: "iceberg complete"}
	}
	if ic.visible.IsPositive() {
		return Action{Kind: ActionWait}
	}

	slice := ic.cfg.DisplayQty.Min(ic.remaining)
	ic.visible = slice
	price := snap.Quote.BidPrice
	if ic.side == domain.Sell {
		price = snap.Quote.AskPrice
	}
	return Action{Kind: ActionPlace, Order: ChildOrder{
		Side:        ic.side,
		Type:        domain.Limit,
		Quantity:    slice,
		LimitPrice:  price,
		At:          ic.clock.Now(),
		TimeInForce: domain.Day,
	}}
}

// Remaining reports the quantity not yet filled, the displayed slice included.
func (ic *Iceberg) Remaining() domain.Quantity { return ic.remaining }
