package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccheney/cream-sub002/internal/domain"
)

var barTime = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func bar(sym string, o, h, l, c, v string, at time.Time) domain.Bar {
	return domain.Bar{
		Symbol: sym,
		Open:   domain.MustMoney(o),
		High:   domain.MustMoney(h),
		Low:    domain.MustMoney(l),
		Close:  domain.MustMoney(c),
		Volume: domain.MustQuantity(v),
		Timestamp: at,
	}
}

func pendingOrder(t *testing.T, typ domain.OrderType, side domain.Side, qty, limit, stop string) *domain.Order {
	t.Helper()
	cmd := domain.CreateOrderCommand{
		ClientOrderID: "bt-1",
		Instrument:    domain.Equity("AAPL"),
		Side:          side,
		Type:          typ,
		Quantity:      domain.MustQuantity(qty),
		TimeInForce:   domain.Day,
		Purpose:       domain.PurposeExit,
	}
	if limit != "" {
		cmd.LimitPrice = domain.MustMoney(limit)
	}
	if stop != "" {
		cmd.StopPrice = domain.MustMoney(stop)
	}
	o, err := domain.NewOrder(cmd, barTime)
	require.NoError(t, err)
	require.NoError(t, o.Accept("bkr", barTime))
	return o
}

func TestFixedBpsSlippage(t *testing.T) {
	m := FixedBps{EntryBps: decimal.NewFromInt(10), ExitBps: decimal.NewFromInt(5)}

	got := m.Apply(domain.MustMoney("100"), domain.Buy, true, SlippageContext{})
	assert.True(t, got.Equal(domain.MustMoney("100.1")), "entry buy pays up, got %s", got)

	got = m.Apply(domain.MustMoney("100"), domain.Sell, false, SlippageContext{})
	assert.True(t, got.Equal(domain.MustMoney("99.95")), "exit sell gives up, got %s", got)
}

func TestSpreadBasedSlippage(t *testing.T) {
	m := SpreadBased{Fraction: decimal.RequireFromString("0.5")}
	ctx := SlippageContext{HalfSpread: domain.MustMoney("0.02")}

	got := m.Apply(domain.MustMoney("100"), domain.Buy, true, ctx)
	assert.True(t, got.Equal(domain.MustMoney("100.01")), "got %s", got)

	got = m.Apply(domain.MustMoney("100"), domain.Sell, true, ctx)
	assert.True(t, got.Equal(domain.MustMoney("99.99")), "got %s", got)
}

func TestVolumeImpactSquareRootLaw(t *testing.T) {
	m := VolumeImpact{Coefficient: decimal.RequireFromString("0.1"), Exponent: 0.5}
	ctx := SlippageContext{
		OrderQty:       domain.MustQuantity("100"),
		IntervalVolume: domain.MustQuantity("10000"),
	}
	// ratio 0.01, sqrt = 0.1, impact = 0.01 -> buy at 101.
	got := m.Apply(domain.MustMoney("100"), domain.Buy, true, ctx)
	assert.InDelta(t, 101.0, got.Float64(), 0.0001)
}

func TestFeeScheduleEquitySell(t *testing.T) {
	fees := DefaultFeeSchedule().Compute(
		domain.Equity("AAPL"), domain.Sell,
		domain.MustQuantity("1000"), domain.MustMoney("100"))

	assert.True(t, fees.Commission.Equal(domain.MustMoney("5")), "commission %s", fees.Commission)
	assert.True(t, fees.SEC.Equal(domain.MustMoney("2.78")), "sec %s", fees.SEC)
	assert.True(t, fees.TAF.Equal(domain.MustMoney("0.166")), "taf %s", fees.TAF)
	assert.True(t, fees.ORF.IsZero())
}

func TestFeeScheduleMinimumsAndCaps(t *testing.T) {
	s := DefaultFeeSchedule()

	small := s.Compute(domain.Equity("AAPL"), domain.Buy, domain.MustQuantity("10"), domain.MustMoney("100"))
	assert.True(t, small.Commission.Equal(domain.MustMoney("1")), "minimum applies, got %s", small.Commission)
	assert.True(t, small.SEC.IsZero(), "SEC fee only on sells")

	huge := s.Compute(domain.Equity("AAPL"), domain.Sell, domain.MustQuantity("100000"), domain.MustMoney("100"))
	assert.True(t, huge.TAF.Equal(domain.MustMoney("8.30")), "TAF cap, got %s", huge.TAF)
}

func TestFeeScheduleOptions(t *testing.T) {
	opt, err := domain.ParseInstrument("AAPL240315C00172500")
	require.NoError(t, err)

	fees := DefaultFeeSchedule().Compute(opt, domain.Sell, domain.MustQuantity("10"), domain.MustMoney("3.50"))
	assert.True(t, fees.Commission.Equal(domain.MustMoney("6.5")), "commission %s", fees.Commission)
	assert.True(t, fees.ORF.Equal(domain.MustMoney("0.2685")), "orf %s", fees.ORF)
	assert.False(t, fees.TAF.IsZero())
	assert.True(t, fees.SEC.IsZero(), "SEC is equity-only")
}

func TestMarketOrderFillsAtOpen(t *testing.T) {
	e := NewEngine(EngineConfig{Fees: DefaultFeeSchedule()})
	o := pendingOrder(t, domain.Market, domain.Buy, "100", "", "")

	res := e.TryFill(o, bar("AAPL", "100", "101", "99", "100.5", "100000", barTime))
	require.True(t, res.Filled)
	assert.True(t, res.Price.Equal(domain.MustMoney("100")))
	assert.True(t, res.Quantity.Equal(domain.MustQuantity("100")))
}

func TestLimitRequiresVerifyTicks(t *testing.T) {
	e := NewEngine(EngineConfig{
		Fees:        DefaultFeeSchedule(),
		VerifyTicks: 2,
		TickSize:    domain.MustMoney("0.01"),
	})
	o := pendingOrder(t, domain.Limit, domain.Buy, "100", "99.50", "")

	// Bar low touches the limit exactly: not enough confirmation.
	res := e.TryFill(o, bar("AAPL", "100", "101", "99.50", "100.5", "100000", barTime))
	assert.False(t, res.Filled)

	// Bar trades two ticks through: fill at the limit.
	res = e.TryFill(o, bar("AAPL", "100", "101", "99.48", "100.5", "100000", barTime))
	require.True(t, res.Filled)
	assert.True(t, res.Price.Equal(domain.MustMoney("99.50")))
}

func TestStopOrderTriggersOnExtreme(t *testing.T) {
	e := NewEngine(EngineConfig{Fees: DefaultFeeSchedule()})
	o := pendingOrder(t, domain.Stop, domain.Sell, "100", "", "95")

	res := e.TryFill(o, bar("AAPL", "100", "101", "96", "97", "100000", barTime))
	assert.False(t, res.Filled, "low 96 does not reach stop 95")

	res = e.TryFill(o, bar("AAPL", "100", "101", "94.5", "95", "100000", barTime))
	require.True(t, res.Filled)
	assert.True(t, res.Price.Equal(domain.MustMoney("95")))
}

func TestLiquidityPartialClipsToVolume(t *testing.T) {
	e := NewEngine(EngineConfig{
		Fees: DefaultFeeSchedule(),
		Partials: PartialFillConfig{
			LiquidityBased:           true,
			MaxOrderFractionOfVolume: decimal.RequireFromString("0.01"),
		},
	})
	o := pendingOrder(t, domain.Market, domain.Buy, "5000", "", "")

	res := e.TryFill(o, bar("AAPL", "100", "101", "99", "100.5", "100000", barTime))
	require.True(t, res.Filled)
	assert.True(t, res.Partial)
	assert.True(t, res.Quantity.Equal(domain.MustQuantity("1000")), "1%% of 100k volume, got %s", res.Quantity)
}

func TestProbabilisticPartialBounds(t *testing.T) {
	e := NewEngine(EngineConfig{
		Fees: DefaultFeeSchedule(),
		Partials: PartialFillConfig{
			Probabilistic: true,
			Probability:   1.0,
			MinFraction:   decimal.RequireFromString("0.3"),
			MaxFraction:   decimal.RequireFromString("0.7"),
		},
		Seed: 42,
	})

	for i := 0; i < 20; i++ {
		o := pendingOrder(t, domain.Market, domain.Buy, "1000", "", "")
		res := e.TryFill(o, bar("AAPL", "100", "101", "99", "100.5", "1000000", barTime))
		require.True(t, res.Filled)
		q := res.Quantity.Float64()
		assert.GreaterOrEqual(t, q, 300.0)
		assert.LessOrEqual(t, q, 700.0)
	}
}

func TestSlippageNeverCrossesLimit(t *testing.T) {
	e := NewEngine(EngineConfig{
		Fees:     DefaultFeeSchedule(),
		Slippage: FixedBps{EntryBps: decimal.NewFromInt(50), ExitBps: decimal.NewFromInt(50)},
	})
	o := pendingOrder(t, domain.Limit, domain.Buy, "100", "99.50", "")

	res := e.TryFill(o, bar("AAPL", "100", "101", "99.40", "100.5", "100000", barTime))
	require.True(t, res.Filled)
	assert.True(t, res.Price.Cmp(domain.MustMoney("99.50")) <= 0, "got %s", res.Price)
}

func TestReplayMergesByTimestamp(t *testing.T) {
	aapl := []domain.Bar{
		bar("AAPL", "1", "1", "1", "1", "1", barTime),
		bar("AAPL", "1", "1", "1", "1", "1", barTime.Add(2*time.Minute)),
	}
	msft := []domain.Bar{
		bar("MSFT", "1", "1", "1", "1", "1", barTime.Add(time.Minute)),
		bar("MSFT", "1", "1", "1", "1", "1", barTime.Add(3*time.Minute)),
	}

	r := NewReplay(aapl, msft)
	var order []string
	for {
		ev, ok := r.Next()
		if !ok {
			break
		}
		order = append(order, ev.Bar.Symbol)
	}
	assert.Equal(t, []string{"AAPL", "MSFT", "AAPL", "MSFT"}, order)

	p := r.Progress()
	assert.Equal(t, 4, p.EventsProcessed)
	assert.Equal(t, 4, p.TotalEvents)
}

func TestReplayTiesBreakByStreamOrder(t *testing.T) {
	aapl := []domain.Bar{bar("AAPL", "1", "1", "1", "1", "1", barTime)}
	msft := []domain.Bar{bar("MSFT", "1", "1", "1", "1", "1", barTime)}

	r := NewReplay(aapl, msft)
	first, _ := r.Next()
	second, _ := r.Next()
	assert.Equal(t, "AAPL", first.Bar.Symbol)
	assert.Equal(t, "MSFT", second.Bar.Symbol)
}

func TestReplayForwardFillAndReset(t *testing.T) {
	aapl := []domain.Bar{
		bar("AAPL", "1", "1", "1", "100", "1", barTime),
		bar("AAPL", "1", "1", "1", "101", "1", barTime.Add(time.Minute)),
	}
	r := NewReplay(aapl)

	_, ok := r.Latest("AAPL")
	assert.False(t, ok, "nothing seen yet")

	r.Next()
	latest, ok := r.Latest("AAPL")
	require.True(t, ok)
	assert.True(t, latest.Close.Equal(domain.MustMoney("100")))

	r.Next()
	latest, _ = r.Latest("AAPL")
	assert.True(t, latest.Close.Equal(domain.MustMoney("101")))

	r.Reset()
	_, ok = r.Latest("AAPL")
	assert.False(t, ok)
	ev, ok := r.Next()
	require.True(t, ok)
	assert.True(t, ev.Bar.Close.Equal(domain.MustMoney("100")), "replay restarts from the top")
}

func TestLookAheadViolation(t *testing.T) {
	c := NewLookAheadChecker(5 * time.Minute)

	assert.True(t, c.RecordAccess(barTime, barTime.Add(time.Hour), "bars"))
	assert.False(t, c.RecordAccess(barTime.Add(time.Second), barTime, "bars"), "future data flagged")

	require.Len(t, c.Violations(), 1)
	assert.False(t, c.Clean())
	assert.Equal(t, 2, c.Accesses())
}

func TestLookAheadProximityWarning(t *testing.T) {
	c := NewLookAheadChecker(5 * time.Minute)

	c.RecordAccess(barTime, barTime.Add(time.Minute), "bars")
	require.Len(t, c.Warnings(), 1)
	assert.Equal(t, time.Minute, c.Warnings()[0].Proximity)
	assert.True(t, c.Clean(), "warning is not a violation")

	c.RecordAccess(barTime, barTime.Add(time.Hour), "bars")
	assert.Len(t, c.Warnings(), 1, "distant access is not suspicious")
}
