package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccheney/cream-sub002/internal/domain"
)

func baseAccount() domain.Account {
	return domain.Account{
		Equity:      domain.MustMoney("100000"),
		BuyingPower: domain.MustMoney("200000"),
	}
}

func buyDecision() domain.Decision {
	return domain.Decision{
		Instrument: domain.Equity("AAPL"),
		Action:     domain.ActionBuy,
		Direction:  domain.Long,
		SizeUnit:   domain.SizeShares,
		SizeValue:  domain.MustQuantity("100"),
		EntryPrice: domain.MustMoney("100"),
		StopLoss:   domain.MustMoney("98"),
		TakeProfit: domain.MustMoney("106"),
		Confidence: 0.8,
		OrderType:  domain.Market,
	}
}

func plan(ds ...domain.Decision) domain.DecisionPlan {
	return domain.DecisionPlan{PlanID: "plan-1", Decisions: ds}
}

func TestCleanPlanPasses(t *testing.T) {
	e := NewEngine(DefaultLimits())
	res := e.Evaluate(plan(buyDecision()), baseAccount())
	assert.True(t, res.Passed, "violations: %+v", res.Violations)
	assert.Empty(t, res.Violations)
}

func TestPDTBlock(t *testing.T) {
	e := NewEngine(DefaultLimits())

	acct := domain.Account{
		Equity:        domain.MustMoney("20000"),
		DayTradeCount: 3,
		Positions: []domain.Position{{
			Instrument:  domain.Equity("AAPL"),
			Quantity:    domain.MustQuantity("10"),
			AvgCost:     domain.MustMoney("100"),
			Direction:   domain.Long,
			OpenedToday: true,
		}},
	}
	d := domain.Decision{
		Instrument: domain.Equity("AAPL"),
		Action:     domain.ActionSell,
		Direction:  domain.Long,
		SizeUnit:   domain.SizeShares,
		SizeValue:  domain.MustQuantity("10"),
		EntryPrice: domain.MustMoney("100"),
		Confidence: 0.9,
		OrderType:  domain.Market,
	}

	res := e.Evaluate(plan(d), acct)
	require.False(t, res.Passed)
	assert.Equal(t, CodePDTLimitExceeded, res.Violations[0].Code)
	assert.Equal(t, Critical, res.Violations[0].Severity)
}

func TestPDTWarningAtExactLimit(t *testing.T) {
	e := NewEngine(DefaultLimits())

	acct := domain.Account{
		Equity:        domain.MustMoney("20000"),
		DayTradeCount: 2,
		Positions: []domain.Position{{
			Instrument:  domain.Equity("AAPL"),
			Quantity:    domain.MustQuantity("10"),
			AvgCost:     domain.MustMoney("100"),
			OpenedToday: true,
		}},
	}
	d := domain.Decision{
		Instrument: domain.Equity("AAPL"),
		Action:     domain.ActionSell,
		SizeUnit:   domain.SizeShares,
		SizeValue:  domain.MustQuantity("10"),
		EntryPrice: domain.MustMoney("100"),
		Confidence: 0.9,
		OrderType:  domain.Market,
	}

	res := e.Evaluate(plan(d), acct)
	assert.True(t, res.Passed, "warnings never fail the plan")
	require.Len(t, res.Warnings(), 1)
	assert.Equal(t, CodePDTLimitWarning, res.Warnings()[0].Code)
}

func TestPDTIgnoredAboveThreshold(t *testing.T) {
	e := NewEngine(DefaultLimits())
	acct := baseAccount()
	acct.DayTradeCount = 10
	acct.Positions = []domain.Position{{
		Instrument: domain.Equity("AAPL"), Quantity: domain.MustQuantity("10"),
		AvgCost: domain.MustMoney("100"), OpenedToday: true,
	}}
	d := buyDecision()
	d.Action = domain.ActionSell
	d.StopLoss = domain.ZeroMoney
	d.TakeProfit = domain.ZeroMoney

	res := e.Evaluate(plan(d), acct)
	for _, v := range res.Violations {
		assert.NotEqual(t, CodePDTLimitExceeded, v.Code)
	}
}

func TestRiskRewardReject(t *testing.T) {
	e := NewEngine(DefaultLimits())
	d := buyDecision()
	d.EntryPrice = domain.MustMoney("100")
	d.StopLoss = domain.MustMoney("95")
	d.TakeProfit = domain.MustMoney("103")
	d.SizeValue = domain.MustQuantity("10")

	res := e.Evaluate(plan(d), baseAccount())
	require.False(t, res.Passed)

	found := false
	for _, v := range res.Violations {
		if v.Code == CodeInsufficientRiskReward {
			found = true
			assert.Equal(t, "0.6000", v.Observed)
		}
	}
	assert.True(t, found, "expected INSUFFICIENT_RISK_REWARD, got %+v", res.Violations)
}

func TestPerTradeRiskLimit(t *testing.T) {
	e := NewEngine(DefaultLimits())
	// 200 shares @ $100 with a $10 stop distance: $2000 risk on $50k equity = 4%.
	// The $20k notional also exceeds 25% of equity, and that instrument-limit
	// layer reports first.
	d := buyDecision()
	d.SizeValue = domain.MustQuantity("200")
	d.StopLoss = domain.MustMoney("90")
	d.TakeProfit = domain.MustMoney("120")
	acct := baseAccount()
	acct.Equity = domain.MustMoney("50000")

	res := e.Evaluate(plan(d), acct)
	require.False(t, res.Passed)
	found := false
	for _, v := range res.Violations {
		if v.Code == CodePerTradeRiskExceeded {
			found = true
			assert.Equal(t, "4.0000%", v.Observed)
		}
	}
	assert.True(t, found, "expected PER_TRADE_RISK_EXCEEDED, got %+v", res.Violations)
}

func TestInstrumentLimits(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxNotional = domain.MustMoney("5000")
	e := NewEngine(limits)

	res := e.Evaluate(plan(buyDecision()), baseAccount())
	require.False(t, res.Passed)
	assert.Equal(t, CodeNotionalLimitExceeded, res.Violations[0].Code)
	assert.Equal(t, "10000", res.Violations[0].Observed)
}

func TestViolationsAccumulate(t *testing.T) {
	e := NewEngine(DefaultLimits())
	d := buyDecision()
	d.Confidence = 1.5
	d.StopLoss = domain.ZeroMoney // entry without stop

	res := e.Evaluate(plan(d), baseAccount())
	require.False(t, res.Passed)
	codes := map[string]bool{}
	for _, v := range res.Violations {
		codes[v.Code] = true
	}
	assert.True(t, codes[CodeInvalidConfidence])
	assert.True(t, codes[CodeMissingStopLoss], "layers do not short-circuit")
}

func TestPortfolioGrossLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxGrossDollars = domain.MustMoney("15000")
	limits.MaxNotional = domain.MustMoney("100000")
	e := NewEngine(limits)

	d1 := buyDecision()
	d2 := buyDecision()
	d2.Instrument = domain.Equity("MSFT")

	res := e.Evaluate(plan(d1, d2), baseAccount())
	require.False(t, res.Passed)
	found := false
	for _, v := range res.Violations {
		if v.Code == CodeGrossExposureExceeded {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEvaluateEachIsolatesDecisions(t *testing.T) {
	e := NewEngine(DefaultLimits())
	good := buyDecision()
	bad := buyDecision()
	bad.Confidence = 2

	results := e.EvaluateEach(plan(good, bad), baseAccount())
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
}

func TestSizerUnits(t *testing.T) {
	equity := domain.MustMoney("100000")

	d := buyDecision()
	d.SizeUnit = domain.SizeDollars
	d.SizeValue = domain.MustQuantity("10050")
	sd, err := Size(d, equity)
	require.NoError(t, err)
	assert.True(t, sd.Units.Equal(domain.MustQuantity("100")), "dollars floor to whole shares, got %s", sd.Units)

	d.SizeUnit = domain.SizePctEquity
	d.SizeValue = domain.MustQuantity("10")
	sd, err = Size(d, equity)
	require.NoError(t, err)
	assert.True(t, sd.Units.Equal(domain.MustQuantity("100")), "10%% of 100k at $100, got %s", sd.Units)

	opt, err := domain.ParseInstrument("AAPL240315C00172500")
	require.NoError(t, err)
	d = buyDecision()
	d.Instrument = opt
	d.SizeUnit = domain.SizeContracts
	d.SizeValue = domain.MustQuantity("2")
	d.EntryPrice = domain.MustMoney("3.50")
	sd, err = Size(d, equity)
	require.NoError(t, err)
	assert.True(t, sd.Notional.Equal(domain.MustMoney("700")), "2 contracts x 100 x 3.50, got %s", sd.Notional)
}
