package domain

import "time"

// Environment selects the broker endpoints and the safety posture.
type Environment string

const (
	Paper    Environment = "paper"
	Live     Environment = "live"
	Backtest Environment = "backtest"
)

// DecisionAction is what a decision wants done with the instrument.
type DecisionAction string

const (
	ActionBuy   DecisionAction = "buy"
	ActionSell  DecisionAction = "sell"
	ActionClose DecisionAction = "close"
	ActionHold  DecisionAction = "hold"
)

// Direction is the position direction a decision targets.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// SizeUnit is how a decision expresses its size.
type SizeUnit string

const (
	SizeShares    SizeUnit = "shares"
	SizeContracts SizeUnit = "contracts"
	SizeDollars   SizeUnit = "dollars"
	SizePctEquity SizeUnit = "pct_equity"
)

// Decision is one intended trade within a plan.
type Decision struct {
	Instrument Instrument
	Action     DecisionAction
	Direction  Direction
	SizeUnit   SizeUnit
	SizeValue  Quantity // shares/contracts count, dollar amount, or percent depending on unit
	EntryPrice Money
	StopLoss   Money
	TakeProfit Money
	Confidence float64 // [0,1]
	Strategy   string
	Urgency    float64 // [0,1]; informs tactic selection
	OrderType  OrderType
	LimitPrice Money
}

// DecisionPlan is a batch of intended trades plus portfolio rationale,
// approved or rejected atomically by the risk engine.
type DecisionPlan struct {
	PlanID    string
	CreatedAt time.Time
	Rationale string
	Decisions []Decision
}

// Position is a broker-side holding.
type Position struct {
	Instrument  Instrument
	Quantity    Quantity // signed; negative is short
	AvgCost     Money
	Direction   Direction
	OpenedToday bool // feeds PDT counting
}

// Notional returns the signed dollar exposure at the given mark.
func (p Position) Notional(mark Money) Money {
	return mark.MulQty(p.Quantity).MulFrac(decimalFromInt(p.Instrument.ContractMultiplier()))
}

// Account is the broker account context the risk engine evaluates against.
type Account struct {
	Equity        Money
	BuyingPower   Money
	Cash          Money
	DayTradeCount int
	PatternDay    bool
	Positions     []Position
}

// PositionsOpenedToday returns the symbols with a today-opened flag, the set
// PDT counting runs against.
func (a Account) PositionsOpenedToday() map[string]bool {
	out := make(map[string]bool)
	for _, p := range a.Positions {
		if p.OpenedToday {
			out[p.Instrument.Symbol] = true
		}
	}
	return out
}
