package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// Limits configures every constraint layer.
type Limits struct {
	// Per-instrument
	MaxNotional  domain.Money
	MaxUnits     domain.Quantity
	MaxPctEquity decimal.Decimal // e.g. 25 means 25% of equity

	// Portfolio
	MaxGrossDollars domain.Money
	MaxNetDollars   domain.Money
	MaxGrossPctEq   decimal.Decimal
	MaxNetPctEq     decimal.Decimal

	// Per-trade risk
	MaxRiskPct decimal.Decimal // default 2

	// Risk-reward
	MinRiskReward decimal.Decimal // default 1.5

	// PDT
	PDTEnabled      bool
	PDTThreshold    domain.Money // default $25,000
	MaxDayTrades    int          // default 3
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxNotional:     domain.MustMoney("50000"),
		MaxUnits:        domain.MustQuantity("10000"),
		MaxPctEquity:    decimal.NewFromInt(25),
		MaxGrossDollars: domain.MustMoney("250000"),
		MaxNetDollars:   domain.MustMoney("150000"),
		MaxGrossPctEq:   decimal.NewFromInt(200),
		MaxNetPctEq:     decimal.NewFromInt(100),
		MaxRiskPct:      decimal.NewFromInt(2),
		MinRiskReward:   decimal.RequireFromString("1.5"),
		PDTEnabled:      true,
		PDTThreshold:    domain.MustMoney("25000"),
		MaxDayTrades:    3,
	}
}

// Engine runs the constraint layers in order, accumulating every violation.
// Layers never short-circuit; a plan with three problems reports all three.
type Engine struct {
	limits Limits
}

func NewEngine(limits Limits) *Engine {
	return &Engine{limits: limits}
}

// Evaluate checks the whole plan atomically: one Error-grade violation on
// any decision fails the plan.
func (e *Engine) Evaluate(plan domain.DecisionPlan, acct domain.Account) ConstraintResult {
	var result ConstraintResult

	sized := make([]SizedDecision, 0, len(plan.Decisions))
	for i, d := range plan.Decisions {
		e.checkDecision(&result, i, d)

		if d.Action == domain.ActionHold {
			continue
		}
		sd, err := Size(d, acct.Equity)
		if err != nil {
			result.add(Violation{
				Code:       CodeInvalidSize,
				Severity:   Error,
				Message:    err.Error(),
				Instrument: d.Instrument.Symbol,
				FieldPath:  fmt.Sprintf("decisions[%d].size", i),
			})
			continue
		}
		sized = append(sized, sd)

		e.checkInstrumentLimits(&result, i, sd, acct)
		e.checkTradeRisk(&result, i, sd, acct)
		e.checkRiskReward(&result, i, d)
	}

	e.checkPortfolioLimits(&result, sized, acct)
	e.checkPDT(&result, plan, acct)

	result.finalize()
	return result
}

// EvaluateEach runs the same layers but reports per-decision results for
// callers that opted out of plan atomicity.
func (e *Engine) EvaluateEach(plan domain.DecisionPlan, acct domain.Account) []ConstraintResult {
	out := make([]ConstraintResult, len(plan.Decisions))
	for i, d := range plan.Decisions {
		single := domain.DecisionPlan{
			PlanID:    plan.PlanID,
			CreatedAt: plan.CreatedAt,
			Decisions: []domain.Decision{d},
		}
		out[i] = e.Evaluate(single, acct)
	}
	return out
}
