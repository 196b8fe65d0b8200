package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// checkDecision is layer 1: per-decision validity.
func (e *Engine) checkDecision(r *ConstraintResult, idx int, d domain.Decision) {
	field := func(name string) string { return fmt.Sprintf("decisions[%d].%s", idx, name) }

	if d.Confidence < 0 || d.Confidence > 1 {
		r.add(Violation{
			Code:       CodeInvalidConfidence,
			Severity:   Error,
			Message:    "confidence must be within [0,1]",
			Instrument: d.Instrument.Symbol,
			FieldPath:  field("confidence"),
			Observed:   fmt.Sprintf("%g", d.Confidence),
			Limit:      "[0,1]",
		})
	}

	isEntry := d.Action == domain.ActionBuy ||
		(d.Action == domain.ActionSell && d.Direction == domain.Short)
	if isEntry && !d.StopLoss.IsPositive() {
		r.add(Violation{
			Code:       CodeMissingStopLoss,
			Severity:   Critical,
			Message:    "entry decisions require a non-zero stop-loss level",
			Instrument: d.Instrument.Symbol,
			FieldPath:  field("stop_loss"),
		})
	}

	if d.OrderType.RequiresLimitPrice() && !d.LimitPrice.IsPositive() {
		r.add(Violation{
			Code:       CodeMissingLimitPrice,
			Severity:   Error,
			Message:    fmt.Sprintf("%s orders require a limit price", d.OrderType),
			Instrument: d.Instrument.Symbol,
			FieldPath:  field("limit_price"),
		})
	}

	switch d.SizeUnit {
	case domain.SizeShares, domain.SizeContracts, domain.SizeDollars, domain.SizePctEquity:
	default:
		r.add(Violation{
			Code:       CodeInvalidSize,
			Severity:   Error,
			Message:    fmt.Sprintf("unknown size unit %q", d.SizeUnit),
			Instrument: d.Instrument.Symbol,
			FieldPath:  field("size_unit"),
		})
	}
	if d.Instrument.IsOption() && d.SizeUnit == domain.SizeShares {
		r.add(Violation{
			Code:       CodeInvalidSize,
			Severity:   Error,
			Message:    "option decisions size in contracts, not shares",
			Instrument: d.Instrument.Symbol,
			FieldPath:  field("size_unit"),
		})
	}
}

// checkInstrumentLimits is layer 2.
func (e *Engine) checkInstrumentLimits(r *ConstraintResult, idx int, sd SizedDecision, acct domain.Account) {
	sym := sd.Decision.Instrument.Symbol
	field := func(name string) string { return fmt.Sprintf("decisions[%d].%s", idx, name) }

	if sd.Notional.Cmp(e.limits.MaxNotional) > 0 {
		r.add(Violation{
			Code:       CodeNotionalLimitExceeded,
			Severity:   Error,
			Message:    "notional exceeds per-instrument limit",
			Instrument: sym,
			FieldPath:  field("size"),
			Observed:   sd.Notional.String(),
			Limit:      e.limits.MaxNotional.String(),
		})
	}
	if sd.Units.Cmp(e.limits.MaxUnits) > 0 {
		r.add(Violation{
			Code:       CodeUnitLimitExceeded,
			Severity:   Error,
			Message:    "unit count exceeds per-instrument limit",
			Instrument: sym,
			FieldPath:  field("size"),
			Observed:   sd.Units.String(),
			Limit:      e.limits.MaxUnits.String(),
		})
	}
	if acct.Equity.IsPositive() {
		maxNotional := acct.Equity.MulFrac(e.limits.MaxPctEquity.Div(hundred))
		if sd.Notional.Cmp(maxNotional) > 0 {
			r.add(Violation{
				Code:       CodeEquityPctExceeded,
				Severity:   Error,
				Message:    "notional exceeds max percent of equity",
				Instrument: sym,
				FieldPath:  field("size"),
				Observed:   sd.Notional.String(),
				Limit:      maxNotional.String(),
			})
		}
	}
}

// checkPortfolioLimits is layer 3: gross and net exposure of the whole plan
// plus existing positions.
func (e *Engine) checkPortfolioLimits(r *ConstraintResult, sized []SizedDecision, acct domain.Account) {
	gross := decimal.Zero
	net := decimal.Zero

	for _, p := range acct.Positions {
		signed := p.AvgCost.MulQty(p.Quantity).Decimal().
			Mul(decimal.NewFromInt(p.Instrument.ContractMultiplier()))
		gross = gross.Add(signed.Abs())
		net = net.Add(signed)
	}
	for _, sd := range sized {
		signed := sd.Notional.Decimal()
		if sd.Decision.Direction == domain.Short || sd.Decision.Action == domain.ActionSell {
			signed = signed.Neg()
		}
		gross = gross.Add(signed.Abs())
		net = net.Add(signed)
	}

	check := func(code string, observed decimal.Decimal, dollarCap domain.Money, pctCap decimal.Decimal) {
		if observed.Cmp(dollarCap.Decimal()) > 0 {
			r.add(Violation{
				Code:     code,
				Severity: Error,
				Message:  "portfolio exposure exceeds dollar limit",
				Observed: observed.String(),
				Limit:    dollarCap.String(),
			})
		}
		if acct.Equity.IsPositive() {
			cap := acct.Equity.Decimal().Mul(pctCap).Div(hundred)
			if observed.Cmp(cap) > 0 {
				r.add(Violation{
					Code:     code,
					Severity: Error,
					Message:  "portfolio exposure exceeds equity-relative limit",
					Observed: observed.String(),
					Limit:    cap.String(),
				})
			}
		}
	}

	check(CodeGrossExposureExceeded, gross, e.limits.MaxGrossDollars, e.limits.MaxGrossPctEq)
	check(CodeNetExposureExceeded, net.Abs(), e.limits.MaxNetDollars, e.limits.MaxNetPctEq)
}

// checkTradeRisk is layer 4: risk_amount = notional * |entry-stop| / entry,
// bounded as a percentage of equity.
func (e *Engine) checkTradeRisk(r *ConstraintResult, idx int, sd SizedDecision, acct domain.Account) {
	d := sd.Decision
	if !d.StopLoss.IsPositive() || !d.EntryPrice.IsPositive() || !acct.Equity.IsPositive() {
		return
	}

	stopDistance := d.EntryPrice.Sub(d.StopLoss).Abs()
	riskAmount := sd.Notional.Decimal().Mul(stopDistance.Decimal()).Div(d.EntryPrice.Decimal())
	riskPct := riskAmount.Div(acct.Equity.Decimal()).Mul(hundred)

	if riskPct.Cmp(e.limits.MaxRiskPct) > 0 {
		r.add(Violation{
			Code:       CodePerTradeRiskExceeded,
			Severity:   Error,
			Message:    "per-trade risk exceeds configured maximum",
			Instrument: d.Instrument.Symbol,
			FieldPath:  fmt.Sprintf("decisions[%d].stop_loss", idx),
			Observed:   riskPct.StringFixed(4) + "%",
			Limit:      e.limits.MaxRiskPct.String() + "%",
		})
	}
}

// checkRiskReward is layer 5: |take_profit - entry| / |entry - stop|.
func (e *Engine) checkRiskReward(r *ConstraintResult, idx int, d domain.Decision) {
	if !d.StopLoss.IsPositive() || !d.TakeProfit.IsPositive() || !d.EntryPrice.IsPositive() {
		return
	}
	risk := d.EntryPrice.Sub(d.StopLoss).Abs()
	if risk.IsZero() {
		return
	}
	reward := d.TakeProfit.Sub(d.EntryPrice).Abs()
	ratio := reward.Decimal().Div(risk.Decimal())

	if ratio.Cmp(e.limits.MinRiskReward) < 0 {
		r.add(Violation{
			Code:       CodeInsufficientRiskReward,
			Severity:   Error,
			Message:    "risk-reward ratio below configured minimum",
			Instrument: d.Instrument.Symbol,
			FieldPath:  fmt.Sprintf("decisions[%d].take_profit", idx),
			Observed:   ratio.StringFixed(4),
			Limit:      e.limits.MinRiskReward.String(),
		})
	}
}

// checkPDT is layer 6: FINRA Rule 4210 day-trade counting for accounts under
// the threshold. Proposed SELL/CLOSE actions against today-opened positions
// are prospective day trades.
func (e *Engine) checkPDT(r *ConstraintResult, plan domain.DecisionPlan, acct domain.Account) {
	if !e.limits.PDTEnabled {
		return
	}
	if acct.Equity.Cmp(e.limits.PDTThreshold) >= 0 {
		return
	}

	openedToday := acct.PositionsOpenedToday()
	proposed := 0
	var flagged []string
	for _, d := range plan.Decisions {
		if d.Action != domain.ActionSell && d.Action != domain.ActionClose {
			continue
		}
		if openedToday[d.Instrument.Symbol] {
			proposed++
			flagged = append(flagged, d.Instrument.Symbol)
		}
	}
	if proposed == 0 {
		return
	}

	used := acct.DayTradeCount
	total := used + proposed
	switch {
	case total > e.limits.MaxDayTrades:
		r.add(Violation{
			Code:     CodePDTLimitExceeded,
			Severity: Critical,
			Message:  fmt.Sprintf("plan would use %d day trades against %v; limit is %d", total, flagged, e.limits.MaxDayTrades),
			Observed: fmt.Sprintf("%d", total),
			Limit:    fmt.Sprintf("%d", e.limits.MaxDayTrades),
		})
	case total == e.limits.MaxDayTrades:
		r.add(Violation{
			Code:     CodePDTLimitWarning,
			Severity: Warning,
			Message:  "plan reaches the day-trade limit exactly",
			Observed: fmt.Sprintf("%d", total),
			Limit:    fmt.Sprintf("%d", e.limits.MaxDayTrades),
		})
	}
}
