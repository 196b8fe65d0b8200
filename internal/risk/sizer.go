package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// SizedDecision is a decision resolved to a concrete unit count and
// notional, ready for constraint evaluation and tactic scheduling.
type SizedDecision struct {
	Decision domain.Decision
	Units    domain.Quantity // shares or contracts
	Notional domain.Money
}

// Size resolves the decision's declared size unit into units and notional
// at the decision's entry price.
func Size(d domain.Decision, equity domain.Money) (SizedDecision, error) {
	if !d.SizeValue.IsPositive() {
		return SizedDecision{}, fmt.Errorf("size must be positive, got %s", d.SizeValue)
	}
	if !d.EntryPrice.IsPositive() {
		return SizedDecision{}, fmt.Errorf("entry price must be positive, got %s", d.EntryPrice)
	}

	mult := decimal.NewFromInt(d.Instrument.ContractMultiplier())
	perUnit := d.EntryPrice.MulFrac(mult)

	var units domain.Quantity
	switch d.SizeUnit {
	case domain.SizeShares, domain.SizeContracts:
		units = d.SizeValue
	case domain.SizeDollars:
		units = mustQuantity(d.SizeValue.Decimal().Div(perUnit.Decimal()).Floor())
	case domain.SizePctEquity:
		target := equity.Decimal().Mul(d.SizeValue.Decimal()).Div(decimal.NewFromInt(100))
		units = mustQuantity(target.Div(perUnit.Decimal()).Floor())
	default:
		return SizedDecision{}, fmt.Errorf("unknown size unit %q", d.SizeUnit)
	}

	if !units.IsPositive() {
		return SizedDecision{}, fmt.Errorf("resolved size is zero for %s", d.Instrument.Symbol)
	}

	return SizedDecision{
		Decision: d,
		Units:    units,
		Notional: perUnit.MulQty(units),
	}, nil
}

func mustQuantity(d decimal.Decimal) domain.Quantity {
	q, _ := domain.QuantityFromString(d.String())
	return q
}
