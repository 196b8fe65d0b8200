package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// FeeSchedule holds the commission and regulatory rates. Defaults carry the
// 2026 published rates; all are overridable for sensitivity runs.
type FeeSchedule struct {
	// Commissions
	EquityPerShare    decimal.Decimal
	EquityMinimum     decimal.Decimal
	OptionPerContract decimal.Decimal
	OptionMinimum     decimal.Decimal

	// SEC Section 31, per dollar of equity sell notional.
	SECFeeRate decimal.Decimal

	// FINRA Trading Activity Fee on sells, per unit with a per-trade cap.
	TAFEquityPerShare    decimal.Decimal
	TAFEquityCap         decimal.Decimal
	TAFOptionPerContract decimal.Decimal
	TAFOptionCap         decimal.Decimal

	// Options Regulatory Fee per contract, both sides.
	ORFPerContract decimal.Decimal
}

// DefaultFeeSchedule is the 2026 rate card.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		EquityPerShare:    decimal.RequireFromString("0.005"),
		EquityMinimum:     decimal.RequireFromString("1.00"),
		OptionPerContract: decimal.RequireFromString("0.65"),
		OptionMinimum:     decimal.RequireFromString("1.00"),

		SECFeeRate: decimal.RequireFromString("0.0000278"),

		TAFEquityPerShare:    decimal.RequireFromString("0.000166"),
		TAFEquityCap:         decimal.RequireFromString("8.30"),
		TAFOptionPerContract: decimal.RequireFromString("0.00279"),
		TAFOptionCap:         decimal.RequireFromString("8.30"),

		ORFPerContract: decimal.RequireFromString("0.02685"),
	}
}

// Fees is the itemized cost of one simulated fill. Commission and
// regulatory fees are separate from slippage by construction.
type Fees struct {
	Commission domain.Money
	SEC        domain.Money
	TAF        domain.Money
	ORF        domain.Money
}

// Total sums every component.
func (f Fees) Total() domain.Money {
	return f.Commission.Add(f.SEC).Add(f.TAF).Add(f.ORF)
}

// Compute itemizes commission and regulatory fees for a fill.
func (s FeeSchedule) Compute(inst domain.Instrument, side domain.Side, qty domain.Quantity, price domain.Money) Fees {
	var fees Fees

	if inst.IsOption() {
		comm := s.OptionPerContract.Mul(qty.Decimal())
		if comm.Cmp(s.OptionMinimum) < 0 {
			comm = s.OptionMinimum
		}
		fees.Commission = moneyFrom(comm)
		fees.ORF = moneyFrom(s.ORFPerContract.Mul(qty.Decimal()))

		if side == domain.Sell {
			taf := s.TAFOptionPerContract.Mul(qty.Decimal())
			if taf.Cmp(s.TAFOptionCap) > 0 {
				taf = s.TAFOptionCap
			}
			fees.TAF = moneyFrom(taf)
		}
		return fees
	}

	comm := s.EquityPerShare.Mul(qty.Decimal())
	if comm.Cmp(s.EquityMinimum) < 0 {
		comm = s.EquityMinimum
	}
	fees.Commission = moneyFrom(comm)

	if side == domain.Sell {
		notional := price.MulQty(qty)
		fees.SEC = moneyFrom(s.SECFeeRate.Mul(notional.Decimal()))

		taf := s.TAFEquityPerShare.Mul(qty.Decimal())
		if taf.Cmp(s.TAFEquityCap) > 0 {
			taf = s.TAFEquityCap
		}
		fees.TAF = moneyFrom(taf)
	}
	return fees
}

func moneyFrom(d decimal.Decimal) domain.Money {
	m, _ := domain.MoneyFromString(d.String())
	return m
}
