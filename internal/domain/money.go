package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point dollar amount. Prices, notionals, and fees all use
// this type; binary floating point only appears at the network edge via
// Float64(), which is explicit and lossy.
type Money struct {
	d decimal.Decimal
}

// Quantity is a fixed-point share or contract count. Fractional quantities
// are valid (notional equity orders fill in fractional shares).
type Quantity struct {
	d decimal.Decimal
}

var (
	ZeroMoney    = Money{}
	ZeroQuantity = Quantity{}

	half = decimal.New(5, -1)
)

func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money value %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustMoney parses s or panics. Test and constant-table helper.
func MustMoney(s string) Money {
	m, err := MoneyFromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

func MoneyFromFloat(f float64) Money {
	return Money{d: decimal.NewFromFloat(f)}
}

func MoneyFromInt(n int64) Money {
	return Money{d: decimal.NewFromInt(n)}
}

func (m Money) Add(o Money) Money      { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money      { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money             { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money             { return Money{d: m.d.Abs()} }
func (m Money) MulQty(q Quantity) Money {
	return Money{d: m.d.Mul(q.d)}
}

// MulFrac scales by a dimensionless fraction such as a percentage of equity
// or a slippage factor.
func (m Money) MulFrac(f decimal.Decimal) Money {
	return Money{d: m.d.Mul(f)}
}

// DivBy divides by a non-zero money value, yielding a dimensionless ratio.
func (m Money) DivBy(o Money) decimal.Decimal {
	return m.d.Div(o.d)
}

func (m Money) Cmp(o Money) int       { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool    { return m.d.Equal(o.d) }
func (m Money) IsZero() bool          { return m.d.IsZero() }
func (m Money) IsPositive() bool      { return m.d.IsPositive() }
func (m Money) IsNegative() bool      { return m.d.IsNegative() }
func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) String() string        { return m.d.String() }

// Float64 is the explicit lossy conversion used when encoding wire payloads.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

func QuantityFromString(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return Quantity{d: d}, nil
}

func MustQuantity(s string) Quantity {
	q, err := QuantityFromString(s)
	if err != nil {
		panic(err)
	}
	return q
}

func QuantityFromInt(n int64) Quantity {
	return Quantity{d: decimal.NewFromInt(n)}
}

func QuantityFromFloat(f float64) Quantity {
	return Quantity{d: decimal.NewFromFloat(f)}
}

func (q Quantity) Add(o Quantity) Quantity { return Quantity{d: q.d.Add(o.d)} }
func (q Quantity) Sub(o Quantity) Quantity { return Quantity{d: q.d.Sub(o.d)} }
func (q Quantity) Neg() Quantity           { return Quantity{d: q.d.Neg()} }
func (q Quantity) Abs() Quantity           { return Quantity{d: q.d.Abs()} }
func (q Quantity) Min(o Quantity) Quantity {
	if q.d.Cmp(o.d) <= 0 {
		return q
	}
	return o
}

// MulFrac scales the quantity by a dimensionless fraction (partial-fill
// fractions, volume participation caps).
func (q Quantity) MulFrac(f decimal.Decimal) Quantity {
	return Quantity{d: q.d.Mul(f)}
}

// DivInt splits the quantity into n equal parts, truncated to a whole-share
// slice. The caller owns distributing the remainder.
func (q Quantity) DivInt(n int64) Quantity {
	return Quantity{d: q.d.Div(decimal.NewFromInt(n)).Floor()}
}

func (q Quantity) Cmp(o Quantity) int        { return q.d.Cmp(o.d) }
func (q Quantity) Equal(o Quantity) bool     { return q.d.Equal(o.d) }
func (q Quantity) IsZero() bool              { return q.d.IsZero() }
func (q Quantity) IsPositive() bool          { return q.d.IsPositive() }
func (q Quantity) IsNegative() bool          { return q.d.IsNegative() }
func (q Quantity) Decimal() decimal.Decimal  { return q.d }
func (q Quantity) String() string            { return q.d.String() }
func (q Quantity) IntPart() int64            { return q.d.IntPart() }

func (q Quantity) Float64() float64 {
	f, _ := q.d.Float64()
	return f
}

func decimalFromInt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// Notional is price × quantity.
func Notional(price Money, qty Quantity) Money {
	return price.MulQty(qty)
}

// VWAP returns the volume-weighted mean price of the (price, qty) pairs.
// Panics on empty input; callers guard on at least one fill.
func VWAP(prices []Money, qtys []Quantity) Money {
	if len(prices) == 0 || len(prices) != len(qtys) {
		panic("vwap: mismatched or empty inputs")
	}
	num := decimal.Zero
	den := decimal.Zero
	for i := range prices {
		num = num.Add(prices[i].d.Mul(qtys[i].d))
		den = den.Add(qtys[i].d)
	}
	return Money{d: num.Div(den)}
}
