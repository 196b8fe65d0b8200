package domain

import "time"

// Quote is a normalized top-of-book update.
type Quote struct {
	Symbol    string
	BidPrice  Money
	BidSize   Quantity
	AskPrice  Money
	AskSize   Quantity
	Exchange  string
	Timestamp time.Time
}

// Mid returns (bid+ask)/2.
func (q Quote) Mid() Money {
	return q.BidPrice.Add(q.AskPrice).MulFrac(half)
}

// Spread returns ask − bid.
func (q Quote) Spread() Money {
	return q.AskPrice.Sub(q.BidPrice)
}

// Trade is a normalized last-sale print.
type Trade struct {
	Symbol    string
	Price     Money
	Size      Quantity
	Exchange  string
	Timestamp time.Time
}

// Bar is one OHLCV candle.
type Bar struct {
	Symbol    string
	Open      Money
	High      Money
	Low       Money
	Close     Money
	Volume    Quantity
	VWAP      Money
	Timestamp time.Time
}

// OrderUpdate is a normalized trade-updates event from the broker.
type OrderUpdate struct {
	Event         string
	ClientOrderID string
	BrokerOrderID string
	Symbol        string
	FillQty       Quantity
	FillPrice     Money
	Status        string
	Timestamp     time.Time
}
