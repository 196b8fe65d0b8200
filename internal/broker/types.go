package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is the POST /v2/orders payload.
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	TimeInForce   string          `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	ClientOrderID string          `json:"client_order_id"`
	ExtendedHours bool            `json:"extended_hours,omitempty"`
}

// OrderResponse is the broker's order resource.
type OrderResponse struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	FilledAvgPx   *decimal.Decimal `json:"filled_avg_price"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	TimeInForce   string          `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price"`
	StopPrice     *decimal.Decimal `json:"stop_price"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// AccountResponse is GET /v2/account.
type AccountResponse struct {
	ID                string          `json:"id"`
	Equity            decimal.Decimal `json:"equity"`
	Cash              decimal.Decimal `json:"cash"`
	BuyingPower       decimal.Decimal `json:"buying_power"`
	DaytradeCount     int             `json:"daytrade_count"`
	PatternDayTrader  bool            `json:"pattern_day_trader"`
	TradingBlocked    bool            `json:"trading_blocked"`
	AccountBlocked    bool            `json:"account_blocked"`
}

// PositionResponse is one element of GET /v2/positions.
type PositionResponse struct {
	Symbol       string          `json:"symbol"`
	Qty          decimal.Decimal `json:"qty"`
	AvgEntryPx   decimal.Decimal `json:"avg_entry_price"`
	Side         string          `json:"side"`
	MarketValue  decimal.Decimal `json:"market_value"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// BarResponse is one candle from the data API.
type BarResponse struct {
	Timestamp time.Time       `json:"t"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    decimal.Decimal `json:"v"`
	VWAP      decimal.Decimal `json:"vw"`
}

type barsResponse struct {
	Bars          map[string][]BarResponse `json:"bars"`
	NextPageToken *string                  `json:"next_page_token"`
}

// QuoteResponse is the latest-quote payload per symbol.
type QuoteResponse struct {
	Timestamp time.Time       `json:"t"`
	BidPrice  decimal.Decimal `json:"bp"`
	BidSize   decimal.Decimal `json:"bs"`
	AskPrice  decimal.Decimal `json:"ap"`
	AskSize   decimal.Decimal `json:"as"`
}

type quotesResponse struct {
	Quotes map[string]QuoteResponse `json:"quotes"`
}

// OptionContractResponse is one element of the option-contracts listing.
type OptionContractResponse struct {
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	ExpirationDate string          `json:"expiration_date"`
	StrikePrice    decimal.Decimal `json:"strike_price"`
	Type           string          `json:"type"`
	Underlying     string          `json:"underlying_symbol"`
}

type optionContractsResponse struct {
	OptionContracts []OptionContractResponse `json:"option_contracts"`
	NextPageToken   *string                  `json:"next_page_token"`
}

type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
