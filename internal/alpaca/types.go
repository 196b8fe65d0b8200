// Package alpaca implements the upstream broker stream: wire codecs, the
// authenticated session state machine, heartbeats, reconnection, and
// subscription reconciliation.
package alpaca

import (
	"time"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// FeedKind names the upstream sockets the proxy maintains.
type FeedKind string

const (
	FeedStocks       FeedKind = "stocks"
	FeedOptions      FeedKind = "options"
	FeedTradeUpdates FeedKind = "trade_updates"
)

// StreamKind names the subscription channels within a feed.
type StreamKind string

const (
	StreamStockQuotes  StreamKind = "stock_quotes"
	StreamStockTrades  StreamKind = "stock_trades"
	StreamStockBars    StreamKind = "stock_bars"
	StreamOptionQuotes StreamKind = "option_quotes"
	StreamOptionTrades StreamKind = "option_trades"
	StreamOrderUpdates StreamKind = "order_updates"
)

// Message type tags on the stock JSON wire. Each element of an inbound array
// carries a one-character (or control-word) "T" field.
const (
	tagQuote        = "q"
	tagTrade        = "t"
	tagBar          = "b"
	tagStatus       = "s"
	tagSuccess      = "success"
	tagError        = "error"
	tagSubscription = "subscription"
	tagTradeUpdates = "trade_updates"
)

// quoteMessage is the wire shape of a stock quote.
type quoteMessage struct {
	Type        string    `json:"T"`
	Symbol      string    `json:"S"`
	BidExchange string    `json:"bx,omitempty"`
	BidPrice    float64   `json:"bp"`
	BidSize     float64   `json:"bs"`
	AskExchange string    `json:"ax,omitempty"`
	AskPrice    float64   `json:"ap"`
	AskSize     float64   `json:"as"`
	Timestamp   time.Time `json:"t"`
}

// tradeMessage is the wire shape of a stock trade.
type tradeMessage struct {
	Type      string    `json:"T"`
	Symbol    string    `json:"S"`
	TradeID   int64     `json:"i,omitempty"`
	Exchange  string    `json:"x,omitempty"`
	Price     float64   `json:"p"`
	Size      float64   `json:"s"`
	Timestamp time.Time `json:"t"`
}

// barMessage is the wire shape of an aggregate bar.
type barMessage struct {
	Type      string    `json:"T"`
	Symbol    string    `json:"S"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
	VWAP      float64   `json:"vw,omitempty"`
	Timestamp time.Time `json:"t"`
}

// statusMessage is a trading-status halt/resume notice.
type statusMessage struct {
	Type       string    `json:"T"`
	Symbol     string    `json:"S"`
	StatusCode string    `json:"sc,omitempty"`
	StatusMsg  string    `json:"sm,omitempty"`
	Timestamp  time.Time `json:"t"`
}

// controlMessage covers success / error / subscription acks.
type controlMessage struct {
	Type    string   `json:"T"`
	Msg     string   `json:"msg,omitempty"`
	Code    int      `json:"code,omitempty"`
	Trades  []string `json:"trades,omitempty"`
	Quotes  []string `json:"quotes,omitempty"`
	Bars    []string `json:"bars,omitempty"`
}

// tradeUpdateMessage is the trade-updates socket payload.
type tradeUpdateMessage struct {
	Stream string          `json:"stream"`
	Data   tradeUpdateData `json:"data"`
}

type tradeUpdateData struct {
	Event string          `json:"event"`
	Order tradeUpdateOrder `json:"order"`
	Qty   string          `json:"qty,omitempty"`
	Price string          `json:"price,omitempty"`
	At    time.Time       `json:"timestamp"`
}

type tradeUpdateOrder struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	FilledQty     string `json:"filled_qty"`
	FilledAvgPx   string `json:"filled_avg_price"`
}

// subscribeFrame is the outbound (un)subscribe request.
type subscribeFrame struct {
	Action      string   `json:"action"`
	Trades      []string `json:"trades,omitempty"`
	Quotes      []string `json:"quotes,omitempty"`
	Bars        []string `json:"bars,omitempty"`
	UpdatedBars []string `json:"updatedBars,omitempty"`
	DailyBars   []string `json:"dailyBars,omitempty"`
	Statuses    []string `json:"statuses,omitempty"`
}

// authFrame is the credential frame sent after the transport handshake.
type authFrame struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// EventKind tags normalized events emitted by a session.
type EventKind string

const (
	EventQuote        EventKind = "quote"
	EventTrade        EventKind = "trade"
	EventBar          EventKind = "bar"
	EventStatus       EventKind = "status"
	EventOrderUpdate  EventKind = "order_update"
	EventAuthenticated EventKind = "authenticated"
	EventSubscribed   EventKind = "subscribed"
	EventError        EventKind = "error"
	EventTimeout      EventKind = "timeout"
)

// Event is one normalized item off the wire. Exactly one payload field is
// set for data events; control events carry only Kind and Err/Message.
type Event struct {
	Kind        EventKind
	Feed        FeedKind
	Quote       *domain.Quote
	Trade       *domain.Trade
	Bar         *domain.Bar
	Status      *TradingStatus
	OrderUpdate *domain.OrderUpdate
	Message     string
	Err         error
}

// TradingStatus is a normalized halt/resume notice.
type TradingStatus struct {
	Symbol     string
	StatusCode string
	StatusMsg  string
	Timestamp  time.Time
}
