package rpc

import (
	"time"

	"github.com/ccheney/cream-sub002/internal/alpaca"
	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/engine"
	"github.com/ccheney/cream-sub002/internal/risk"
)

// ---- Stream proxy messages ----

// StreamRequest filters a server-streaming subscription. Empty arrays mean
// "all".
type StreamRequest struct {
	Symbols     []string `json:"symbols,omitempty"`
	Underlyings []string `json:"underlyings,omitempty"`
	OrderIDs    []string `json:"order_ids,omitempty"`
}

// QuoteMsg mirrors domain.Quote at the wire edge (floats are explicit and
// lossy here only).
type QuoteMsg struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	BidSize   float64   `json:"bid_size"`
	AskPrice  float64   `json:"ask_price"`
	AskSize   float64   `json:"ask_size"`
	Exchange  string    `json:"exchange,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type TradeMsg struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Exchange  string    `json:"exchange,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type BarMsg struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	VWAP      float64   `json:"vwap,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderUpdateMsg struct {
	Event         string    `json:"event"`
	ClientOrderID string    `json:"client_order_id"`
	BrokerOrderID string    `json:"broker_order_id"`
	Symbol        string    `json:"symbol"`
	FillQty       string    `json:"fill_qty"`
	FillPrice     string    `json:"fill_price"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// ConnectionStatusRequest has no fields.
type ConnectionStatusRequest struct{}

// FeedStatus is one upstream session's state.
type FeedStatus struct {
	Feed      string `json:"feed"`
	State     string `json:"state"`
	Reconnects uint64 `json:"reconnects"`
	EventsSeen uint64 `json:"events_seen"`
}

type ConnectionStatusResponse struct {
	Feeds []FeedStatus `json:"feeds"`
}

// ---- Execution engine messages ----

type DecisionMsg struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Direction  string  `json:"direction"`
	SizeUnit   string  `json:"size_unit"`
	SizeValue  string  `json:"size_value"`
	EntryPrice string  `json:"entry_price"`
	StopLoss   string  `json:"stop_loss,omitempty"`
	TakeProfit string  `json:"take_profit,omitempty"`
	Confidence float64 `json:"confidence"`
	Strategy   string  `json:"strategy,omitempty"`
	Urgency    float64 `json:"urgency,omitempty"`
	OrderType  string  `json:"order_type,omitempty"`
	LimitPrice string  `json:"limit_price,omitempty"`
}

type PlanMsg struct {
	PlanID    string        `json:"plan_id"`
	Rationale string        `json:"rationale,omitempty"`
	Decisions []DecisionMsg `json:"decisions"`
}

type SubmitOrdersRequest struct {
	Plan        PlanMsg `json:"plan"`
	Environment string  `json:"environment"`
}

type OutcomeMsg struct {
	ClientOrderID string `json:"client_order_id,omitempty"`
	Instrument    string `json:"instrument"`
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SubmitOrdersResponse struct {
	Result   risk.ConstraintResult `json:"result"`
	Outcomes []OutcomeMsg          `json:"outcomes"`
}

type CheckConstraintsRequest struct {
	Plan PlanMsg `json:"plan"`
}

type CheckConstraintsResponse struct {
	Result risk.ConstraintResult `json:"result"`
}

type SnapshotRequest struct {
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes,omitempty"`
}

type SnapshotResponse struct {
	Quotes map[string]QuoteMsg          `json:"quotes,omitempty"`
	Bars   map[string]map[string][]BarMsg `json:"bars,omitempty"` // symbol -> timeframe -> bars
}

type OptionChainRequest struct {
	Underlying string `json:"underlying"`
}

type OptionContractMsg struct {
	Symbol     string `json:"symbol"`
	Expiration string `json:"expiration"`
	Strike     string `json:"strike"`
	Type       string `json:"type"`
}

type OptionChainResponse struct {
	Underlying string              `json:"underlying"`
	Contracts  []OptionContractMsg `json:"contracts"`
}

type CancelOrdersRequest struct {
	ClientOrderIDs []string `json:"client_order_ids"`
	Reason         string   `json:"reason,omitempty"`
}

type CancelOutcomeMsg struct {
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

type CancelOrdersResponse struct {
	Outcomes []CancelOutcomeMsg `json:"outcomes"`
}

type OrderStateRequest struct {
	ClientOrderID string `json:"client_order_id"`
}

type OrderStateResponse struct {
	ClientOrderID string `json:"client_order_id"`
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	OrderQty      string `json:"order_qty"`
	CumQty        string `json:"cum_qty"`
	LeavesQty     string `json:"leaves_qty"`
	AvgPx         string `json:"avg_px"`
	CancelReason  string `json:"cancel_reason,omitempty"`
}

// ---- conversions ----

func quoteMsg(q domain.Quote) QuoteMsg {
	return QuoteMsg{
		Symbol:    q.Symbol,
		BidPrice:  q.BidPrice.Float64(),
		BidSize:   q.BidSize.Float64(),
		AskPrice:  q.AskPrice.Float64(),
		AskSize:   q.AskSize.Float64(),
		Exchange:  q.Exchange,
		Timestamp: q.Timestamp,
	}
}

func tradeMsg(t domain.Trade) TradeMsg {
	return TradeMsg{
		Symbol:    t.Symbol,
		Price:     t.Price.Float64(),
		Size:      t.Size.Float64(),
		Exchange:  t.Exchange,
		Timestamp: t.Timestamp,
	}
}

func barMsg(b domain.Bar) BarMsg {
	return BarMsg{
		Symbol:    b.Symbol,
		Open:      b.Open.Float64(),
		High:      b.High.Float64(),
		Low:       b.Low.Float64(),
		Close:     b.Close.Float64(),
		Volume:    b.Volume.Float64(),
		VWAP:      b.VWAP.Float64(),
		Timestamp: b.Timestamp,
	}
}

func orderUpdateMsg(u domain.OrderUpdate) OrderUpdateMsg {
	return OrderUpdateMsg{
		Event:         u.Event,
		ClientOrderID: u.ClientOrderID,
		BrokerOrderID: u.BrokerOrderID,
		Symbol:        u.Symbol,
		FillQty:       u.FillQty.String(),
		FillPrice:     u.FillPrice.String(),
		Status:        u.Status,
		Timestamp:     u.Timestamp,
	}
}

func orderStateResponse(o *domain.Order) OrderStateResponse {
	return OrderStateResponse{
		ClientOrderID: o.ClientOrderID,
		BrokerOrderID: o.BrokerOrderID,
		Symbol:        o.Instrument.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Status:        string(o.Status),
		OrderQty:      o.OrderQty.String(),
		CumQty:        o.CumQty.String(),
		LeavesQty:     o.LeavesQty.String(),
		AvgPx:         o.AvgPx.String(),
		CancelReason:  o.CancelReason,
	}
}

func outcomeMsg(o engine.SubmitOutcome) OutcomeMsg {
	msg := OutcomeMsg{
		ClientOrderID: o.ClientOrderID,
		Instrument:    o.Instrument,
		BrokerOrderID: o.BrokerOrderID,
		Status:        string(o.Status),
	}
	if o.Err != nil {
		msg.Error = o.Err.Error()
	}
	return msg
}

// decodePlan translates the wire plan into the domain, validating symbols
// and decimals.
func decodePlan(msg PlanMsg) (domain.DecisionPlan, error) {
	plan := domain.DecisionPlan{
		PlanID:    msg.PlanID,
		Rationale: msg.Rationale,
		CreatedAt: time.Now().UTC(),
	}
	for _, d := range msg.Decisions {
		inst, err := domain.ParseInstrument(d.Symbol)
		if err != nil {
			return domain.DecisionPlan{}, StatusError(CodeInvalidInstrument, "plan", err.Error(),
				map[string]string{"instrument_id": d.Symbol})
		}
		dec := domain.Decision{
			Instrument: inst,
			Action:     domain.DecisionAction(d.Action),
			Direction:  domain.Direction(d.Direction),
			SizeUnit:   domain.SizeUnit(d.SizeUnit),
			Confidence: d.Confidence,
			Strategy:   d.Strategy,
			Urgency:    d.Urgency,
			OrderType:  domain.OrderType(d.OrderType),
		}
		if dec.SizeValue, err = parseQty(d.SizeValue); err != nil {
			return domain.DecisionPlan{}, invalidField(d.Symbol, "size_value", err)
		}
		if dec.EntryPrice, err = parseMoney(d.EntryPrice); err != nil {
			return domain.DecisionPlan{}, invalidField(d.Symbol, "entry_price", err)
		}
		if dec.StopLoss, err = parseOptMoney(d.StopLoss); err != nil {
			return domain.DecisionPlan{}, invalidField(d.Symbol, "stop_loss", err)
		}
		if dec.TakeProfit, err = parseOptMoney(d.TakeProfit); err != nil {
			return domain.DecisionPlan{}, invalidField(d.Symbol, "take_profit", err)
		}
		if dec.LimitPrice, err = parseOptMoney(d.LimitPrice); err != nil {
			return domain.DecisionPlan{}, invalidField(d.Symbol, "limit_price", err)
		}
		plan.Decisions = append(plan.Decisions, dec)
	}
	return plan, nil
}

func invalidField(symbol, field string, err error) error {
	return StatusError(CodeInvalidRequest, "plan", err.Error(), map[string]string{
		"instrument_id": symbol,
		"field":         field,
	})
}

func parseMoney(s string) (domain.Money, error) {
	return domain.MoneyFromString(s)
}

func parseOptMoney(s string) (domain.Money, error) {
	if s == "" {
		return domain.ZeroMoney, nil
	}
	return domain.MoneyFromString(s)
}

func parseQty(s string) (domain.Quantity, error) {
	return domain.QuantityFromString(s)
}

// eventFilter matches stream events against a request's filters.
type eventFilter struct {
	symbols  map[string]bool
	under    map[string]bool
	orderIDs map[string]bool
}

func newEventFilter(req StreamRequest) eventFilter {
	return eventFilter{
		symbols:  toSet(req.Symbols),
		under:    toSet(req.Underlyings),
		orderIDs: toSet(req.OrderIDs),
	}
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil // nil means "all"
	}
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}

func (f eventFilter) matchSymbol(symbol string) bool {
	if f.symbols == nil && f.under == nil {
		return true
	}
	if f.symbols != nil && f.symbols[symbol] {
		return true
	}
	if f.under != nil {
		if inst, err := domain.ParseInstrument(symbol); err == nil && inst.IsOption() {
			return f.under[inst.Underlying]
		}
	}
	return false
}

func (f eventFilter) matchEvent(ev alpaca.Event) bool {
	switch ev.Kind {
	case alpaca.EventQuote:
		return f.matchSymbol(ev.Quote.Symbol)
	case alpaca.EventTrade:
		return f.matchSymbol(ev.Trade.Symbol)
	case alpaca.EventBar:
		return f.matchSymbol(ev.Bar.Symbol)
	case alpaca.EventOrderUpdate:
		if f.orderIDs == nil && f.symbols == nil {
			return true
		}
		if f.orderIDs != nil && (f.orderIDs[ev.OrderUpdate.ClientOrderID] || f.orderIDs[ev.OrderUpdate.BrokerOrderID]) {
			return true
		}
		return f.symbols != nil && f.symbols[ev.OrderUpdate.Symbol]
	}
	return false
}
