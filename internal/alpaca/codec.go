package alpaca

import (
	"encoding/json"
	"fmt"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// jsonCodec decodes the stock feed's array-wrapped JSON frames. Every array
// element carries a "T" tag that selects its shape.
type jsonCodec struct {
	feed FeedKind
}

// NewJSONCodec builds the text codec for a feed.
func NewJSONCodec(feed FeedKind) Codec {
	return &jsonCodec{feed: feed}
}

// Decode translates one inbound frame into zero or more normalized events.
// A frame-level JSON failure returns a single error; an element-level
// failure yields an error event for that element and keeps going.
func (c *jsonCodec) Decode(frame []byte) ([]Event, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(frame, &raws); err != nil {
		// Trade-update frames are single objects, not arrays.
		if ev, tuErr := c.decodeTradeUpdate(frame); tuErr == nil {
			return []Event{ev}, nil
		}
		return nil, &JSONError{Err: err}
	}
	if len(raws) == 0 {
		return nil, ErrEmptyArray
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := c.decodeElement(raw)
		if err != nil {
			events = append(events, Event{Kind: EventError, Feed: c.feed, Err: err})
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *jsonCodec) decodeElement(raw json.RawMessage) (Event, error) {
	// encoding/json falls back to case-insensitive key matching, so the
	// lower-case "t" timestamp needs its own field or it lands in Type.
	var tag struct {
		Type string          `json:"T"`
		Time json.RawMessage `json:"t"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return Event{}, &JSONError{Err: err}
	}

	switch tag.Type {
	case tagQuote:
		var m quoteMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, &JSONError{Err: err}
		}
		q := quoteToDomain(m)
		return Event{Kind: EventQuote, Feed: c.feed, Quote: &q}, nil

	case tagTrade:
		var m tradeMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, &JSONError{Err: err}
		}
		t := tradeToDomain(m)
		return Event{Kind: EventTrade, Feed: c.feed, Trade: &t}, nil

	case tagBar:
		var m barMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, &JSONError{Err: err}
		}
		b := barToDomain(m)
		return Event{Kind: EventBar, Feed: c.feed, Bar: &b}, nil

	case tagStatus:
		var m statusMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, &JSONError{Err: err}
		}
		return Event{Kind: EventStatus, Feed: c.feed, Status: &TradingStatus{
			Symbol:     m.Symbol,
			StatusCode: m.StatusCode,
			StatusMsg:  m.StatusMsg,
			Timestamp:  m.Timestamp,
		}}, nil

	case tagSuccess:
		var m controlMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, &JSONError{Err: err}
		}
		if m.Msg == "authenticated" {
			return Event{Kind: EventAuthenticated, Feed: c.feed, Message: m.Msg}, nil
		}
		return Event{Kind: EventSubscribed, Feed: c.feed, Message: m.Msg}, nil

	case tagError:
		var m controlMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, &JSONError{Err: err}
		}
		ev := Event{Kind: EventError, Feed: c.feed, Message: m.Msg}
		switch m.Code {
		case 402, 406:
			ev.Err = ErrAuthenticationFailed
		default:
			ev.Err = fmt.Errorf("broker error %d: %s", m.Code, m.Msg)
		}
		return ev, nil

	case tagSubscription:
		var m controlMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, &JSONError{Err: err}
		}
		return Event{Kind: EventSubscribed, Feed: c.feed, Message: "subscription"}, nil

	case tagTradeUpdates:
		return c.decodeTradeUpdate(raw)

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, tag.Type)
	}
}

func (c *jsonCodec) decodeTradeUpdate(raw []byte) (Event, error) {
	var m tradeUpdateMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Event{}, &JSONError{Err: err}
	}
	if m.Stream != tagTradeUpdates {
		return Event{}, fmt.Errorf("%w: stream %q", ErrUnknownMessageType, m.Stream)
	}

	qty, _ := domain.QuantityFromString(orZero(m.Data.Order.FilledQty))
	px, _ := domain.MoneyFromString(orZero(m.Data.Order.FilledAvgPx))
	return Event{Kind: EventOrderUpdate, Feed: c.feed, OrderUpdate: &domain.OrderUpdate{
		Event:         m.Data.Event,
		ClientOrderID: m.Data.Order.ClientOrderID,
		BrokerOrderID: m.Data.Order.ID,
		Symbol:        m.Data.Order.Symbol,
		FillQty:       qty,
		FillPrice:     px,
		Status:        m.Data.Order.Status,
		Timestamp:     m.Data.At,
	}}, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// EncodeSubscribe builds the outbound (un)subscribe frame.
func (c *jsonCodec) EncodeSubscribe(action string, delta SubscriptionSet) ([]byte, error) {
	frame := subscribeFrame{
		Action: action,
		Trades: delta.Symbols(StreamStockTrades, StreamOptionTrades),
		Quotes: delta.Symbols(StreamStockQuotes, StreamOptionQuotes),
		Bars:   delta.Symbols(StreamStockBars),
	}
	buf, err := json.Marshal(frame)
	if err != nil {
		return nil, &JSONError{Err: err}
	}
	return buf, nil
}

// EncodeAuth builds the credential frame.
func (c *jsonCodec) EncodeAuth(key, secret string) ([]byte, error) {
	buf, err := json.Marshal(authFrame{Action: "auth", Key: key, Secret: secret})
	if err != nil {
		return nil, &JSONError{Err: err}
	}
	return buf, nil
}

func quoteToDomain(m quoteMessage) domain.Quote {
	return domain.Quote{
		Symbol:    m.Symbol,
		BidPrice:  domain.MoneyFromFloat(m.BidPrice),
		BidSize:   domain.QuantityFromFloat(m.BidSize),
		AskPrice:  domain.MoneyFromFloat(m.AskPrice),
		AskSize:   domain.QuantityFromFloat(m.AskSize),
		Exchange:  m.BidExchange,
		Timestamp: m.Timestamp,
	}
}

func tradeToDomain(m tradeMessage) domain.Trade {
	return domain.Trade{
		Symbol:    m.Symbol,
		Price:     domain.MoneyFromFloat(m.Price),
		Size:      domain.QuantityFromFloat(m.Size),
		Exchange:  m.Exchange,
		Timestamp: m.Timestamp,
	}
}

func barToDomain(m barMessage) domain.Bar {
	return domain.Bar{
		Symbol:    m.Symbol,
		Open:      domain.MoneyFromFloat(m.Open),
		High:      domain.MoneyFromFloat(m.High),
		Low:       domain.MoneyFromFloat(m.Low),
		Close:     domain.MoneyFromFloat(m.Close),
		Volume:    domain.QuantityFromFloat(m.Volume),
		VWAP:      domain.MoneyFromFloat(m.VWAP),
		Timestamp: m.Timestamp,
	}
}
