package alpaca

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// optionQuoteMsg is the OPRA quote wire shape.
type optionQuoteMsg struct {
	Type        string    `msgpack:"T"`
	Symbol      string    `msgpack:"S"`
	BidExchange string    `msgpack:"bx"`
	BidPrice    float64   `msgpack:"bp"`
	BidSize     float64   `msgpack:"bs"`
	AskExchange string    `msgpack:"ax"`
	AskPrice    float64   `msgpack:"ap"`
	AskSize     float64   `msgpack:"as"`
	Timestamp   time.Time `msgpack:"t"`
}

// optionTradeMsg is the OPRA trade wire shape.
type optionTradeMsg struct {
	Type      string    `msgpack:"T"`
	Symbol    string    `msgpack:"S"`
	Exchange  string    `msgpack:"x"`
	Price     float64   `msgpack:"p"`
	Size      float64   `msgpack:"s"`
	Timestamp time.Time `msgpack:"t"`
}

// optionControlMsg covers success / error / subscription acks on the binary
// feed.
type optionControlMsg struct {
	Type string `msgpack:"T"`
	Msg  string `msgpack:"msg"`
	Code int    `msgpack:"code"`
}

// msgpackCodec decodes the high-volume options feed. The wire does not
// announce its shape up front, so candidate decodes are attempted in order
// of expected frequency: quotes, then trades, then controls, then the empty
// keep-alive array. Observed shapes are treated as the contract.
type msgpackCodec struct {
	feed FeedKind
}

// NewMsgPackCodec builds the binary codec for a feed.
func NewMsgPackCodec(feed FeedKind) Codec {
	return &msgpackCodec{feed: feed}
}

func (c *msgpackCodec) Decode(frame []byte) ([]Event, error) {
	var quotes []optionQuoteMsg
	if err := msgpack.Unmarshal(frame, &quotes); err == nil && allTagged(len(quotes), func(i int) string { return quotes[i].Type }, tagQuote) {
		events := make([]Event, len(quotes))
		for i, m := range quotes {
			q := domain.Quote{
				Symbol:    m.Symbol,
				BidPrice:  domain.MoneyFromFloat(m.BidPrice),
				BidSize:   domain.QuantityFromFloat(m.BidSize),
				AskPrice:  domain.MoneyFromFloat(m.AskPrice),
				AskSize:   domain.QuantityFromFloat(m.AskSize),
				Exchange:  m.BidExchange,
				Timestamp: m.Timestamp,
			}
			events[i] = Event{Kind: EventQuote, Feed: c.feed, Quote: &q}
		}
		return events, nil
	}

	var trades []optionTradeMsg
	if err := msgpack.Unmarshal(frame, &trades); err == nil && allTagged(len(trades), func(i int) string { return trades[i].Type }, tagTrade) {
		events := make([]Event, len(trades))
		for i, m := range trades {
			t := domain.Trade{
				Symbol:    m.Symbol,
				Price:     domain.MoneyFromFloat(m.Price),
				Size:      domain.QuantityFromFloat(m.Size),
				Exchange:  m.Exchange,
				Timestamp: m.Timestamp,
			}
			events[i] = Event{Kind: EventTrade, Feed: c.feed, Trade: &t}
		}
		return events, nil
	}

	var controls []optionControlMsg
	if err := msgpack.Unmarshal(frame, &controls); err == nil {
		if len(controls) == 0 {
			return nil, ErrEmptyArray
		}
		events := make([]Event, 0, len(controls))
		for _, m := range controls {
			events = append(events, controlToEvent(c.feed, m))
		}
		return events, nil
	}

	var probe interface{}
	if err := msgpack.Unmarshal(frame, &probe); err != nil {
		return nil, &MsgPackDecodeError{Err: err}
	}
	return nil, ErrInvalidFormat
}

func controlToEvent(feed FeedKind, m optionControlMsg) Event {
	switch m.Type {
	case tagSuccess:
		if m.Msg == "authenticated" {
			return Event{Kind: EventAuthenticated, Feed: feed, Message: m.Msg}
		}
		return Event{Kind: EventSubscribed, Feed: feed, Message: m.Msg}
	case tagError:
		ev := Event{Kind: EventError, Feed: feed, Message: m.Msg}
		if m.Code == 402 || m.Code == 406 {
			ev.Err = ErrAuthenticationFailed
		} else {
			ev.Err = &SubscriptionFailedError{Message: m.Msg}
		}
		return ev
	case tagSubscription:
		return Event{Kind: EventSubscribed, Feed: feed, Message: "subscription"}
	default:
		return Event{Kind: EventError, Feed: feed, Err: ErrUnknownMessageType, Message: m.Type}
	}
}

func allTagged(n int, tagAt func(int) string, want string) bool {
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		if tagAt(i) != want {
			return false
		}
	}
	return true
}

// EncodeAuth builds the credential frame for the binary feed.
func (c *msgpackCodec) EncodeAuth(key, secret string) ([]byte, error) {
	buf, err := msgpack.Marshal(authFrameMP{Action: "auth", Key: key, Secret: secret})
	if err != nil {
		return nil, &MsgPackEncodeError{Err: err}
	}
	return buf, nil
}

// EncodeSubscribe builds the outbound (un)subscribe frame for the binary feed.
func (c *msgpackCodec) EncodeSubscribe(action string, delta SubscriptionSet) ([]byte, error) {
	buf, err := msgpack.Marshal(subscribeFrameMP{
		Action: action,
		Trades: delta.Symbols(StreamOptionTrades),
		Quotes: delta.Symbols(StreamOptionQuotes),
	})
	if err != nil {
		return nil, &MsgPackEncodeError{Err: err}
	}
	return buf, nil
}

type authFrameMP struct {
	Action string `msgpack:"action"`
	Key    string `msgpack:"key"`
	Secret string `msgpack:"secret"`
}

type subscribeFrameMP struct {
	Action string   `msgpack:"action"`
	Trades []string `msgpack:"trades,omitempty"`
	Quotes []string `msgpack:"quotes,omitempty"`
}
