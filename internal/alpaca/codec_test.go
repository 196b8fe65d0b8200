package alpaca

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var wireTime = time.Date(2026, 3, 2, 14, 30, 0, 123456789, time.UTC)

func TestJSONCodecDecodesTaggedArray(t *testing.T) {
	c := &jsonCodec{feed: FeedStocks}

	frame, err := json.Marshal([]interface{}{
		quoteMessage{Type: tagQuote, Symbol: "AAPL", BidPrice: 150.01, BidSize: 3, AskPrice: 150.03, AskSize: 5, Timestamp: wireTime},
		tradeMessage{Type: tagTrade, Symbol: "AAPL", Price: 150.02, Size: 100, Exchange: "V", Timestamp: wireTime},
		barMessage{Type: tagBar, Symbol: "AAPL", Open: 150, High: 151, Low: 149, Close: 150.5, Volume: 10000, Timestamp: wireTime},
		statusMessage{Type: tagStatus, Symbol: "AAPL", StatusCode: "H", Timestamp: wireTime},
	})
	require.NoError(t, err)

	events, err := c.Decode(frame)
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, EventQuote, events[0].Kind)
	assert.Equal(t, "AAPL", events[0].Quote.Symbol)
	assert.Equal(t, 150.01, events[0].Quote.BidPrice.Float64())

	assert.Equal(t, EventTrade, events[1].Kind)
	assert.Equal(t, 100.0, events[1].Trade.Size.Float64())

	assert.Equal(t, EventBar, events[2].Kind)
	assert.Equal(t, 150.5, events[2].Bar.Close.Float64())

	assert.Equal(t, EventStatus, events[3].Kind)
	assert.Equal(t, "H", events[3].Status.StatusCode)
}

func TestJSONCodecRoundTrip(t *testing.T) {
	msgs := []interface{}{
		quoteMessage{Type: tagQuote, Symbol: "MSFT", BidExchange: "Q", BidPrice: 410.5, BidSize: 2, AskExchange: "N", AskPrice: 410.55, AskSize: 4, Timestamp: wireTime},
		tradeMessage{Type: tagTrade, Symbol: "MSFT", TradeID: 42, Exchange: "Q", Price: 410.52, Size: 10, Timestamp: wireTime},
		barMessage{Type: tagBar, Symbol: "MSFT", Open: 410, High: 411, Low: 409, Close: 410.5, Volume: 5000, VWAP: 410.3, Timestamp: wireTime},
		statusMessage{Type: tagStatus, Symbol: "MSFT", StatusCode: "T", StatusMsg: "Trading", Timestamp: wireTime},
		controlMessage{Type: tagSuccess, Msg: "authenticated"},
		controlMessage{Type: tagError, Code: 405, Msg: "symbol limit"},
		controlMessage{Type: tagSubscription, Quotes: []string{"MSFT"}},
	}

	for _, msg := range msgs {
		buf, err := json.Marshal(msg)
		require.NoError(t, err)

		decoded := mustAlloc(t, msg)
		require.NoError(t, json.Unmarshal(buf, decoded))
		assert.Equal(t, msg, deref(decoded), "round trip %T", msg)
	}
}

func TestJSONCodecDecodesTradeUpdate(t *testing.T) {
	c := &jsonCodec{feed: FeedTradeUpdates}

	frame := []byte(`{"stream":"trade_updates","data":{"event":"fill","timestamp":"2026-03-02T14:30:00Z","order":{"id":"bkr-9","client_order_id":"ord-9","symbol":"AAPL","status":"filled","filled_qty":"100","filled_avg_price":"150.60"}}}`)
	events, err := c.Decode(frame)
	require.NoError(t, err)
	require.Len(t, events, 1)

	up := events[0].OrderUpdate
	require.NotNil(t, up)
	assert.Equal(t, "fill", up.Event)
	assert.Equal(t, "ord-9", up.ClientOrderID)
	assert.Equal(t, "150.6", up.FillPrice.String())
}

func TestJSONCodecUnknownTagSurvives(t *testing.T) {
	c := &jsonCodec{feed: FeedStocks}
	frame := []byte(`[{"T":"zzz"},{"T":"t","S":"AAPL","p":1,"s":1,"t":"2026-03-02T14:30:00Z"}]`)

	events, err := c.Decode(frame)
	require.NoError(t, err, "one bad element must not fail the frame")
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, ErrUnknownMessageType)
	assert.Equal(t, EventTrade, events[1].Kind)
}

func TestJSONCodecEmptyArray(t *testing.T) {
	c := &jsonCodec{feed: FeedStocks}
	_, err := c.Decode([]byte(`[]`))
	assert.ErrorIs(t, err, ErrEmptyArray)
}

func TestMsgPackCodecShapes(t *testing.T) {
	c := &msgpackCodec{feed: FeedOptions}

	quotes, err := msgpack.Marshal([]optionQuoteMsg{{
		Type: tagQuote, Symbol: "AAPL240315C00172500",
		BidPrice: 3.1, BidSize: 12, AskPrice: 3.3, AskSize: 9, Timestamp: wireTime,
	}})
	require.NoError(t, err)
	events, err := c.Decode(quotes)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventQuote, events[0].Kind)
	assert.Equal(t, "AAPL240315C00172500", events[0].Quote.Symbol)

	trades, err := msgpack.Marshal([]optionTradeMsg{{
		Type: tagTrade, Symbol: "AAPL240315C00172500", Price: 3.2, Size: 2, Timestamp: wireTime,
	}})
	require.NoError(t, err)
	events, err = c.Decode(trades)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTrade, events[0].Kind)

	controls, err := msgpack.Marshal([]optionControlMsg{{Type: tagSuccess, Msg: "authenticated"}})
	require.NoError(t, err)
	events, err = c.Decode(controls)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAuthenticated, events[0].Kind)

	empty, err := msgpack.Marshal([]optionControlMsg{})
	require.NoError(t, err)
	_, err = c.Decode(empty)
	assert.ErrorIs(t, err, ErrEmptyArray)
}

func TestMsgPackRoundTrip(t *testing.T) {
	in := optionQuoteMsg{
		Type: tagQuote, Symbol: "SPY240621P00500000",
		BidExchange: "C", BidPrice: 1.05, BidSize: 30,
		AskExchange: "C", AskPrice: 1.1, AskSize: 25,
		Timestamp: wireTime,
	}
	buf, err := msgpack.Marshal(in)
	require.NoError(t, err)
	var out optionQuoteMsg
	require.NoError(t, msgpack.Unmarshal(buf, &out))
	assert.Equal(t, in.Symbol, out.Symbol)
	assert.Equal(t, in.BidPrice, out.BidPrice)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))

	tin := optionTradeMsg{Type: tagTrade, Symbol: "SPY240621P00500000", Exchange: "C", Price: 1.07, Size: 3, Timestamp: wireTime}
	buf, err = msgpack.Marshal(tin)
	require.NoError(t, err)
	var tout optionTradeMsg
	require.NoError(t, msgpack.Unmarshal(buf, &tout))
	assert.Equal(t, tin.Price, tout.Price)
	assert.True(t, tin.Timestamp.Equal(tout.Timestamp))
}

func TestMsgPackGarbageRejected(t *testing.T) {
	c := &msgpackCodec{feed: FeedOptions}
	_, err := c.Decode([]byte{0xc1, 0xff, 0x00})
	var de *MsgPackDecodeError
	assert.ErrorAs(t, err, &de)
}

// mustAlloc returns a pointer to a zero value of msg's concrete type.
func mustAlloc(t *testing.T, msg interface{}) interface{} {
	t.Helper()
	switch msg.(type) {
	case quoteMessage:
		return &quoteMessage{}
	case tradeMessage:
		return &tradeMessage{}
	case barMessage:
		return &barMessage{}
	case statusMessage:
		return &statusMessage{}
	case controlMessage:
		return &controlMessage{}
	}
	t.Fatalf("unexpected type %T", msg)
	return nil
}

func deref(p interface{}) interface{} {
	switch v := p.(type) {
	case *quoteMessage:
		return *v
	case *tradeMessage:
		return *v
	case *barMessage:
		return *v
	case *statusMessage:
		return *v
	case *controlMessage:
		return *v
	}
	return p
}
