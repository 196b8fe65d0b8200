package hub

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccheney/cream-sub002/internal/alpaca"
	"github.com/ccheney/cream-sub002/internal/domain"
)

func quoteEvent(sym string) alpaca.Event {
	return alpaca.Event{
		Kind:  alpaca.EventQuote,
		Feed:  alpaca.FeedStocks,
		Quote: &domain.Quote{Symbol: sym},
	}
}

func newTestHub(capacity int) *Hub {
	caps := Capacities{}
	for _, t := range Topics() {
		caps[t] = capacity
	}
	return New(caps, nil, zerolog.Nop())
}

func TestPublishPreservesInsertionOrder(t *testing.T) {
	h := newTestHub(16)
	sub, cancel := h.Subscribe(TopicStockQuotes)
	defer cancel()

	for i := 0; i < 5; i++ {
		h.Publish(TopicStockQuotes, quoteEvent(fmt.Sprintf("S%d", i)))
	}
	for i := 0; i < 5; i++ {
		ev := <-sub.C
		assert.Equal(t, fmt.Sprintf("S%d", i), ev.Quote.Symbol)
	}
}

func TestSlowConsumerDropsOldest(t *testing.T) {
	h := newTestHub(3)
	sub, cancel := h.Subscribe(TopicStockQuotes)
	defer cancel()

	for i := 0; i < 6; i++ {
		h.Publish(TopicStockQuotes, quoteEvent(fmt.Sprintf("S%d", i)))
	}

	// Capacity 3, six published: S0..S2 evicted, S3..S5 retained.
	assert.Equal(t, uint64(3), sub.DroppedCount())
	got := []string{(<-sub.C).Quote.Symbol, (<-sub.C).Quote.Symbol, (<-sub.C).Quote.Symbol}
	assert.Equal(t, []string{"S3", "S4", "S5"}, got)
}

func TestPublishNeverBlocks(t *testing.T) {
	h := newTestHub(1)
	_, cancel := h.Subscribe(TopicStockTrades)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.Publish(TopicStockTrades, quoteEvent("X"))
		}
	}()
	<-done // would deadlock if Publish blocked on the unread subscriber
}

func TestIndependentSubscribers(t *testing.T) {
	h := newTestHub(8)
	fast, cancelFast := h.Subscribe(TopicStockQuotes)
	defer cancelFast()
	slow, cancelSlow := h.Subscribe(TopicStockQuotes)
	defer cancelSlow()

	for i := 0; i < 8; i++ {
		h.Publish(TopicStockQuotes, quoteEvent(fmt.Sprintf("S%d", i)))
		<-fast.C // fast consumer keeps up
	}
	for i := 0; i < 8; i++ {
		h.Publish(TopicStockQuotes, quoteEvent(fmt.Sprintf("T%d", i)))
		<-fast.C
	}

	assert.Equal(t, uint64(8), slow.DroppedCount(), "slow consumer lost the first burst")
	assert.Equal(t, uint64(0), fast.DroppedCount())
}

func TestCancelClosesChannel(t *testing.T) {
	h := newTestHub(4)
	sub, cancel := h.Subscribe(TopicOrderUpdates)
	require.Equal(t, 1, h.SubscriberCount(TopicOrderUpdates))

	cancel()
	cancel() // idempotent
	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount(TopicOrderUpdates))
}

func TestTopicRouting(t *testing.T) {
	cases := []struct {
		ev    alpaca.Event
		topic Topic
		ok    bool
	}{
		{alpaca.Event{Kind: alpaca.EventQuote, Feed: alpaca.FeedStocks}, TopicStockQuotes, true},
		{alpaca.Event{Kind: alpaca.EventQuote, Feed: alpaca.FeedOptions}, TopicOptionQuotes, true},
		{alpaca.Event{Kind: alpaca.EventTrade, Feed: alpaca.FeedOptions}, TopicOptionTrades, true},
		{alpaca.Event{Kind: alpaca.EventBar, Feed: alpaca.FeedStocks}, TopicStockBars, true},
		{alpaca.Event{Kind: alpaca.EventOrderUpdate, Feed: alpaca.FeedTradeUpdates}, TopicOrderUpdates, true},
		{alpaca.Event{Kind: alpaca.EventAuthenticated}, "", false},
	}
	for _, tc := range cases {
		topic, ok := TopicFor(tc.ev)
		assert.Equal(t, tc.ok, ok)
		assert.Equal(t, tc.topic, topic)
	}
}
