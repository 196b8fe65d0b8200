// Package hub decouples the single upstream ingestion task from many
// downstream gRPC streams with per-topic bounded channels. Slow consumers
// lose their oldest events; the ingestion path never blocks.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ccheney/cream-sub002/internal/alpaca"
	"github.com/ccheney/cream-sub002/internal/metrics"
)

// Topic names one fan-out channel.
type Topic string

const (
	TopicStockQuotes  Topic = "stock_quotes"
	TopicStockTrades  Topic = "stock_trades"
	TopicStockBars    Topic = "stock_bars"
	TopicOptionQuotes Topic = "option_quotes"
	TopicOptionTrades Topic = "option_trades"
	TopicOrderUpdates Topic = "order_updates"
)

// Topics lists every topic in a stable order.
func Topics() []Topic {
	return []Topic{
		TopicStockQuotes, TopicStockTrades, TopicStockBars,
		TopicOptionQuotes, TopicOptionTrades, TopicOrderUpdates,
	}
}

// Subscription is one downstream receiver. Events arrive on C in insertion
// order unless the receiver lags, in which case the oldest unread events are
// dropped and counted on Dropped.
type Subscription struct {
	C chan alpaca.Event

	topic   Topic
	dropped uint64
	mu      sync.Mutex
}

// DroppedCount reports how many events this receiver has lost so far.
func (s *Subscription) DroppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Hub is the per-topic broadcaster.
type Hub struct {
	mu     sync.RWMutex
	topics map[Topic]*topicState

	metrics *metrics.Metrics
	log     zerolog.Logger
}

type topicState struct {
	capacity int
	subs     map[*Subscription]struct{}
}

// Capacities maps each topic to its bounded channel size.
type Capacities map[Topic]int

// New builds a hub with the configured per-topic capacities.
func New(caps Capacities, m *metrics.Metrics, log zerolog.Logger) *Hub {
	h := &Hub{
		topics:  make(map[Topic]*topicState),
		metrics: m,
		log:     log.With().Str("component", "hub").Logger(),
	}
	for _, t := range Topics() {
		cap := caps[t]
		if cap <= 0 {
			cap = 1024
		}
		h.topics[t] = &topicState{
			capacity: cap,
			subs:     make(map[*Subscription]struct{}),
		}
	}
	return h
}

// Subscribe registers a new receiver on the topic. The returned cancel
// function detaches it and closes its channel.
func (h *Hub) Subscribe(t Topic) (*Subscription, func()) {
	h.mu.Lock()
	ts := h.topics[t]
	sub := &Subscription{
		C:     make(chan alpaca.Event, ts.capacity),
		topic: t,
	}
	ts.subs[sub] = struct{}{}
	n := len(ts.subs)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveSubscribers.WithLabelValues(string(t)).Set(float64(n))
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(ts.subs, sub)
			n := len(ts.subs)
			h.mu.Unlock()
			close(sub.C)
			if h.metrics != nil {
				h.metrics.ActiveSubscribers.WithLabelValues(string(t)).Set(float64(n))
			}
		})
	}
	return sub, cancel
}

// Publish fans the event out to every receiver on the topic. Non-blocking:
// when a receiver's channel is full, its oldest buffered event is discarded
// to make room, and the loss is recorded as lag.
func (h *Hub) Publish(t Topic, ev alpaca.Event) {
	h.mu.RLock()
	ts, ok := h.topics[t]
	if !ok {
		h.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, 0, len(ts.subs))
	for s := range ts.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.C <- ev:
			continue
		default:
		}

		// Receiver is lagging: drop its oldest event, then retry once. A
		// concurrent drain can make the retry succeed without a drop.
		select {
		case <-s.C:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			if h.metrics != nil {
				h.metrics.BroadcastDropped.WithLabelValues(string(t)).Inc()
				h.metrics.SubscriberLag.WithLabelValues(string(t)).Set(float64(s.DroppedCount()))
			}
		default:
		}

		select {
		case s.C <- ev:
		default:
			// Still full after eviction (capacity 0 race); count the loss
			// of the new event instead.
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			if h.metrics != nil {
				h.metrics.BroadcastDropped.WithLabelValues(string(t)).Inc()
			}
		}
	}
}

// SubscriberCount reports the live receivers on a topic.
func (h *Hub) SubscriberCount(t Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[t].subs)
}

// TopicFor routes a normalized event to its topic; ok is false for control
// events that do not fan out.
func TopicFor(ev alpaca.Event) (Topic, bool) {
	switch ev.Kind {
	case alpaca.EventQuote:
		if ev.Feed == alpaca.FeedOptions {
			return TopicOptionQuotes, true
		}
		return TopicStockQuotes, true
	case alpaca.EventTrade:
		if ev.Feed == alpaca.FeedOptions {
			return TopicOptionTrades, true
		}
		return TopicStockTrades, true
	case alpaca.EventBar:
		return TopicStockBars, true
	case alpaca.EventOrderUpdate:
		return TopicOrderUpdates, true
	}
	return "", false
}
