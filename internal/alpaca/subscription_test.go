package alpaca

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffComputesDelta(t *testing.T) {
	actual := NewSubscriptionSet()
	actual.Add(StreamStockQuotes, "AAPL", "MSFT")

	desired := NewSubscriptionSet()
	desired.Add(StreamStockQuotes, "MSFT", "NVDA")
	desired.Add(StreamStockTrades, "MSFT")

	add, remove := actual.Diff(desired)
	assert.Equal(t, []string{"NVDA"}, add.Symbols(StreamStockQuotes))
	assert.Equal(t, []string{"MSFT"}, add.Symbols(StreamStockTrades))
	assert.Equal(t, []string{"AAPL"}, remove.Symbols(StreamStockQuotes))

	actual.Apply(add, remove)
	add2, remove2 := actual.Diff(desired)
	assert.True(t, add2.Empty(), "reconciliation converges")
	assert.True(t, remove2.Empty())
}

func TestReconcileIdempotent(t *testing.T) {
	actual := NewSubscriptionSet()
	desired := NewSubscriptionSet()
	desired.Add(StreamOptionQuotes, "AAPL240315C00172500")

	add, remove := actual.Diff(desired)
	actual.Apply(add, remove)

	// Same desired set again: zero additional frames.
	add, remove = actual.Diff(desired)
	assert.True(t, add.Empty())
	assert.True(t, remove.Empty())
}

func TestManagerRefCounting(t *testing.T) {
	var last SubscriptionSet
	m := NewSubscriptionManager(func(s SubscriptionSet) { last = s })

	rel1 := m.Acquire(StreamStockQuotes, []string{"AAPL", "MSFT"})
	rel2 := m.Acquire(StreamStockQuotes, []string{"MSFT"})

	require.NotNil(t, last)
	assert.Equal(t, []string{"AAPL", "MSFT"}, last.Symbols(StreamStockQuotes))

	// First subscriber leaves: MSFT still referenced by the second.
	rel1()
	assert.Equal(t, []string{"MSFT"}, last.Symbols(StreamStockQuotes))

	rel2()
	assert.True(t, last.Empty())

	// Release is idempotent.
	rel2()
	assert.True(t, m.Desired().Empty())
}

func TestManagerSeparatesKinds(t *testing.T) {
	m := NewSubscriptionManager(nil)
	m.Acquire(StreamStockQuotes, []string{"AAPL"})
	m.Acquire(StreamStockBars, []string{"AAPL"})

	d := m.Desired()
	assert.Equal(t, []string{"AAPL"}, d.Symbols(StreamStockQuotes))
	assert.Equal(t, []string{"AAPL"}, d.Symbols(StreamStockBars))
	assert.Nil(t, d.Symbols(StreamOptionTrades))
}
