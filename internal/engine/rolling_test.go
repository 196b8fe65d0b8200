package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
)

type positionsBroker struct {
	fakeBroker
	positions []broker.PositionResponse
}

func (p *positionsBroker) GetPositions(context.Context) ([]broker.PositionResponse, error) {
	return p.positions, nil
}

func TestRollingCandidatesWindow(t *testing.T) {
	now := time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)

	bk := &positionsBroker{positions: []broker.PositionResponse{
		// Expires 2024-03-15: four days out, inside the window.
		{Symbol: "AAPL240315C00172500", Qty: decimal.NewFromInt(2), Side: "long"},
		// Expires 2024-06-21: far out.
		{Symbol: "SPY240621P00500000", Qty: decimal.NewFromInt(-1), Side: "short"},
		// Equity positions never roll.
		{Symbol: "AAPL", Qty: decimal.NewFromInt(100), Side: "long"},
	}}

	rm := NewRollingManager(DefaultRollingPolicy(), bk, domain.Paper, zerolog.Nop())
	rm.now = func() time.Time { return now }

	candidates, err := rm.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "AAPL240315C00172500", candidates[0].Position.Instrument.Symbol)
	assert.Equal(t, 4, candidates[0].DaysToExpiry)
}

func TestRollingSweepClosesExpiring(t *testing.T) {
	now := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)

	bk := &positionsBroker{positions: []broker.PositionResponse{
		{Symbol: "AAPL240315C00172500", Qty: decimal.NewFromInt(2), Side: "long"},
	}}

	var rolled []RollCandidate
	rm := NewRollingManager(DefaultRollingPolicy(), bk, domain.Paper, zerolog.Nop())
	rm.now = func() time.Time { return now }
	rm.onRoll = func(c RollCandidate) { rolled = append(rolled, c) }

	require.NoError(t, rm.sweep(context.Background()))
	require.Len(t, rolled, 1)

	require.Len(t, bk.submitted, 1)
	assert.Equal(t, "sell", bk.submitted[0].Side, "long option closes with a sell")
	assert.Equal(t, "2", bk.submitted[0].Qty.String())
}

func TestRollingShortClosesWithBuy(t *testing.T) {
	now := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	bk := &positionsBroker{positions: []broker.PositionResponse{
		{Symbol: "AAPL240315P00170000", Qty: decimal.NewFromInt(-3), Side: "short"},
	}}

	rm := NewRollingManager(DefaultRollingPolicy(), bk, domain.Paper, zerolog.Nop())
	rm.now = func() time.Time { return now }

	require.NoError(t, rm.sweep(context.Background()))
	require.Len(t, bk.submitted, 1)
	assert.Equal(t, "buy", bk.submitted[0].Side)
	assert.Equal(t, "3", bk.submitted[0].Qty.String(), "absolute quantity")
}
