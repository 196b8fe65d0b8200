package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/risk"
)

// fakeBroker is an in-memory BrokerAdapter.
type fakeBroker struct {
	mu         sync.Mutex
	submitted  []broker.OrderRequest
	cancelled  []string
	submitErr  error
	cancelErr  error
	equity     string
	nextID     int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{equity: "100000"}
}

func (f *fakeBroker) SubmitOrder(_ context.Context, _ domain.Environment, req broker.OrderRequest) (*broker.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.nextID++
	f.submitted = append(f.submitted, req)
	return &broker.OrderResponse{
		ID:            fmt.Sprintf("bkr-%d", f.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Qty:           req.Qty,
		Status:        "accepted",
	}, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBroker) GetOrder(context.Context, string) (*broker.OrderResponse, error) {
	return nil, broker.ErrOrderNotFound
}

func (f *fakeBroker) GetOpenOrders(context.Context) ([]broker.OrderResponse, error) {
	return nil, nil
}

func (f *fakeBroker) GetAccount(context.Context) (*broker.AccountResponse, error) {
	return &broker.AccountResponse{
		Equity:      decimal.RequireFromString(f.equity),
		Cash:        decimal.RequireFromString(f.equity),
		BuyingPower: decimal.RequireFromString(f.equity),
	}, nil
}

func (f *fakeBroker) GetPositions(context.Context) ([]broker.PositionResponse, error) {
	return nil, nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (c *capturedEvents) Publish(evs []domain.OrderEvent) {
	c.mu.Lock()
	c.events = append(c.events, evs...)
	c.mu.Unlock()
}

func goodDecision() domain.Decision {
	return domain.Decision{
		Instrument: domain.Equity("AAPL"),
		Action:     domain.ActionBuy,
		Direction:  domain.Long,
		SizeUnit:   domain.SizeShares,
		SizeValue:  domain.MustQuantity("100"),
		EntryPrice: domain.MustMoney("100"),
		StopLoss:   domain.MustMoney("98"),
		TakeProfit: domain.MustMoney("106"),
		Confidence: 0.8,
		OrderType:  domain.Market,
	}
}

func newEngine(fb *fakeBroker, pub EventPublisher) *Engine {
	return New(NewMemoryRepository(), fb, risk.NewEngine(risk.DefaultLimits()),
		pub, nil, domain.Paper, zerolog.Nop())
}

func TestSubmitPlanHappyPath(t *testing.T) {
	fb := newFakeBroker()
	pub := &capturedEvents{}
	e := newEngine(fb, pub)

	res, outcomes, err := e.SubmitPlan(context.Background(),
		domain.DecisionPlan{PlanID: "p1", Decisions: []domain.Decision{goodDecision()}})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StatusAccepted, outcomes[0].Status)
	assert.NotEmpty(t, outcomes[0].BrokerOrderID)

	// Aggregate persisted and accepted.
	o, err := e.OrderState(outcomes[0].ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, o.Status)
	assert.Equal(t, outcomes[0].BrokerOrderID, o.BrokerOrderID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "order.accepted", pub.events[0].EventName())
}

func TestSubmitPlanBlockedByRisk(t *testing.T) {
	fb := newFakeBroker()
	e := newEngine(fb, nil)

	d := goodDecision()
	d.StopLoss = domain.ZeroMoney // entry without stop: critical violation

	res, outcomes, err := e.SubmitPlan(context.Background(),
		domain.DecisionPlan{PlanID: "p2", Decisions: []domain.Decision{d}})
	assert.ErrorIs(t, err, ErrPlanNotApproved)
	assert.False(t, res.Passed)
	assert.Empty(t, outcomes)
	assert.Empty(t, fb.submitted, "nothing reaches the broker")
}

func TestBrokerRejectionRecordsRejectedOrder(t *testing.T) {
	fb := newFakeBroker()
	fb.submitErr = broker.ErrOrderRejected
	e := newEngine(fb, nil)

	_, outcomes, err := e.SubmitPlan(context.Background(),
		domain.DecisionPlan{PlanID: "p3", Decisions: []domain.Decision{goodDecision()}})
	require.NoError(t, err, "plan level succeeds; the outcome carries the rejection")
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StatusRejected, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, broker.ErrOrderRejected)

	o, err := e.OrderState(outcomes[0].ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, o.Status)
}

func TestApplyOrderUpdateFillFlow(t *testing.T) {
	fb := newFakeBroker()
	pub := &capturedEvents{}
	e := newEngine(fb, pub)

	_, outcomes, err := e.SubmitPlan(context.Background(),
		domain.DecisionPlan{PlanID: "p4", Decisions: []domain.Decision{goodDecision()}})
	require.NoError(t, err)
	id := outcomes[0].ClientOrderID

	require.NoError(t, e.ApplyOrderUpdate(domain.OrderUpdate{
		Event:         "partial_fill",
		ClientOrderID: id,
		BrokerOrderID: outcomes[0].BrokerOrderID,
		FillQty:       domain.MustQuantity("40"),
		FillPrice:     domain.MustMoney("150.00"),
		Timestamp:     time.Now(),
	}))
	require.NoError(t, e.ApplyOrderUpdate(domain.OrderUpdate{
		Event:         "fill",
		ClientOrderID: id,
		BrokerOrderID: outcomes[0].BrokerOrderID,
		FillQty:       domain.MustQuantity("100"),
		FillPrice:     domain.MustMoney("150.60"),
		Timestamp:     time.Now(),
	}))

	o, err := e.OrderState(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, o.Status)
	assert.True(t, o.CumQty.Equal(domain.MustQuantity("100")))
}

func TestApplyOrderUpdateIgnoresStaleCumQty(t *testing.T) {
	fb := newFakeBroker()
	e := newEngine(fb, nil)

	_, outcomes, err := e.SubmitPlan(context.Background(),
		domain.DecisionPlan{PlanID: "p5", Decisions: []domain.Decision{goodDecision()}})
	require.NoError(t, err)
	id := outcomes[0].ClientOrderID

	up := domain.OrderUpdate{
		Event: "partial_fill", ClientOrderID: id,
		FillQty: domain.MustQuantity("40"), FillPrice: domain.MustMoney("150"),
		Timestamp: time.Now(),
	}
	require.NoError(t, e.ApplyOrderUpdate(up))
	require.NoError(t, e.ApplyOrderUpdate(up), "replayed update is a no-op")

	o, _ := e.OrderState(id)
	assert.True(t, o.CumQty.Equal(domain.MustQuantity("40")), "no double counting")
}

func TestCancelOrdersOutcomes(t *testing.T) {
	fb := newFakeBroker()
	e := newEngine(fb, nil)

	_, outcomes, err := e.SubmitPlan(context.Background(),
		domain.DecisionPlan{PlanID: "p6", Decisions: []domain.Decision{goodDecision()}})
	require.NoError(t, err)
	id := outcomes[0].ClientOrderID

	res := e.CancelOrders(context.Background(), []string{id, "ghost"}, "operator request")
	require.Len(t, res, 2)
	assert.Equal(t, CancelAccepted, res[0].Status)
	assert.Equal(t, CancelNotFound, res[1].Status)

	// Second cancel reports already-terminal, not an error.
	res = e.CancelOrders(context.Background(), []string{id}, "again")
	assert.Equal(t, CancelAlreadyTerminal, res[0].Status)

	o, _ := e.OrderState(id)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Equal(t, "operator request", o.CancelReason)
}

func TestRepositorySerializesPerOrder(t *testing.T) {
	repo := NewMemoryRepository()
	o, err := domain.NewOrder(domain.CreateOrderCommand{
		ClientOrderID: "serial-1",
		Instrument:    domain.Equity("AAPL"),
		Side:          domain.Buy,
		Type:          domain.Market,
		Quantity:      domain.MustQuantity("100"),
		TimeInForce:   domain.Day,
		Purpose:       domain.PurposeExit,
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(o))
	require.Error(t, repo.Insert(o), "duplicate client id rejected")

	require.NoError(t, repo.WithOrder("serial-1", func(w *domain.Order) error {
		return w.Accept("bkr-1", time.Now())
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = repo.WithOrder("serial-1", func(w *domain.Order) error {
				return w.ApplyFill(domain.Fill{
					ID:       fmt.Sprintf("f-%d", n),
					Quantity: domain.MustQuantity("2"),
					Price:    domain.MustMoney("100"),
				}, time.Now())
			})
		}(i)
	}
	wg.Wait()

	got, err := repo.Get("serial-1")
	require.NoError(t, err)
	assert.True(t, got.CumQty.Equal(domain.MustQuantity("100")))
	assert.Equal(t, domain.StatusFilled, got.Status)
}

func TestRepositoryFailedMutationRollsBack(t *testing.T) {
	repo := NewMemoryRepository()
	o, _ := domain.NewOrder(domain.CreateOrderCommand{
		ClientOrderID: "rb-1",
		Instrument:    domain.Equity("AAPL"),
		Side:          domain.Buy,
		Type:          domain.Market,
		Quantity:      domain.MustQuantity("10"),
		TimeInForce:   domain.Day,
		Purpose:       domain.PurposeExit,
	}, time.Now())
	require.NoError(t, repo.Insert(o))

	err := repo.WithOrder("rb-1", func(w *domain.Order) error {
		_ = w.Accept("bkr", time.Now())
		return errors.New("boom")
	})
	require.Error(t, err)

	got, _ := repo.Get("rb-1")
	assert.Equal(t, domain.StatusNew, got.Status, "failed mutation left no trace")
}

func TestPartialFillPolicyTable(t *testing.T) {
	p := DefaultPartialFillPolicy()

	assert.Equal(t, 300*time.Second, p.Lookup(domain.PurposeEntry).Wait)
	assert.Equal(t, 60*time.Second, p.Lookup(domain.PurposeExit).Wait)
	assert.Equal(t, 10*time.Second, p.Lookup(domain.PurposeStopLoss).Wait)
	assert.Equal(t, 120*time.Second, p.Lookup(domain.PurposeTakeProfit).Wait)
	assert.Equal(t, AggressiveResubmit, p.Lookup(domain.PurposeStopLoss).Action)
}

func TestPartialTimeoutSweep(t *testing.T) {
	fb := newFakeBroker()
	e := newEngine(fb, nil)

	_, outcomes, err := e.SubmitPlan(context.Background(),
		domain.DecisionPlan{PlanID: "p7", Decisions: []domain.Decision{goodDecision()}})
	require.NoError(t, err)
	id := outcomes[0].ClientOrderID

	require.NoError(t, e.ApplyOrderUpdate(domain.OrderUpdate{
		Event: "partial_fill", ClientOrderID: id,
		FillQty: domain.MustQuantity("40"), FillPrice: domain.MustMoney("100"),
		Timestamp: time.Now(),
	}))

	// Pretend the entry timeout has long passed.
	e.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	e.SweepPartialTimeouts(context.Background())

	assert.NotEmpty(t, fb.cancelled, "timed-out partial cancels at the broker")
}

func TestMassCancelFiresAfterGrace(t *testing.T) {
	fb := newFakeBroker()
	e := newEngine(fb, nil)

	_, outcomes, err := e.SubmitPlan(context.Background(), domain.DecisionPlan{
		PlanID: "p8", Decisions: []domain.Decision{goodDecision()},
	})
	require.NoError(t, err)

	mc := NewMassCancel(MassCancelConfig{Grace: 30 * time.Second}, e, nil, zerolog.Nop())

	base := time.Now()
	mc.now = func() time.Time { return base }
	mc.Heartbeat()

	mc.now = func() time.Time { return base.Add(10 * time.Second) }
	mc.check(context.Background())
	assert.Empty(t, fb.cancelled, "within grace, nothing fires")

	mc.now = func() time.Time { return base.Add(time.Minute) }
	mc.check(context.Background())
	require.Len(t, fb.cancelled, 1)

	// Already fired: a second stale check does not re-fire.
	mc.check(context.Background())
	assert.Len(t, fb.cancelled, 1)

	o, _ := e.OrderState(outcomes[0].ClientOrderID)
	assert.Equal(t, domain.StatusCancelled, o.Status)
}

func TestMassCancelSkipsGTCAndExcluded(t *testing.T) {
	fb := newFakeBroker()
	e := newEngine(fb, nil)

	// One Day order, one GTC order, one excluded order.
	mkOrder := func(id string, tif domain.TimeInForce) {
		o, err := domain.NewOrder(domain.CreateOrderCommand{
			ClientOrderID: id,
			Instrument:    domain.Equity("AAPL"),
			Side:          domain.Buy,
			Type:          domain.Market,
			Quantity:      domain.MustQuantity("10"),
			TimeInForce:   tif,
			Purpose:       domain.PurposeExit,
		}, time.Now())
		require.NoError(t, err)
		require.NoError(t, e.repo.Insert(o))
		require.NoError(t, e.repo.WithOrder(id, func(w *domain.Order) error {
			return w.Accept("bkr-"+id, time.Now())
		}))
	}
	mkOrder("day-1", domain.Day)
	mkOrder("gtc-1", domain.GTC)
	mkOrder("keep-1", domain.Day)

	mc := NewMassCancel(MassCancelConfig{
		Grace:    time.Second,
		Excluded: map[string]bool{"keep-1": true},
	}, e, nil, zerolog.Nop())

	mc.Fire(context.Background())

	day, _ := e.OrderState("day-1")
	gtc, _ := e.OrderState("gtc-1")
	keep, _ := e.OrderState("keep-1")
	assert.Equal(t, domain.StatusCancelled, day.Status)
	assert.Equal(t, domain.StatusAccepted, gtc.Status, "GTC excluded by default")
	assert.Equal(t, domain.StatusAccepted, keep.Status, "exclusion list honored")
}
