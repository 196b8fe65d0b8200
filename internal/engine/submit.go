package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/metrics"
	"github.com/ccheney/cream-sub002/internal/risk"
)

// Engine wires the submission-path use cases together.
type Engine struct {
	repo      OrderRepository
	broker    BrokerAdapter
	risk      *risk.Engine
	publisher EventPublisher
	metrics   *metrics.Metrics
	env       domain.Environment
	timeouts  PartialFillPolicy
	log       zerolog.Logger
	now       func() time.Time

	// Optional execution-quality collaborators.
	tactician  *Tactician
	snapshots  SnapshotProvider
	protection *Protection
}

// WithTactics attaches the tactic selector and its market-context source.
func (e *Engine) WithTactics(t *Tactician, sp SnapshotProvider) *Engine {
	e.tactician = t
	e.snapshots = sp
	return e
}

// WithProtection attaches the live stop/target enforcement.
func (e *Engine) WithProtection(p *Protection) *Engine {
	e.protection = p
	return e
}

// ErrPlanNotApproved is returned when constraints fail and submission was
// requested anyway.
var ErrPlanNotApproved = errors.New("plan not approved by risk constraints")

func New(repo OrderRepository, bk BrokerAdapter, rk *risk.Engine, pub EventPublisher, m *metrics.Metrics, env domain.Environment, log zerolog.Logger) *Engine {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Engine{
		repo:      repo,
		broker:    bk,
		risk:      rk,
		publisher: pub,
		metrics:   m,
		env:       env,
		timeouts:  DefaultPartialFillPolicy(),
		log:       log.With().Str("component", "engine").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CheckConstraints evaluates a plan without submitting anything.
func (e *Engine) CheckConstraints(ctx context.Context, plan domain.DecisionPlan) (risk.ConstraintResult, error) {
	acct, err := e.account(ctx)
	if err != nil {
		return risk.ConstraintResult{}, err
	}
	res := e.risk.Evaluate(plan, acct)
	if e.metrics != nil {
		for _, v := range res.Violations {
			e.metrics.PlanViolations.WithLabelValues(v.Code).Inc()
		}
	}
	return res, nil
}

// SubmitOutcome reports what happened to one decision.
type SubmitOutcome struct {
	ClientOrderID string
	Instrument    string
	BrokerOrderID string
	Status        domain.OrderStatus
	Err           error
}

// SubmitPlan validates the plan atomically, then creates, persists, and
// submits one order per actionable decision. The constraint result is
// returned alongside the outcomes; a failed plan submits nothing.
func (e *Engine) SubmitPlan(ctx context.Context, plan domain.DecisionPlan) (risk.ConstraintResult, []SubmitOutcome, error) {
	acct, err := e.account(ctx)
	if err != nil {
		return risk.ConstraintResult{}, nil, err
	}

	res := e.risk.Evaluate(plan, acct)
	if e.metrics != nil {
		for _, v := range res.Violations {
			e.metrics.PlanViolations.WithLabelValues(v.Code).Inc()
		}
	}
	if !res.Passed {
		return res, nil, ErrPlanNotApproved
	}

	outcomes := make([]SubmitOutcome, 0, len(plan.Decisions))
	for _, d := range plan.Decisions {
		if d.Action == domain.ActionHold {
			continue
		}
		outcomes = append(outcomes, e.submitDecision(ctx, d, acct))
	}
	return res, outcomes, nil
}

func (e *Engine) submitDecision(ctx context.Context, d domain.Decision, acct domain.Account) SubmitOutcome {
	sized, err := risk.Size(d, acct.Equity)
	if err != nil {
		return SubmitOutcome{Instrument: d.Instrument.Symbol, Err: err}
	}

	cmd := domain.CreateOrderCommand{
		ClientOrderID: uuid.NewString(),
		Instrument:    d.Instrument,
		Side:          sideFor(d),
		Type:          orderTypeFor(d),
		Quantity:      sized.Units,
		LimitPrice:    d.LimitPrice,
		TimeInForce:   domain.Day,
		Purpose:       purposeFor(d),
		StopLoss:      d.StopLoss,
		Environment:   e.env,
	}

	// With market context available, the tactician shapes the first child:
	// scheduler-chosen type, price, and slice size.
	if e.tactician != nil && e.snapshots != nil {
		if snap, ok := e.snapshots.Snapshot(d.Instrument.Symbol); ok {
			tactic, child, err := e.tactician.FirstChild(sized, cmd.Purpose, snap)
			if err == nil && child.Quantity.IsPositive() {
				cmd.Side = child.Side
				cmd.Type = child.Type
				cmd.Quantity = child.Quantity
				cmd.LimitPrice = child.LimitPrice
				cmd.TimeInForce = child.TimeInForce
				e.log.Debug().
					Str("symbol", d.Instrument.Symbol).
					Str("tactic", string(tactic)).
					Str("qty", child.Quantity.String()).
					Msg("tactic selected")
			}
		}
	}

	order, err := domain.NewOrder(cmd, e.now())
	if err != nil {
		return SubmitOutcome{Instrument: d.Instrument.Symbol, Err: err}
	}
	if err := e.repo.Insert(order); err != nil {
		return SubmitOutcome{Instrument: d.Instrument.Symbol, Err: err}
	}

	out := SubmitOutcome{
		ClientOrderID: order.ClientOrderID,
		Instrument:    d.Instrument.Symbol,
	}

	resp, err := e.broker.SubmitOrder(ctx, e.env, broker.OrderRequest{
		Symbol:        d.Instrument.Symbol,
		Qty:           cmd.Quantity.Decimal(),
		Side:          string(cmd.Side),
		Type:          string(cmd.Type),
		TimeInForce:   string(cmd.TimeInForce),
		LimitPrice:    optDecimal(cmd.LimitPrice),
		ClientOrderID: order.ClientOrderID,
	})

	mutateErr := e.repo.WithOrder(order.ClientOrderID, func(o *domain.Order) error {
		if err != nil {
			if rejErr := o.Reject(err.Error(), e.now()); rejErr != nil {
				return rejErr
			}
			e.publisher.Publish(o.DrainEvents())
			return nil
		}
		if accErr := o.Accept(resp.ID, e.now()); accErr != nil {
			return accErr
		}
		e.publisher.Publish(o.DrainEvents())
		return nil
	})

	if err != nil {
		if e.metrics != nil {
			e.metrics.OrdersRejected.Inc()
		}
		out.Err = err
		out.Status = domain.StatusRejected
		e.log.Error().Err(err).Str("symbol", d.Instrument.Symbol).Msg("broker rejected order")
		return out
	}
	if mutateErr != nil {
		out.Err = mutateErr
		return out
	}

	if e.metrics != nil {
		e.metrics.OrdersSubmitted.WithLabelValues(string(e.env)).Inc()
	}
	out.BrokerOrderID = resp.ID
	out.Status = domain.StatusAccepted
	return out
}

// ApplyOrderUpdate folds a trade-updates event into the aggregate.
func (e *Engine) ApplyOrderUpdate(up domain.OrderUpdate) error {
	return e.repo.WithOrder(up.ClientOrderID, func(o *domain.Order) error {
		defer func() { e.publisher.Publish(o.DrainEvents()) }()
		switch up.Event {
		case "fill", "partial_fill":
			fill := domain.Fill{
				ID:        fmt.Sprintf("%s-%d", up.BrokerOrderID, o.CumQty.IntPart()),
				Quantity:  up.FillQty.Sub(o.CumQty),
				Price:     up.FillPrice,
				Timestamp: up.Timestamp,
			}
			if !fill.Quantity.IsPositive() {
				return nil // duplicate or out-of-order update
			}
			if err := o.ApplyFill(fill, e.now()); err != nil {
				return err
			}
			if o.Status == domain.StatusFilled {
				if e.metrics != nil {
					e.metrics.OrdersFilled.Inc()
				}
				// A filled entry arms live stop enforcement at its declared
				// stop-loss level.
				if e.protection != nil && (o.Purpose == domain.PurposeEntry || o.Purpose == domain.PurposeScaleIn) {
					e.protection.Arm(o, domain.ZeroMoney)
				}
			}
			return nil
		case "canceled", "cancelled":
			if o.Status.Terminal() {
				return nil
			}
			if e.metrics != nil {
				e.metrics.OrdersCancelled.Inc()
			}
			return o.Cancel("broker cancel", e.now())
		case "expired":
			if o.Status.Terminal() {
				return nil
			}
			return o.Expire(e.now())
		case "rejected":
			if o.Status != domain.StatusNew {
				return o.Cancel("broker rejection", e.now())
			}
			return o.Reject("broker rejection", e.now())
		}
		return nil
	})
}

// OrderState returns an owned snapshot of one aggregate.
func (e *Engine) OrderState(clientOrderID string) (*domain.Order, error) {
	return e.repo.Get(clientOrderID)
}

// SweepPartialTimeouts walks partially-filled orders and applies the
// per-purpose timeout action. Runs from a background task.
func (e *Engine) SweepPartialTimeouts(ctx context.Context) {
	now := e.now()
	for _, o := range e.repo.List() {
		action, due := e.timeouts.Due(o, now)
		if !due {
			continue
		}
		log := e.log.With().Str("order", o.ClientOrderID).Str("action", string(action)).Logger()

		switch action {
		case KeepPartial:
			continue
		case CancelRemaining, ResubmitMarket, AggressiveResubmit:
			// All three cancel the resting remainder at the broker and record
			// the cancel request; no replacement order is submitted here.
			if err := e.broker.CancelOrder(ctx, o.BrokerOrderID); err != nil && !errors.Is(err, broker.ErrOrderNotFound) {
				log.Error().Err(err).Msg("partial-fill timeout cancel failed")
				continue
			}
			_ = e.repo.WithOrder(o.ClientOrderID, func(w *domain.Order) error {
				if w.Status.Terminal() {
					return nil
				}
				if err := w.RequestCancel(string(action), now); err != nil {
					return err
				}
				e.publisher.Publish(w.DrainEvents())
				return nil
			})
			log.Warn().Msg("partial-fill timeout action applied")
		}
	}
}

func (e *Engine) account(ctx context.Context) (domain.Account, error) {
	resp, err := e.broker.GetAccount(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("fetch account: %w", err)
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("fetch positions: %w", err)
	}

	acct := domain.Account{
		Equity:        moneyOf(resp.Equity.String()),
		Cash:          moneyOf(resp.Cash.String()),
		BuyingPower:   moneyOf(resp.BuyingPower.String()),
		DayTradeCount: resp.DaytradeCount,
		PatternDay:    resp.PatternDayTrader,
	}
	for _, p := range positions {
		inst, err := domain.ParseInstrument(p.Symbol)
		if err != nil {
			continue
		}
		dir := domain.Long
		if p.Side == "short" {
			dir = domain.Short
		}
		acct.Positions = append(acct.Positions, domain.Position{
			Instrument: inst,
			Quantity:   qtyOf(p.Qty.String()),
			AvgCost:    moneyOf(p.AvgEntryPx.String()),
			Direction:  dir,
		})
	}
	return acct, nil
}

func sideFor(d domain.Decision) domain.Side {
	switch d.Action {
	case domain.ActionSell, domain.ActionClose:
		if d.Direction == domain.Short && d.Action != domain.ActionClose {
			return domain.Sell
		}
		if d.Direction == domain.Short && d.Action == domain.ActionClose {
			return domain.Buy
		}
		return domain.Sell
	default:
		return domain.Buy
	}
}

func orderTypeFor(d domain.Decision) domain.OrderType {
	if d.OrderType != "" {
		return d.OrderType
	}
	if d.LimitPrice.IsPositive() {
		return domain.Limit
	}
	return domain.Market
}

func purposeFor(d domain.Decision) domain.OrderPurpose {
	switch d.Action {
	case domain.ActionBuy:
		return domain.PurposeEntry
	case domain.ActionClose:
		return domain.PurposeExit
	case domain.ActionSell:
		if d.Direction == domain.Short {
			return domain.PurposeEntry
		}
		return domain.PurposeExit
	}
	return domain.PurposeEntry
}

func optDecimal(m domain.Money) *decimal.Decimal {
	if !m.IsPositive() {
		return nil
	}
	d := m.Decimal()
	return &d
}

func moneyOf(s string) domain.Money {
	m, _ := domain.MoneyFromString(s)
	return m
}

func qtyOf(s string) domain.Quantity {
	q, _ := domain.QuantityFromString(s)
	return q
}
