package domain

import (
	"errors"
	"fmt"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderType string

const (
	Market    OrderType = "market"
	Limit     OrderType = "limit"
	Stop      OrderType = "stop"
	StopLimit OrderType = "stop_limit"
)

// RequiresLimitPrice reports whether the type carries a limit price.
func (t OrderType) RequiresLimitPrice() bool {
	return t == Limit || t == StopLimit
}

// RequiresStopPrice reports whether the type carries a stop trigger price.
func (t OrderType) RequiresStopPrice() bool {
	return t == Stop || t == StopLimit
}

type TimeInForce string

const (
	Day TimeInForce = "day"
	GTC TimeInForce = "gtc"
	IOC TimeInForce = "ioc"
	FOK TimeInForce = "fok"
)

// OrderPurpose tags why the order exists; the partial-fill timeout table and
// the tactic selector both key on it.
type OrderPurpose string

const (
	PurposeEntry      OrderPurpose = "entry"
	PurposeExit       OrderPurpose = "exit"
	PurposeScaleIn    OrderPurpose = "scale_in"
	PurposeScaleOut   OrderPurpose = "scale_out"
	PurposeStopLoss   OrderPurpose = "stop_loss"
	PurposeTakeProfit OrderPurpose = "take_profit"
	PurposeBracketLeg OrderPurpose = "bracket_leg"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Terminal statuses accept no further mutation.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Fill is one execution report. Fills are append-only and idempotent by ID.
type Fill struct {
	ID         string
	Quantity   Quantity
	Price      Money
	Timestamp  time.Time
	Venue      string
	Commission Money // optional; zero when the venue reports none
}

// OrderLeg is one leg of a multi-leg strategy order.
type OrderLeg struct {
	Instrument Instrument
	Side       Side
	Ratio      int64
}

// Aggregate error taxonomy.
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrDuplicateFill = errors.New("duplicate fill id")
)

// InvariantViolationError marks a broken aggregate invariant. These are
// programmer errors surfaced as Internal at the transport boundary.
type InvariantViolationError struct {
	Aggregate string
	Invariant string
	State     string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s (state: %s)", e.Aggregate, e.Invariant, e.State)
}

// IllegalTransitionError marks a state-machine violation.
type IllegalTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s", e.From, e.To)
}

// CreateOrderCommand carries everything needed to build a new order.
type CreateOrderCommand struct {
	ClientOrderID string
	Instrument    Instrument
	Side          Side
	Type          OrderType
	Quantity      Quantity
	LimitPrice    Money // required when Type.RequiresLimitPrice()
	StopPrice     Money // required when Type.RequiresStopPrice()
	TimeInForce   TimeInForce
	Purpose       OrderPurpose
	StopLoss      Money // required for entries
	Legs          []OrderLeg
	Environment   Environment
}

// Order is the aggregate root for a single broker order. All mutation goes
// through Accept/ApplyFill/Cancel/Reject/Expire; the FIX identity
// OrderQty == CumQty + LeavesQty is re-checked after every fill.
type Order struct {
	ClientOrderID string
	BrokerOrderID string
	Instrument    Instrument
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Purpose       OrderPurpose
	Environment   Environment

	OrderQty   Quantity
	CumQty     Quantity
	LeavesQty  Quantity
	AvgPx      Money
	LimitPrice Money
	StopPrice  Money
	StopLoss   Money

	Status       OrderStatus
	CancelReason string
	Legs         []OrderLeg

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt time.Time

	fills  map[string]Fill
	events []OrderEvent
}

// NewOrder validates the command and constructs an order in StatusNew.
func NewOrder(cmd CreateOrderCommand, now time.Time) (*Order, error) {
	if cmd.ClientOrderID == "" {
		return nil, fmt.Errorf("client order id is required")
	}
	if cmd.Instrument.Symbol == "" {
		return nil, fmt.Errorf("instrument is required")
	}
	if !cmd.Quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive, got %s", cmd.Quantity)
	}
	if cmd.Type.RequiresLimitPrice() && !cmd.LimitPrice.IsPositive() {
		return nil, fmt.Errorf("%s order requires a limit price", cmd.Type)
	}
	if cmd.Type.RequiresStopPrice() && !cmd.StopPrice.IsPositive() {
		return nil, fmt.Errorf("%s order requires a stop price", cmd.Type)
	}
	if cmd.Purpose == PurposeEntry && !cmd.StopLoss.IsPositive() {
		return nil, fmt.Errorf("entry order requires a non-zero stop-loss level")
	}
	if len(cmd.Legs) > 0 {
		if err := validateLegRatios(cmd.Legs); err != nil {
			return nil, err
		}
	}

	return &Order{
		ClientOrderID: cmd.ClientOrderID,
		Instrument:    cmd.Instrument,
		Side:          cmd.Side,
		Type:          cmd.Type,
		TimeInForce:   cmd.TimeInForce,
		Purpose:       cmd.Purpose,
		Environment:   cmd.Environment,
		OrderQty:      cmd.Quantity,
		LeavesQty:     cmd.Quantity,
		LimitPrice:    cmd.LimitPrice,
		StopPrice:     cmd.StopPrice,
		StopLoss:      cmd.StopLoss,
		Status:        StatusNew,
		Legs:          cmd.Legs,
		CreatedAt:     now,
		UpdatedAt:     now,
		fills:         make(map[string]Fill),
	}, nil
}

// validateLegRatios requires multi-leg ratios in lowest terms (GCD == 1).
func validateLegRatios(legs []OrderLeg) error {
	g := int64(0)
	for _, l := range legs {
		if l.Ratio <= 0 {
			return fmt.Errorf("leg ratio must be positive, got %d", l.Ratio)
		}
		g = gcd(g, l.Ratio)
	}
	if g != 1 {
		return fmt.Errorf("leg ratios must be in lowest terms, gcd is %d", g)
	}
	return nil
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Accept records the broker-assigned id and moves New → Accepted.
func (o *Order) Accept(brokerOrderID string, now time.Time) error {
	if o.Status != StatusNew {
		return &IllegalTransitionError{From: o.Status, To: StatusAccepted}
	}
	o.BrokerOrderID = brokerOrderID
	o.Status = StatusAccepted
	o.SubmittedAt = now
	o.UpdatedAt = now
	o.raise(OrderAccepted{eventBase: eventBase{At: now}, ClientOrderID: o.ClientOrderID, BrokerOrderID: brokerOrderID})
	return nil
}

// ApplyFill applies one execution report. Duplicate fill ids are rejected,
// over-fills are invariant violations, and FIX accounting is recomputed and
// re-checked on every call.
func (o *Order) ApplyFill(f Fill, now time.Time) error {
	if o.Status.Terminal() {
		return &IllegalTransitionError{From: o.Status, To: StatusPartiallyFilled}
	}
	if o.Status != StatusAccepted && o.Status != StatusPartiallyFilled {
		return &IllegalTransitionError{From: o.Status, To: StatusPartiallyFilled}
	}
	if f.ID == "" {
		return fmt.Errorf("fill id is required")
	}
	if _, seen := o.fills[f.ID]; seen {
		return fmt.Errorf("fill %s: %w", f.ID, ErrDuplicateFill)
	}
	if !f.Quantity.IsPositive() {
		return &InvariantViolationError{
			Aggregate: o.ClientOrderID,
			Invariant: "fill quantity must be positive",
			State:     string(o.Status),
		}
	}
	if f.Quantity.Cmp(o.LeavesQty) > 0 {
		return &InvariantViolationError{
			Aggregate: o.ClientOrderID,
			Invariant: fmt.Sprintf("fill qty %s exceeds leaves %s", f.Quantity, o.LeavesQty),
			State:     string(o.Status),
		}
	}

	o.fills[f.ID] = f
	o.CumQty = o.CumQty.Add(f.Quantity)
	o.LeavesQty = o.OrderQty.Sub(o.CumQty)
	o.AvgPx = o.computeAvgPx()
	o.UpdatedAt = now

	if err := o.checkAccounting(); err != nil {
		return err
	}

	o.raise(FillApplied{
		eventBase:     eventBase{At: now},
		ClientOrderID: o.ClientOrderID,
		Fill:          f,
		CumQty:        o.CumQty,
		LeavesQty:     o.LeavesQty,
		AvgPx:         o.AvgPx,
	})

	if o.LeavesQty.IsZero() {
		o.Status = StatusFilled
		o.raise(OrderFilled{eventBase: eventBase{At: now}, ClientOrderID: o.ClientOrderID, AvgPx: o.AvgPx})
	} else {
		o.Status = StatusPartiallyFilled
	}
	return nil
}

func (o *Order) computeAvgPx() Money {
	prices := make([]Money, 0, len(o.fills))
	qtys := make([]Quantity, 0, len(o.fills))
	for _, f := range o.fills {
		prices = append(prices, f.Price)
		qtys = append(qtys, f.Quantity)
	}
	return VWAP(prices, qtys)
}

// checkAccounting verifies OrderQty == CumQty + LeavesQty.
func (o *Order) checkAccounting() error {
	if !o.OrderQty.Equal(o.CumQty.Add(o.LeavesQty)) {
		return &InvariantViolationError{
			Aggregate: o.ClientOrderID,
			Invariant: fmt.Sprintf("order_qty %s != cum %s + leaves %s", o.OrderQty, o.CumQty, o.LeavesQty),
			State:     string(o.Status),
		}
	}
	return nil
}

// RequestCancel records that a cancel is in flight at the broker.
func (o *Order) RequestCancel(reason string, now time.Time) error {
	if o.Status.Terminal() {
		return &IllegalTransitionError{From: o.Status, To: StatusCancelled}
	}
	o.UpdatedAt = now
	o.raise(CancelRequested{eventBase: eventBase{At: now}, ClientOrderID: o.ClientOrderID, Reason: reason})
	return nil
}

// Cancel moves any non-terminal status to Cancelled.
func (o *Order) Cancel(reason string, now time.Time) error {
	if o.Status.Terminal() {
		return &IllegalTransitionError{From: o.Status, To: StatusCancelled}
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = now
	o.raise(OrderCancelled{eventBase: eventBase{At: now}, ClientOrderID: o.ClientOrderID, Reason: reason})
	return nil
}

// Reject is only legal from New; a broker rejection after acceptance is a
// cancel with reason.
func (o *Order) Reject(reason string, now time.Time) error {
	if o.Status != StatusNew {
		return &IllegalTransitionError{From: o.Status, To: StatusRejected}
	}
	o.Status = StatusRejected
	o.CancelReason = reason
	o.UpdatedAt = now
	o.raise(OrderRejected{eventBase: eventBase{At: now}, ClientOrderID: o.ClientOrderID, Reason: reason})
	return nil
}

// Expire marks a Day/IOC/FOK order whose time-in-force lapsed.
func (o *Order) Expire(now time.Time) error {
	if o.Status.Terminal() {
		return &IllegalTransitionError{From: o.Status, To: StatusExpired}
	}
	o.Status = StatusExpired
	o.UpdatedAt = now
	o.raise(OrderExpired{eventBase: eventBase{At: now}, ClientOrderID: o.ClientOrderID})
	return nil
}

// DrainEvents returns and clears the uncommitted events.
func (o *Order) DrainEvents() []OrderEvent {
	evs := o.events
	o.events = nil
	return evs
}

// Fills returns the applied fills in no particular order.
func (o *Order) Fills() []Fill {
	out := make([]Fill, 0, len(o.fills))
	for _, f := range o.fills {
		out = append(out, f)
	}
	return out
}

// Clone returns a deep copy. The repository hands out clones so no two tasks
// ever share a mutable aggregate.
func (o *Order) Clone() *Order {
	cp := *o
	cp.fills = make(map[string]Fill, len(o.fills))
	for k, v := range o.fills {
		cp.fills[k] = v
	}
	cp.Legs = append([]OrderLeg(nil), o.Legs...)
	cp.events = append([]OrderEvent(nil), o.events...)
	return &cp
}

func (o *Order) raise(ev OrderEvent) {
	o.events = append(o.events, ev)
}
