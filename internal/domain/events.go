package domain

import "time"

// OrderEvent is a domain event raised by the order aggregate. Events stay on
// the aggregate until the owning use case drains them.
type OrderEvent interface {
	EventName() string
	OccurredAt() time.Time
}

type eventBase struct {
	At time.Time
}

func (e eventBase) OccurredAt() time.Time { return e.At }

// OrderAccepted fires on New → Accepted when the broker assigns its id.
type OrderAccepted struct {
	eventBase
	ClientOrderID string
	BrokerOrderID string
}

func (OrderAccepted) EventName() string { return "order.accepted" }

// FillApplied fires for every accepted fill, partial or final.
type FillApplied struct {
	eventBase
	ClientOrderID string
	Fill          Fill
	CumQty        Quantity
	LeavesQty     Quantity
	AvgPx         Money
}

func (FillApplied) EventName() string { return "order.fill_applied" }

// OrderFilled fires when leaves reaches zero.
type OrderFilled struct {
	eventBase
	ClientOrderID string
	AvgPx         Money
}

func (OrderFilled) EventName() string { return "order.filled" }

// OrderCancelled fires on transition to Cancelled.
type OrderCancelled struct {
	eventBase
	ClientOrderID string
	Reason        string
}

func (OrderCancelled) EventName() string { return "order.cancelled" }

// OrderRejected fires on New → Rejected.
type OrderRejected struct {
	eventBase
	ClientOrderID string
	Reason        string
}

func (OrderRejected) EventName() string { return "order.rejected" }

// OrderExpired fires when time-in-force lapses.
type OrderExpired struct {
	eventBase
	ClientOrderID string
}

func (OrderExpired) EventName() string { return "order.expired" }

// CancelRequested fires when a cancel has been asked of the broker but not
// yet confirmed.
type CancelRequested struct {
	eventBase
	ClientOrderID string
	Reason        string
}

func (CancelRequested) EventName() string { return "order.cancel_requested" }
