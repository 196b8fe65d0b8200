package engine

import (
	"context"
	"errors"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
)

// CancelStatus is the per-order outcome of a cancel request.
type CancelStatus string

const (
	CancelAccepted        CancelStatus = "accepted"
	CancelNotFound        CancelStatus = "not_found"
	CancelAlreadyTerminal CancelStatus = "already_terminal"
	CancelFailed          CancelStatus = "failed"
)

// CancelOutcome reports one order's result.
type CancelOutcome struct {
	ClientOrderID string
	Status        CancelStatus
	Err           error
}

// CancelOrders cancels each order independently and reports per-order
// outcomes; one failure never aborts the batch.
func (e *Engine) CancelOrders(ctx context.Context, clientOrderIDs []string, reason string) []CancelOutcome {
	outcomes := make([]CancelOutcome, 0, len(clientOrderIDs))
	for _, id := range clientOrderIDs {
		outcomes = append(outcomes, e.cancelOne(ctx, id, reason))
	}
	return outcomes
}

func (e *Engine) cancelOne(ctx context.Context, clientOrderID, reason string) CancelOutcome {
	out := CancelOutcome{ClientOrderID: clientOrderID}

	order, err := e.repo.Get(clientOrderID)
	if err != nil {
		out.Status = CancelNotFound
		out.Err = err
		return out
	}
	if order.Status.Terminal() {
		out.Status = CancelAlreadyTerminal
		return out
	}

	if order.BrokerOrderID != "" {
		if err := e.broker.CancelOrder(ctx, order.BrokerOrderID); err != nil {
			if !errors.Is(err, broker.ErrOrderNotFound) {
				out.Status = CancelFailed
				out.Err = err
				return out
			}
			// Unknown at the broker: it died there already; finish locally.
		}
	}

	err = e.repo.WithOrder(clientOrderID, func(o *domain.Order) error {
		if o.Status.Terminal() {
			return nil
		}
		if err := o.Cancel(reason, e.now()); err != nil {
			return err
		}
		e.publisher.Publish(o.DrainEvents())
		return nil
	})
	if err != nil {
		out.Status = CancelFailed
		out.Err = err
		return out
	}

	if e.metrics != nil {
		e.metrics.OrdersCancelled.Inc()
	}
	out.Status = CancelAccepted
	return out
}
