// Package engine hosts the execution use cases: plan submission, order
// cancellation, state queries, partial-fill timeout handling, and the
// mass-cancel safety manager. Cross-module collaborators arrive as small
// capability interfaces.
package engine

import (
	"context"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
)

// BrokerAdapter is the slice of the broker client the use cases need.
type BrokerAdapter interface {
	SubmitOrder(ctx context.Context, env domain.Environment, req broker.OrderRequest) (*broker.OrderResponse, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrder(ctx context.Context, brokerOrderID string) (*broker.OrderResponse, error)
	GetOpenOrders(ctx context.Context) ([]broker.OrderResponse, error)
	GetAccount(ctx context.Context) (*broker.AccountResponse, error)
	GetPositions(ctx context.Context) ([]broker.PositionResponse, error)
}

// OrderRepository owns order aggregates. Mutation happens inside WithOrder,
// which serializes per order id; reads return clones so no task ever shares
// a mutable aggregate.
type OrderRepository interface {
	Insert(o *domain.Order) error
	Get(clientOrderID string) (*domain.Order, error)
	List() []*domain.Order
	// WithOrder runs fn with exclusive ownership of the aggregate; the
	// mutated clone is persisted when fn returns nil.
	WithOrder(clientOrderID string, fn func(*domain.Order) error) error
}

// EventPublisher receives drained domain events.
type EventPublisher interface {
	Publish(events []domain.OrderEvent)
}

// NopPublisher discards events; backtests that do not care use it.
type NopPublisher struct{}

func (NopPublisher) Publish([]domain.OrderEvent) {}
