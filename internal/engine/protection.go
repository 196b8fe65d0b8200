package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/stops"
)

// Protection arms the live price monitor for filled entries and converts
// triggers into protective orders at the broker.
type Protection struct {
	monitor *stops.Monitor
	broker  BrokerAdapter
	env     domain.Environment
	log     zerolog.Logger
}

func NewProtection(bk BrokerAdapter, env domain.Environment, log zerolog.Logger) *Protection {
	p := &Protection{
		broker: bk,
		env:    env,
		log:    log.With().Str("component", "protection").Logger(),
	}
	p.monitor = stops.NewMonitor(p.onTrigger, log)
	return p
}

// Monitor exposes the underlying price monitor for the quote feed.
func (p *Protection) Monitor() *stops.Monitor {
	return p.monitor
}

// Arm tracks a filled entry's stop and target levels. Direction derives
// from the entry side.
func (p *Protection) Arm(o *domain.Order, target domain.Money) {
	if !o.StopLoss.IsPositive() && !target.IsPositive() {
		return
	}
	dir := domain.Long
	if o.Side == domain.Sell {
		dir = domain.Short
	}
	p.monitor.Track(o.ClientOrderID, o.Instrument, dir, o.CumQty, o.StopLoss, target)
	p.log.Info().
		Str("order", o.ClientOrderID).
		Str("stop", o.StopLoss.String()).
		Str("target", target.String()).
		Msg("protective levels armed")
}

// Disarm drops tracking for a closed position.
func (p *Protection) Disarm(positionID string) {
	p.monitor.Untrack(positionID)
}

// onTrigger submits the protective order. Stops exit with a marketable
// order immediately; the deactivated row guarantees a single submission.
func (p *Protection) onTrigger(tr stops.Trigger) {
	side := "sell"
	if tr.Direction == domain.Short {
		side = "buy"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.broker.SubmitOrder(ctx, p.env, broker.OrderRequest{
		Symbol:        tr.Instrument.Symbol,
		Qty:           tr.Quantity.Decimal(),
		Side:          side,
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: "prot-" + uuid.NewString(),
	})
	if err != nil {
		p.log.Error().Err(err).
			Str("position", tr.PositionID).
			Str("kind", string(tr.Kind)).
			Msg("protective order submission failed")
		return
	}
	p.log.Warn().
		Str("position", tr.PositionID).
		Str("kind", string(tr.Kind)).
		Str("level", tr.Level.String()).
		Msg("protective order submitted")
}
