package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
)

// RollingPolicy says when an option position is due to roll. Read-only
// after init.
type RollingPolicy struct {
	CheckInterval time.Duration
	// MinDaysToExpiry: positions expiring within this window roll.
	MinDaysToExpiry int
}

// DefaultRollingPolicy checks hourly and rolls inside five days to expiry.
func DefaultRollingPolicy() RollingPolicy {
	return RollingPolicy{
		CheckInterval:   time.Hour,
		MinDaysToExpiry: 5,
	}
}

// RollCandidate is one option position due to roll.
type RollCandidate struct {
	Position     domain.Position
	DaysToExpiry int
}

// RollingManager periodically walks open option positions and closes the
// ones approaching expiry. One instance runs per process; it takes the
// supervisor token and exits promptly on cancel.
type RollingManager struct {
	policy RollingPolicy
	broker BrokerAdapter
	env    domain.Environment
	log    zerolog.Logger
	now    func() time.Time

	// onRoll observes each candidate after its close order is accepted
	// (tests and metrics hook).
	onRoll func(RollCandidate)
}

func NewRollingManager(policy RollingPolicy, bk BrokerAdapter, env domain.Environment, log zerolog.Logger) *RollingManager {
	return &RollingManager{
		policy: policy,
		broker: bk,
		env:    env,
		log:    log.With().Str("component", "rolling").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run walks positions on the configured interval until ctx cancels.
func (r *RollingManager) Run(ctx context.Context) {
	ticker := time.NewTicker(r.policy.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("rolling sweep failed")
			}
		}
	}
}

// sweep closes every option position inside the expiry window.
func (r *RollingManager) sweep(ctx context.Context) error {
	candidates, err := r.Candidates(ctx)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if err := r.closePosition(ctx, c); err != nil {
			r.log.Error().Err(err).
				Str("symbol", c.Position.Instrument.Symbol).
				Msg("roll close failed")
			continue
		}
		if r.onRoll != nil {
			r.onRoll(c)
		}
	}
	return nil
}

// Candidates lists option positions within the expiry window.
func (r *RollingManager) Candidates(ctx context.Context) ([]RollCandidate, error) {
	positions, err := r.broker.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	today := r.now().Truncate(24 * time.Hour)
	var out []RollCandidate
	for _, p := range positions {
		inst, err := domain.ParseInstrument(p.Symbol)
		if err != nil || !inst.IsOption() {
			continue
		}
		days := int(inst.Expiration.Sub(today).Hours() / 24)
		if days > r.policy.MinDaysToExpiry {
			continue
		}

		qty, _ := domain.QuantityFromString(p.Qty.String())
		dir := domain.Long
		if p.Side == "short" || qty.IsNegative() {
			dir = domain.Short
		}
		out = append(out, RollCandidate{
			Position: domain.Position{
				Instrument: inst,
				Quantity:   qty,
				Direction:  dir,
			},
			DaysToExpiry: days,
		})
	}
	return out, nil
}

func (r *RollingManager) closePosition(ctx context.Context, c RollCandidate) error {
	side := "sell"
	if c.Position.Direction == domain.Short {
		side = "buy"
	}
	r.log.Warn().
		Str("symbol", c.Position.Instrument.Symbol).
		Int("days_to_expiry", c.DaysToExpiry).
		Msg("rolling expiring option position")

	_, err := r.broker.SubmitOrder(ctx, r.env, broker.OrderRequest{
		Symbol:        c.Position.Instrument.Symbol,
		Qty:           c.Position.Quantity.Abs().Decimal(),
		Side:          side,
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: "roll-" + c.Position.Instrument.Symbol + "-" + r.now().Format("20060102"),
	})
	return err
}
