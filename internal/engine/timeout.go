package engine

import (
	"time"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// TimeoutAction says what to do with a partially-filled order whose
// per-purpose timeout lapsed.
type TimeoutAction string

const (
	KeepPartial        TimeoutAction = "keep_partial"
	CancelRemaining    TimeoutAction = "cancel_remaining"
	ResubmitMarket     TimeoutAction = "resubmit_market"
	AggressiveResubmit TimeoutAction = "aggressive_resubmit"
)

// TimeoutRule pairs a wait with the action taken when it lapses.
type TimeoutRule struct {
	Wait   time.Duration
	Action TimeoutAction
}

// PartialFillPolicy is the per-purpose timeout table.
type PartialFillPolicy map[domain.OrderPurpose]TimeoutRule

// DefaultPartialFillPolicy: entries wait longest, stop-losses barely wait
// at all and go aggressive.
func DefaultPartialFillPolicy() PartialFillPolicy {
	return PartialFillPolicy{
		domain.PurposeEntry:      {Wait: 300 * time.Second, Action: CancelRemaining},
		domain.PurposeScaleIn:    {Wait: 300 * time.Second, Action: CancelRemaining},
		domain.PurposeExit:       {Wait: 60 * time.Second, Action: ResubmitMarket},
		domain.PurposeScaleOut:   {Wait: 60 * time.Second, Action: ResubmitMarket},
		domain.PurposeStopLoss:   {Wait: 10 * time.Second, Action: AggressiveResubmit},
		domain.PurposeTakeProfit: {Wait: 120 * time.Second, Action: CancelRemaining},
		domain.PurposeBracketLeg: {Wait: 120 * time.Second, Action: KeepPartial},
	}
}

// Lookup resolves the rule for a purpose; unknown purposes keep partials.
func (p PartialFillPolicy) Lookup(purpose domain.OrderPurpose) TimeoutRule {
	if rule, ok := p[purpose]; ok {
		return rule
	}
	return TimeoutRule{Wait: 120 * time.Second, Action: KeepPartial}
}

// Due reports whether an order's partial fill has outstayed its rule.
func (p PartialFillPolicy) Due(o *domain.Order, now time.Time) (TimeoutAction, bool) {
	if o.Status != domain.StatusPartiallyFilled {
		return "", false
	}
	rule := p.Lookup(o.Purpose)
	if now.Sub(o.UpdatedAt) < rule.Wait {
		return "", false
	}
	return rule.Action, true
}
