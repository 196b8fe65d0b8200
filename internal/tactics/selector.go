package tactics

import (
	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// TacticType names a scheduler.
type TacticType string

const (
	PassiveLimitTactic    TacticType = "passive_limit"
	AggressiveLimitTactic TacticType = "aggressive_limit"
	TWAPTactic            TacticType = "twap"
	VWAPTactic            TacticType = "vwap"
	AdaptiveTactic        TacticType = "adaptive"
	IcebergTactic         TacticType = "iceberg"
)

// Size buckets as fractions of ADV.
var (
	smallADV = decimal.RequireFromString("0.01") // < 1%
	largeADV = decimal.RequireFromString("0.05") // >= 5%
)

// highUrgency splits the urgency scalar for the selection matrix.
const highUrgency = 0.5

// Select applies the tactic selection matrix. Order size is expressed as a
// fraction of ADV; rows are evaluated top to bottom, first match wins:
//
//	StopLoss purpose      -> AggressiveLimit (always)
//	Volatile market       -> AggressiveLimit (always)
//	small, low urg, Normal-> PassiveLimit
//	small, high urg, Normal -> AggressiveLimit
//	small, WideSpread     -> PassiveLimit
//	medium, low urgency   -> TWAP
//	medium, high urgency  -> Adaptive
//	large, low urgency    -> VWAP
//	large otherwise       -> Iceberg
func Select(purpose domain.OrderPurpose, qty domain.Quantity, urgency float64, snap Snapshot) TacticType {
	if purpose == domain.PurposeStopLoss {
		return AggressiveLimitTactic
	}
	if snap.State == MarketVolatile {
		return AggressiveLimitTactic
	}

	frac := decimal.NewFromInt(1) // no ADV data: treat as large
	if snap.ADV.IsPositive() {
		frac = qty.Decimal().Div(snap.ADV.Decimal())
	}

	switch {
	case frac.Cmp(smallADV) < 0:
		if snap.State == MarketWideSpread {
			return PassiveLimitTactic
		}
		if urgency > highUrgency {
			return AggressiveLimitTactic
		}
		return PassiveLimitTactic

	case frac.Cmp(largeADV) < 0:
		if urgency > highUrgency {
			return AdaptiveTactic
		}
		return TWAPTactic

	default:
		if urgency <= highUrgency {
			return VWAPTactic
		}
		return IcebergTactic
	}
}
