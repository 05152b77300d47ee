package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	silverThreshold  = decimal.NewFromInt(2_000_000)
	goldThreshold    = decimal.NewFromInt(5_000_000)
	diamondThreshold = decimal.NewFromInt(10_000_000)

	fullRefundWindow = 24 * time.Hour
	half             = decimal.NewFromFloat(0.5)
)

// TierFor maps cumulative spend to a tier. Lower bounds are inclusive.
func TierFor(totalSpent decimal.Decimal) Tier {
	switch {
	case totalSpent.GreaterThanOrEqual(diamondThreshold):
		return TierDiamond
	case totalSpent.GreaterThanOrEqual(goldThreshold):
		return TierGold
	case totalSpent.GreaterThanOrEqual(silverThreshold):
		return TierSilver
	default:
		return TierStandard
	}
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// ValidateRange rejects zero-length and inverted ranges.
func ValidateRange(op string, start, end time.Time) error {
	if !end.After(start) {
		return E(KindInvalidRange, op, "end must be after start")
	}
	return nil
}

// PriceFor is duration in hours times the hourly rate.
func PriceFor(pricePerHour decimal.Decimal, start, end time.Time) decimal.Decimal {
	hours := decimal.NewFromInt(int64(end.Sub(start))).Div(decimal.NewFromInt(int64(time.Hour)))
	return hours.Mul(pricePerHour).Round(2)
}

// RefundFor returns the refund owed when a paid booking is cancelled at now:
// the full price more than 24h before start, half otherwise.
func RefundFor(price decimal.Decimal, start, now time.Time) decimal.Decimal {
	if start.Sub(now) > fullRefundWindow {
		return price
	}
	return price.Mul(half).Round(2)
}
