package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		spent int64
		want  Tier
	}{
		{0, TierStandard},
		{1_999_999, TierStandard},
		{2_000_000, TierSilver},
		{4_999_999, TierSilver},
		{5_000_000, TierGold},
		{9_999_999, TierGold},
		{10_000_000, TierDiamond},
		{250_000_000, TierDiamond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(decimal.NewFromInt(tt.spent)), "spent=%d", tt.spent)
	}
	assert.Equal(t, TierStandard, TierFor(decimal.RequireFromString("1999999.99")))
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	h := func(n int) time.Time { return base.Add(time.Duration(n) * time.Hour) }

	assert.True(t, Overlaps(h(0), h(2), h(1), h(3)))
	assert.True(t, Overlaps(h(0), h(3), h(1), h(2)))
	assert.False(t, Overlaps(h(0), h(1), h(1), h(2)), "touching ranges do not conflict")
	assert.False(t, Overlaps(h(2), h(3), h(0), h(1)))
}

func TestValidateRange(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	require.NoError(t, ValidateRange("hold", start, start.Add(time.Minute)))

	err := ValidateRange("hold", start, start)
	assert.True(t, errors.Is(err, ErrInvalidRange))
	assert.ErrorIs(t, ValidateRange("hold", start, start.Add(-time.Hour)), ErrInvalidRange)
}

func TestPriceFor(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	rate := decimal.NewFromInt(150_000)

	assert.True(t, decimal.NewFromInt(150_000).Equal(PriceFor(rate, start, start.Add(time.Hour))))
	assert.True(t, decimal.NewFromInt(225_000).Equal(PriceFor(rate, start, start.Add(90*time.Minute))))
	assert.True(t, PriceFor(decimal.Zero, start, start.Add(time.Hour)).IsZero())
}

func TestRefundFor(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	price := decimal.NewFromInt(150_000)

	assert.True(t, price.Equal(RefundFor(price, now.Add(48*time.Hour), now)))
	assert.True(t, decimal.NewFromInt(75_000).Equal(RefundFor(price, now.Add(2*time.Hour), now)))
	assert.True(t, decimal.NewFromInt(75_000).Equal(RefundFor(price, now.Add(24*time.Hour), now)), "exactly 24h is not more than 24h")
}

func TestBookingBlocksFor(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	live := now.Add(time.Minute)
	stale := now.Add(-time.Minute)

	hold := Booking{AccountID: 1, Status: BookingHolding, HoldExpiresAt: &live}
	assert.True(t, hold.BlocksFor(2, now))
	assert.False(t, hold.BlocksFor(1, now), "own hold never blocks")

	hold.HoldExpiresAt = &stale
	assert.False(t, hold.BlocksFor(2, now))
	assert.False(t, hold.Occupies(now))

	assert.True(t, Booking{AccountID: 1, Status: BookingConfirmed}.BlocksFor(1, now))
	assert.True(t, Booking{AccountID: 1, Status: BookingCompleted}.BlocksFor(2, now))
	assert.False(t, Booking{AccountID: 1, Status: BookingCancelled}.BlocksFor(2, now))
}

func TestErrorIsByKind(t *testing.T) {
	err := E(KindConflict, "hold", "slot taken")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrState)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "hold: slot taken", err.Error())

	wrapped := Wrap(KindTransient, "reap", errors.New("connection reset"))
	assert.ErrorIs(t, wrapped, ErrTransient)
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
