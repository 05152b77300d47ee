package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/notify"
	"github.com/punchamoorthee/courtledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday 10 March 2026, 18:00 UTC.
var tuesdayEvening = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func threeTuesdays(accountID, courtID int64) PlanRequest {
	return PlanRequest{
		AccountID:   accountID,
		CourtID:     courtID,
		AnchorStart: tuesdayEvening,
		Duration:    time.Hour,
		Rule:        "Weekly;Tue",
		Until:       time.Date(2026, 3, 24, 0, 0, 0, 0, time.UTC),
	}
}

func TestParseRecurrenceDays(t *testing.T) {
	tests := []struct {
		rule string
		want []time.Weekday
	}{
		{"Weekly;Tue", []time.Weekday{time.Tuesday}},
		{"Weekly;Tue,Thu", []time.Weekday{time.Tuesday, time.Thursday}},
		{"mon, WEDNESDAY ,fri", []time.Weekday{time.Monday, time.Wednesday, time.Friday}},
		{"Weekly;Tue,Funday", []time.Weekday{time.Tuesday}},
		{"Weekly", []time.Weekday{time.Saturday}},
		{"", []time.Weekday{time.Saturday}},
		{"Weekly;nope", []time.Weekday{time.Saturday}},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			got := ParseRecurrenceDays(tt.rule, time.Saturday)
			assert.Len(t, got, len(tt.want))
			for _, d := range tt.want {
				assert.True(t, got[d], "missing %s", d)
			}
		})
	}
}

func TestExpandOccurrences(t *testing.T) {
	days := ParseRecurrenceDays("Weekly;Tue,Thu", time.Tuesday)
	got := ExpandOccurrences(tuesdayEvening, 90*time.Minute, days, time.Date(2026, 3, 19, 23, 0, 0, 0, time.UTC))

	require.Len(t, got, 4)
	wantDays := []int{10, 12, 17, 19}
	for i, o := range got {
		assert.Equal(t, wantDays[i], o.Start.Day())
		assert.Equal(t, 18, o.Start.Hour())
		assert.Equal(t, 90*time.Minute, o.End.Sub(o.Start))
	}

	single := ExpandOccurrences(tuesdayEvening, time.Hour, days, tuesdayEvening)
	assert.Len(t, single, 1, "until on the anchor date is inclusive")
}

func TestPlan_AllOccurrencesConfirmed(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 600_000)
	court := f.court(t, 200_000)

	booked, err := f.planner.Plan(f.ctx, threeTuesdays(acc.ID, court.ID))
	require.NoError(t, err)
	require.Len(t, booked, 3)

	parent := booked[0].ID
	assert.Nil(t, booked[0].ParentBookingID)
	for i, b := range booked {
		assert.Equal(t, domain.BookingConfirmed, b.Status)
		assert.True(t, b.IsRecurring)
		assert.Equal(t, "Weekly;Tue", b.RecurrenceRule)
		assert.Equal(t, time.Tuesday, b.StartTime.Weekday())
		require.NotNil(t, b.TransactionID)
		if i > 0 {
			require.NotNil(t, b.ParentBookingID)
			assert.Equal(t, parent, *b.ParentBookingID)
		}
	}

	got := f.reload(t, acc.ID)
	requireDecEqual(t, 0, got.Balance)
	requireDecEqual(t, 600_000, got.TotalSpent)
	assert.Equal(t, []notify.Kind{notify.RecurringCreated}, f.sink.kinds())

	entries, err := f.ledger.History(f.ctx, acc.ID, 1, 20)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "one payment per occurrence")
}

func TestPlan_InsufficientFundsWritesNothing(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 500_000)
	court := f.court(t, 200_000)

	booked, err := f.planner.Plan(f.ctx, threeTuesdays(acc.ID, court.ID))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, booked)

	var partial *domain.PartialBatchError
	assert.False(t, errors.As(err, &partial), "pre-check failure is not partial")

	mine, err := f.bookings.ListForAccount(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
	requireDecEqual(t, 500_000, f.reload(t, acc.ID).Balance)
	assert.Empty(t, f.sink.kinds())
}

func TestPlan_ConflictWritesNothing(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 1_000_000)
	rival := f.account(t, 1_000_000)
	court := f.court(t, 200_000)

	secondTuesday := tuesdayEvening.AddDate(0, 0, 7)
	_, err := f.bookings.Hold(f.ctx, rival.ID, court.ID, secondTuesday.Add(30*time.Minute), secondTuesday.Add(90*time.Minute))
	require.NoError(t, err)

	_, err = f.planner.Plan(f.ctx, threeTuesdays(acc.ID, court.ID))
	require.ErrorIs(t, err, domain.ErrConflict)

	mine, err := f.bookings.ListForAccount(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
	requireDecEqual(t, 1_000_000, f.reload(t, acc.ID).Balance)
}

func TestPlan_PartialFailureReleasesRemainder(t *testing.T) {
	calls := 0
	hs := &hookStore{
		Store: store.NewMemoryStore(),
		beforeLockAccount: func(ctx context.Context, tx store.Store, id int64) {
			calls++
			if calls != 2 {
				return
			}
			acc, err := tx.GetAccount(ctx, id)
			require.NoError(t, err)
			acc.Balance = decimal.Zero
			require.NoError(t, tx.UpdateAccountFunds(ctx, acc))
		},
	}
	f := newFixtureWithStore(t, hs)
	acc := f.account(t, 600_000)
	court := f.court(t, 200_000)

	booked, err := f.planner.Plan(f.ctx, threeTuesdays(acc.ID, court.ID))
	require.Error(t, err)

	var partial *domain.PartialBatchError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 1, partial.FailedIndex)
	requireDecEqual(t, 200_000, partial.Charged)
	require.Len(t, partial.Confirmed, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Len(t, booked, 1)
	assert.Equal(t, domain.BookingConfirmed, booked[0].Status)

	mine, err := f.bookings.ListForAccount(f.ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1, "unpaid occurrences are cancelled")
	assert.Equal(t, booked[0].ID, mine[0].ID)

	requireDecEqual(t, 400_000, f.reload(t, acc.ID).Balance)
	assert.Empty(t, f.sink.kinds())

	// the released slots are free again
	other := f.account(t, 1_000_000)
	_, err = f.bookings.Confirm(f.ctx, other.ID, court.ID, tuesdayEvening.AddDate(0, 0, 14), tuesdayEvening.AddDate(0, 0, 14).Add(time.Hour))
	require.NoError(t, err)
}

func TestPlan_Validation(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 1_000_000)
	court := f.court(t, 100_000)

	tests := []struct {
		name   string
		mutate func(*PlanRequest)
		want   error
	}{
		{"zero duration", func(r *PlanRequest) { r.Duration = 0 }, domain.ErrInvalidRange},
		{"until before anchor", func(r *PlanRequest) { r.Until = tuesdayEvening.AddDate(0, 0, -1) }, domain.ErrInvalidRange},
		{"no matching day", func(r *PlanRequest) { r.Rule = "Weekly;Mon"; r.Until = tuesdayEvening }, domain.ErrInvalidRange},
		{"occurrences overlap", func(r *PlanRequest) { r.Rule = "Weekly;Tue,Wed"; r.Duration = 25 * time.Hour }, domain.ErrInvalidRange},
		{"missing court", func(r *PlanRequest) { r.CourtID = 31337 }, domain.ErrResourceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := threeTuesdays(acc.ID, court.ID)
			tt.mutate(&req)
			_, err := f.planner.Plan(f.ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	mine, err := f.bookings.ListForAccount(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestPlan_ReleasesOwnOverlappingHold(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 600_000)
	court := f.court(t, 200_000)

	onSlot, err := f.bookings.Hold(f.ctx, acc.ID, court.ID, tuesdayEvening, tuesdayEvening.Add(time.Hour))
	require.NoError(t, err)
	later, err := f.bookings.Hold(f.ctx, acc.ID, court.ID, tuesdayEvening.Add(2*time.Hour), tuesdayEvening.Add(3*time.Hour))
	require.NoError(t, err)

	booked, err := f.planner.Plan(f.ctx, threeTuesdays(acc.ID, court.ID))
	require.NoError(t, err)
	require.Len(t, booked, 3)

	live, err := f.bookings.ListForCourt(f.ctx, court.ID, tuesdayEvening.Add(-time.Hour), tuesdayEvening.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, booked[0].ID, live[0].ID)
	assert.Equal(t, domain.BookingConfirmed, live[0].Status)
	assert.Equal(t, later.ID, live[1].ID, "holds outside the series are untouched")
	for i := 1; i < len(live); i++ {
		assert.False(t, domain.Overlaps(live[i-1].StartTime, live[i-1].EndTime, live[i].StartTime, live[i].EndTime))
	}

	released, err := f.store.LockBooking(f.ctx, onSlot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, released.Status)
}

func TestPlan_SettlesDespiteCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hs := &hookStore{
		Store: store.NewMemoryStore(),
		beforeLockAccount: func(context.Context, store.Store, int64) {
			cancel()
		},
	}
	f := newFixtureWithStore(t, hs)
	acc := f.account(t, 600_000)
	court := f.court(t, 200_000)

	booked, err := f.planner.Plan(ctx, threeTuesdays(acc.ID, court.ID))
	require.NoError(t, err)
	require.Len(t, booked, 3)

	mine, err := f.bookings.ListForAccount(f.ctx, acc.ID)
	require.NoError(t, err)
	for _, b := range mine {
		assert.Equal(t, domain.BookingConfirmed, b.Status, "no occurrence is left awaiting payment")
	}
	requireDecEqual(t, 0, f.reload(t, acc.ID).Balance)

	history, err := f.ledger.History(f.ctx, acc.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, e := range history {
		assert.Equal(t, domain.EntryPayment, e.Kind)
		assert.Contains(t, e.Description, "Recurring booking - "+court.Name)
	}
}
