package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_InTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	acc, err := s.CreateAccount(ctx, "Alice", decimal.NewFromInt(1000))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx Store) error {
		a, err := tx.LockAccount(ctx, acc.ID)
		require.NoError(t, err)
		a.Balance = decimal.NewFromInt(1)
		require.NoError(t, tx.UpdateAccountFunds(ctx, a))
		require.NoError(t, tx.InsertEntry(ctx, &domain.LedgerEntry{AccountID: acc.ID, Amount: decimal.NewFromInt(-999)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)))

	entries, err := s.Entries(ctx, acc.ID, 20, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_ReleaseExpiredHolds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	acc, err := s.CreateAccount(ctx, "Bob", decimal.Zero)
	require.NoError(t, err)
	court, err := s.CreateCourt(ctx, domain.Court{Name: "A", PricePerHour: decimal.NewFromInt(100), Active: true})
	require.NoError(t, err)

	expired := now.Add(-time.Second)
	live := now.Add(time.Minute)
	start := now.Add(time.Hour)
	for _, exp := range []*time.Time{&expired, &live} {
		b := &domain.Booking{
			CourtID: court.ID, AccountID: acc.ID, StartTime: start, EndTime: start.Add(time.Hour),
			TotalPrice: decimal.NewFromInt(100), Status: domain.BookingHolding, HoldExpiresAt: exp,
		}
		require.NoError(t, s.InsertBooking(ctx, b))
		start = start.Add(2 * time.Hour)
	}

	n, err := s.ReleaseExpiredHolds(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.ReleaseExpiredHolds(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep finds nothing")

	mine, err := s.BookingsForAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, domain.BookingHolding, mine[0].Status)
}

func TestMemoryStore_EntriesPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	acc, err := s.CreateAccount(ctx, "Carol", decimal.Zero)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.InsertEntry(ctx, &domain.LedgerEntry{
			AccountID: acc.ID, Amount: decimal.NewFromInt(int64(i)), Kind: domain.EntryDeposit, Status: domain.EntryPending,
		}))
	}

	page, err := s.Entries(ctx, acc.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].Amount.Equal(decimal.NewFromInt(5)), "newest first")

	page, err = s.Entries(ctx, acc.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)

	page, err = s.Entries(ctx, acc.ID, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryStore_DuplicateTournamentEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	acc, err := s.CreateAccount(ctx, "Dan", decimal.Zero)
	require.NoError(t, err)
	tour, err := s.CreateTournament(ctx, domain.Tournament{Name: "Spring Open", EntryFee: decimal.NewFromInt(50)})
	require.NoError(t, err)

	_, err = s.TournamentEntry(ctx, tour.ID, acc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.InsertTournamentEntry(ctx, &domain.TournamentEntry{TournamentID: tour.ID, AccountID: acc.ID, TeamName: "Lobs"}))
	err = s.InsertTournamentEntry(ctx, &domain.TournamentEntry{TournamentID: tour.ID, AccountID: acc.ID})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := s.TournamentEntry(ctx, tour.ID, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lobs", got.TeamName)
}

func TestMemoryStore_ReleaseStalePayments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	acc, err := s.CreateAccount(ctx, "Eve", decimal.Zero)
	require.NoError(t, err)
	court, err := s.CreateCourt(ctx, domain.Court{Name: "B", PricePerHour: decimal.NewFromInt(100), Active: true})
	require.NoError(t, err)

	start := time.Now().Add(48 * time.Hour)
	unpaid := &domain.Booking{CourtID: court.ID, AccountID: acc.ID, StartTime: start, EndTime: start.Add(time.Hour),
		TotalPrice: decimal.NewFromInt(100), Status: domain.BookingPendingPayment}
	require.NoError(t, s.InsertBooking(ctx, unpaid))
	txID := int64(99)
	paid := &domain.Booking{CourtID: court.ID, AccountID: acc.ID, StartTime: start.Add(time.Hour), EndTime: start.Add(2 * time.Hour),
		TotalPrice: decimal.NewFromInt(100), Status: domain.BookingPendingPayment, TransactionID: &txID}
	require.NoError(t, s.InsertBooking(ctx, paid))

	n, err := s.ReleaseStalePayments(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "fresh rows are left alone")

	n, err = s.ReleaseStalePayments(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.LockBooking(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)
	got, err = s.LockBooking(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPendingPayment, got.Status)
}
