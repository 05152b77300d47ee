package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/notify"
	"github.com/punchamoorthee/courtledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingSink) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type fixture struct {
	ctx         context.Context
	store       store.Store
	sink        *recordingSink
	now         time.Time
	ledger      *Ledger
	bookings    *BookingService
	planner     *Planner
	tournaments *TournamentService
}

// Monday 9 March 2026, 08:00 UTC.
var fixtureNow = time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, store.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, s store.Store) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: s, sink: &recordingSink{}, now: fixtureNow}
	clock := WithClock(func() time.Time { return f.now })
	log := zap.NewNop()

	f.ledger = NewLedger(s, f.sink, log)
	f.bookings = NewBookingService(s, f.ledger, f.sink, log, clock)
	f.planner = NewPlanner(s, f.ledger, f.sink, log, clock)
	f.tournaments = NewTournamentService(s, f.ledger, log)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) account(t *testing.T, balance int64) domain.Account {
	t.Helper()
	acc, err := f.store.CreateAccount(f.ctx, "member", dec(balance))
	require.NoError(t, err)
	return acc
}

func (f *fixture) court(t *testing.T, pricePerHour int64) domain.Court {
	t.Helper()
	c, err := f.store.CreateCourt(f.ctx, domain.Court{Name: "Court", PricePerHour: dec(pricePerHour), Active: true})
	require.NoError(t, err)
	return c
}

func (f *fixture) reload(t *testing.T, id int64) domain.Account {
	t.Helper()
	acc, err := f.store.GetAccount(f.ctx, id)
	require.NoError(t, err)
	return acc
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func requireDecEqual(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %d, got %s", want, got.String())
}

// hookStore runs callbacks inside the caller's transaction: before every
// account lock, and in place of booking updates when failUpdate is set.
type hookStore struct {
	store.Store
	beforeLockAccount func(ctx context.Context, tx store.Store, id int64)
	failUpdate        func(b domain.Booking) error
}

func (h *hookStore) InTx(ctx context.Context, fn func(store.Store) error) error {
	return h.Store.InTx(ctx, func(tx store.Store) error {
		return fn(&hookStore{Store: tx, beforeLockAccount: h.beforeLockAccount, failUpdate: h.failUpdate})
	})
}

func (h *hookStore) UpdateBooking(ctx context.Context, b domain.Booking) error {
	if h.failUpdate != nil {
		if err := h.failUpdate(b); err != nil {
			return err
		}
	}
	return h.Store.UpdateBooking(ctx, b)
}

func (h *hookStore) LockAccount(ctx context.Context, id int64) (domain.Account, error) {
	if h.beforeLockAccount != nil {
		h.beforeLockAccount(ctx, h.Store, id)
	}
	return h.Store.LockAccount(ctx, id)
}
