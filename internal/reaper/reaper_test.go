package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/service"
	"github.com/punchamoorthee/courtledger/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSweeper struct {
	mu            sync.Mutex
	releaseErrs   []error
	releaseCalls  int
	staleCalls    int
	completeCalls int
	seen          []time.Time
}

func (f *fakeSweeper) ReleaseExpiredHolds(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	f.seen = append(f.seen, now)
	if len(f.releaseErrs) > 0 {
		err := f.releaseErrs[0]
		f.releaseErrs = f.releaseErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return 2, nil
}

func (f *fakeSweeper) ReleaseStalePayments(_ context.Context, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleCalls++
	return 3, nil
}

func (f *fakeSweeper) CompleteFinished(_ context.Context, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	return 1, nil
}

func (f *fakeSweeper) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releaseCalls, f.completeCalls
}

var transient = domain.E(domain.KindTransient, "release holds", "serialization failure")

func TestRunOnce_SweepsHoldsThenCompletions(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	fs := &fakeSweeper{}
	r := New(fs, time.Minute, zap.NewNop(), WithClock(func() time.Time { return now }))

	p, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Pass{Released: 2, Abandoned: 3, Completed: 1}, p)
	assert.Equal(t, []time.Time{now}, fs.seen)
}

func TestRunOnce_RetriesTransientOnce(t *testing.T) {
	fs := &fakeSweeper{releaseErrs: []error{transient}}
	r := New(fs, time.Minute, zap.NewNop(), WithRetryBackoff(time.Millisecond))

	p, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Released)
	release, complete := fs.calls()
	assert.Equal(t, 2, release)
	assert.Equal(t, 1, complete)
}

func TestRunOnce_GivesUpAfterSecondTransient(t *testing.T) {
	fs := &fakeSweeper{releaseErrs: []error{transient, transient}}
	r := New(fs, time.Minute, zap.NewNop(), WithRetryBackoff(time.Millisecond))

	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransient)
	_, complete := fs.calls()
	assert.Zero(t, complete)
}

func TestRunOnce_DoesNotRetryPermanentErrors(t *testing.T) {
	boom := errors.New("boom")
	fs := &fakeSweeper{releaseErrs: []error{boom}}
	r := New(fs, time.Minute, zap.NewNop(), WithRetryBackoff(time.Millisecond))

	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	release, _ := fs.calls()
	assert.Equal(t, 1, release)
}

func TestRun_LogsFailuresAndStopsOnCancel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	fs := &fakeSweeper{releaseErrs: []error{errors.New("db down")}}
	r := New(fs, 5*time.Millisecond, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		release, _ := fs.calls()
		return release >= 3
	}, time.Second, 5*time.Millisecond, "loop keeps going after a failed pass")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}

	failed := logs.FilterMessage("reaper pass failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "reaper", failed[0].ContextMap()["component"])
}

func TestRunOnce_ReleasesHoldsInStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	s := store.NewMemoryStore()
	log := zap.NewNop()
	clock := func() time.Time { return now }
	bookings := service.NewBookingService(s, service.NewLedger(s, nil, log), nil, log, service.WithClock(clock))

	acc, err := s.CreateAccount(ctx, "reaper", decimal.Zero)
	require.NoError(t, err)
	court, err := s.CreateCourt(ctx, domain.Court{Name: "A", PricePerHour: decimal.NewFromInt(100), Active: true})
	require.NoError(t, err)

	start := now.Add(24 * time.Hour)
	_, err = bookings.Hold(ctx, acc.ID, court.ID, start, start.Add(time.Hour))
	require.NoError(t, err)

	r := New(bookings, time.Minute, log, WithClock(func() time.Time { return now.Add(domain.HoldTTL + time.Second) }))
	p, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Released)

	mine, err := bookings.ListForAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func newRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLeader_SingleOwner(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	a := NewRedisLeader(client, "", 10*time.Second, zap.NewNop())
	b := NewRedisLeader(client, "", 10*time.Second, zap.NewNop())

	release, ok, err := a.TryLead(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLead(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second replica must not lead while the lock is held")

	release(ctx)

	releaseB, ok, err := b.TryLead(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB(ctx)
}

func TestRunOnce_SkipsWhenNotLeader(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	holder := NewRedisLeader(client, "reaper-test", 10*time.Second, zap.NewNop())
	release, ok, err := holder.TryLead(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer release(ctx)

	fs := &fakeSweeper{}
	r := New(fs, time.Minute, zap.NewNop(), WithLeader(NewRedisLeader(client, "reaper-test", 10*time.Second, zap.NewNop())))

	p, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, p.Skipped)
	releaseCalls, _ := fs.calls()
	assert.Zero(t, releaseCalls)
}

func TestRedisLeader_ReportsUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	leader := NewRedisLeader(client, "", 10*time.Second, zap.NewNop())
	release, ok, err := leader.TryLead(context.Background())
	require.Error(t, err, "an outage is not the same as another replica leading")
	assert.False(t, ok)
	assert.Nil(t, release)
}
