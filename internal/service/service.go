package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/store"
	"go.uber.org/zap"
)

var (
	bookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtledger_booking_transitions_total",
		Help: "Booking state transitions, labeled by resulting status",
	}, []string{"status"})

	ledgerMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtledger_ledger_movements_total",
		Help: "Ledger entries written, labeled by kind and status",
	}, []string{"kind", "status"})

	batchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtledger_recurring_batches_total",
		Help: "Recurring batch outcomes",
	}, []string{"outcome"})
)

type options struct {
	now        func() time.Time
	holdTTL    time.Duration
	pendingTTL time.Duration
}

type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHoldTTL overrides how long holds keep their slot.
func WithHoldTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.holdTTL = ttl
		}
	}
}

// WithPendingTTL overrides how long an unpaid pending-payment booking may keep
// its slot before the reaper releases it.
func WithPendingTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.pendingTTL = ttl
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, holdTTL: domain.HoldTTL, pendingTTL: domain.PendingPaymentTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func named(log *zap.Logger, component string) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return log.With(zap.String("component", component))
}

// lockActiveCourt serializes booking writers on the court row.
func lockActiveCourt(ctx context.Context, tx store.Store, op string, courtID int64) (domain.Court, error) {
	court, err := tx.LockCourt(ctx, courtID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return court, domain.E(domain.KindResourceUnavailable, op, "court does not exist")
		}
		return court, err
	}
	if !court.Active {
		return court, domain.E(domain.KindResourceUnavailable, op, "court is not active")
	}
	return court, nil
}
