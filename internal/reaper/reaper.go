package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/courtledger/internal/domain"
	"go.uber.org/zap"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtledger_reaper_passes_total",
		Help: "Reaper passes by outcome",
	}, []string{"outcome"})

	releasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtledger_reaper_released_total",
		Help: "Expired holds released by the reaper",
	})

	abandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtledger_reaper_abandoned_total",
		Help: "Unpaid pending-payment bookings released by the reaper",
	})

	completedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtledger_reaper_completed_total",
		Help: "Finished bookings marked completed by the reaper",
	})
)

// Sweeper is the booking side of a reaper pass.
type Sweeper interface {
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error)
	ReleaseStalePayments(ctx context.Context, now time.Time) (int64, error)
	CompleteFinished(ctx context.Context, now time.Time) (int64, error)
}

// Leader elects a single reaper across replicas. acquired=false with a nil
// error means another replica owns this pass.
type Leader interface {
	TryLead(ctx context.Context) (release func(context.Context), acquired bool, err error)
}

// Pass summarises one reaper run.
type Pass struct {
	Released  int64
	Abandoned int64
	Completed int64
	Skipped   bool
}

type Reaper struct {
	sweeper  Sweeper
	leader   Leader
	interval time.Duration
	backoff  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Reaper)

func WithLeader(l Leader) Option { return func(r *Reaper) { r.leader = l } }

func WithClock(now func() time.Time) Option { return func(r *Reaper) { r.now = now } }

// WithRetryBackoff sets the pause before the single retry of a transient failure.
func WithRetryBackoff(d time.Duration) Option { return func(r *Reaper) { r.backoff = d } }

func New(s Sweeper, interval time.Duration, log *zap.Logger, opts ...Option) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reaper{
		sweeper:  s,
		interval: interval,
		backoff:  500 * time.Millisecond,
		now:      time.Now,
		log:      log.With(zap.String("component", "reaper")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
// A failing pass is logged and the loop keeps going.
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info("reaper started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("reaper pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce releases expired holds and stale unpaid bookings, then completes
// finished bookings.
func (r *Reaper) RunOnce(ctx context.Context) (Pass, error) {
	if r.leader != nil {
		release, acquired, err := r.leader.TryLead(ctx)
		if err != nil {
			passesTotal.WithLabelValues("error").Inc()
			return Pass{}, err
		}
		if !acquired {
			passesTotal.WithLabelValues("skipped").Inc()
			r.log.Debug("another replica holds the reaper lock")
			return Pass{Skipped: true}, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	var p Pass
	now := r.now()

	released, err := r.retryTransient(ctx, func() (int64, error) { return r.sweeper.ReleaseExpiredHolds(ctx, now) })
	if err != nil {
		passesTotal.WithLabelValues("error").Inc()
		return p, err
	}
	p.Released = released
	releasedTotal.Add(float64(released))

	abandoned, err := r.retryTransient(ctx, func() (int64, error) { return r.sweeper.ReleaseStalePayments(ctx, now) })
	if err != nil {
		passesTotal.WithLabelValues("error").Inc()
		return p, err
	}
	p.Abandoned = abandoned
	abandonedTotal.Add(float64(abandoned))

	completed, err := r.retryTransient(ctx, func() (int64, error) { return r.sweeper.CompleteFinished(ctx, now) })
	if err != nil {
		passesTotal.WithLabelValues("error").Inc()
		return p, err
	}
	p.Completed = completed
	completedTotal.Add(float64(completed))

	passesTotal.WithLabelValues("ok").Inc()
	if p.Released > 0 || p.Abandoned > 0 || p.Completed > 0 {
		r.log.Info("reaper pass", zap.Int64("released", p.Released), zap.Int64("abandoned", p.Abandoned),
			zap.Int64("completed", p.Completed))
	}
	return p, nil
}

func (r *Reaper) retryTransient(ctx context.Context, fn func() (int64, error)) (int64, error) {
	n, err := fn()
	if err == nil || !errors.Is(err, domain.ErrTransient) {
		return n, err
	}
	r.log.Warn("transient reaper failure, retrying", zap.Error(err))

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(r.backoff):
	}
	return fn()
}
