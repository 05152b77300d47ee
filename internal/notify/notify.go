// Package notify delivers best-effort domain events after a transaction commits.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type Kind string

const (
	BookingConfirmed Kind = "booking_confirmed"
	BookingCancelled Kind = "booking_cancelled"
	DepositApproved  Kind = "deposit_approved"
	DepositRejected  Kind = "deposit_rejected"
	RecurringCreated Kind = "recurring_created"
)

// RoutingKey is the topic used on the broker, e.g. "booking.confirmed".
func (k Kind) RoutingKey() string {
	b := []byte(k)
	for i, c := range b {
		if c == '_' {
			b[i] = '.'
		}
	}
	return string(b)
}

type Event struct {
	ID         string         `json:"id"`
	AccountID  int64          `json:"account_id"`
	Kind       Kind           `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func NewEvent(accountID int64, kind Kind, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives events. Delivery is at most once.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "courtledger_events_published_total",
	Help: "Notification events by kind and outcome",
}, []string{"kind", "outcome"})

// Emit publishes and swallows failures; the caller's transaction has already committed.
func Emit(ctx context.Context, sink Sink, log *zap.Logger, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, ev); err != nil {
		publishTotal.WithLabelValues(string(ev.Kind), "failed").Inc()
		log.Warn("event delivery failed",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Int64("account_id", ev.AccountID),
			zap.Error(err))
		return
	}
	publishTotal.WithLabelValues(string(ev.Kind), "ok").Inc()
}

type nopSink struct{}

func Nop() Sink { return nopSink{} }

func (nopSink) Publish(context.Context, Event) error { return nil }

// LogSink writes events to the structured log. Used when no broker is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.With(zap.String("component", "notify"))}
}

func (s *LogSink) Publish(_ context.Context, ev Event) error {
	s.log.Info("event",
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.Int64("account_id", ev.AccountID),
		zap.Any("payload", ev.Payload))
	return nil
}
