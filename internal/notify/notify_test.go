package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeChannel struct {
	mu   sync.Mutex
	err  error
	sent []amqp.Publishing
	keys []string
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "booking.confirmed", BookingConfirmed.RoutingKey())
	assert.Equal(t, "recurring.created", RecurringCreated.RoutingKey())
}

func TestRabbitSink_PublishesJSON(t *testing.T) {
	ch := &fakeChannel{}
	sink := newRabbitSink(ch, "courtledger.events", zap.NewNop())

	ev := NewEvent(7, DepositApproved, map[string]any{"transaction_id": 12})
	require.NoError(t, sink.Publish(context.Background(), ev))

	require.Len(t, ch.sent, 1)
	assert.Equal(t, "deposit.approved", ch.keys[0])
	assert.Equal(t, "application/json", ch.sent[0].ContentType)
	assert.Equal(t, ev.ID, ch.sent[0].MessageId)

	var decoded Event
	require.NoError(t, json.Unmarshal(ch.sent[0].Body, &decoded))
	assert.Equal(t, int64(7), decoded.AccountID)
	assert.Equal(t, DepositApproved, decoded.Kind)
}

func TestRabbitSink_BreakerOpensAfterFailures(t *testing.T) {
	ch := &fakeChannel{err: errors.New("connection closed")}
	sink := newRabbitSink(ch, "courtledger.events", zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.Error(t, sink.Publish(ctx, NewEvent(1, BookingCancelled, nil)))
	}

	err := sink.Publish(ctx, NewEvent(1, BookingCancelled, nil))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

type failingSink struct{}

func (failingSink) Publish(context.Context, Event) error { return errors.New("unreachable") }

func TestEmit_SwallowsAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	Emit(context.Background(), failingSink{}, zap.New(core), NewEvent(3, BookingConfirmed, nil))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "event delivery failed", entry.Message)
	assert.Equal(t, int64(3), entry.ContextMap()["account_id"])

	Emit(context.Background(), nil, zap.NewNop(), NewEvent(3, BookingConfirmed, nil))
}
