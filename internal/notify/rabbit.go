package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitSink publishes events as JSON to a topic exchange behind a circuit breaker,
// so a broker outage fails fast instead of stalling request handlers.
type RabbitSink struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
}

func NewRabbitSink(url, exchange string, log *zap.Logger) (*RabbitSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	s := newRabbitSink(ch, exchange, log)
	s.conn = conn
	return s, nil
}

func newRabbitSink(ch channel, exchange string, log *zap.Logger) *RabbitSink {
	return &RabbitSink{
		ch:       ch,
		exchange: exchange,
		breaker:  newBreaker("notify-"+exchange, log),
		timeout:  2 * time.Second,
	}
}

func newBreaker(name string, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func (s *RabbitSink) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = s.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return nil, s.ch.PublishWithContext(ctx, s.exchange, ev.Kind.RoutingKey(), false, false, amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    ev.ID,
			Timestamp:    ev.OccurredAt,
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

func (s *RabbitSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
