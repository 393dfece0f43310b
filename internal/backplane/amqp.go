package backplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP fans payloads out through a RabbitMQ fanout exchange. Each process
// binds its own exclusive, auto-deleted queue to the exchange.
type AMQP struct {
	conn     *amqp.Connection
	publish  *amqp.Channel
	exchange string
	log      *slog.Logger
}

// NewAMQP dials url, retrying up to tries times, and declares the exchange.
func NewAMQP(ctx context.Context, url, exchange string, tries int, interval time.Duration, log *slog.Logger) (*AMQP, error) {
	conn, err := dialAMQP(ctx, url, tries, interval, log)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, false, true, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Info("Connected to RabbitMQ backplane", "exchange", exchange)
	return &AMQP{conn: conn, publish: ch, exchange: exchange, log: log}, nil
}

func dialAMQP(ctx context.Context, url string, tries int, interval time.Duration, log *slog.Logger) (*amqp.Connection, error) {
	if tries <= 0 {
		tries = 1
	}

	var err error
	for attempt := 1; attempt <= tries; attempt++ {
		var conn *amqp.Connection
		if conn, err = amqp.Dial(url); err == nil {
			return conn, nil
		}
		if attempt == tries {
			break
		}
		log.Warn("Failed to connect to RabbitMQ, retrying", "attempt", attempt, "retry_in", interval, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return nil, fmt.Errorf("could not connect to RabbitMQ after %d attempts: %w", tries, err)
}

func (a *AMQP) Publish(ctx context.Context, payload []byte) error {
	return a.publish.PublishWithContext(ctx, a.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

func (a *AMQP) Subscribe(ctx context.Context, deliver func([]byte)) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare a queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", a.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consumer on %s closed by broker", q.Name)
			}
			deliver(d.Body)
		}
	}
}

func (a *AMQP) Close() error {
	return a.conn.Close()
}
