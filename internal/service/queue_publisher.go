// Package queue_publisher publishes credential lifecycle events to RabbitMQ.
// Publishing is best effort: errors are logged and returned so callers can
// ignore them without interrupting the request flow.
package queue_publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	q "api-farm/internal/queue"
)

// BrokerURL returns the configured broker address, or "" when event
// publishing is not configured at all.
func BrokerURL() string {
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		return url
	}
	return os.Getenv("AMQP_URL")
}

// PublishKeyDisabled sends a KeyDisabledEvent to the key.events queue.
// When no broker is configured the event is silently dropped. Messages are
// marked persistent so they survive broker restarts.
func PublishKeyDisabled(ctx context.Context, event q.KeyDisabledEvent) error {
	url := BrokerURL()
	if url == "" {
		return nil
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		slog.Warn("rabbitmq dial failed", "error", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		slog.Warn("rabbitmq channel open failed", "error", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare; durable so events survive broker restarts.
	if _, err := ch.QueueDeclare(q.KeyEventQueueName, true, false, false, false, nil); err != nil {
		slog.Warn("rabbitmq queue declare failed", "error", err)
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		slog.Warn("marshal key event failed", "error", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", q.KeyEventQueueName, false, false, pub); err != nil {
		slog.Warn("rabbitmq publish failed", "error", err)
		return err
	}
	return nil
}
