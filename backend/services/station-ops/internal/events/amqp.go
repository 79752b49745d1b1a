package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher sends events as JSON to a topic exchange, routed by event name.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish implements Publisher. amqp channels are not safe for concurrent publishing.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, string(event.Name), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Name),
		Body:         body,
	})
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
