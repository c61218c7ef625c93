package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Alert is an out-of-band notification pushed to agents outside the live
// websocket path (mobile push relay, email digests and similar consumers
// read these off the exchange).
type Alert struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversationId"`
	Participant    string `json:"participant"`
	Body           string `json:"body,omitempty"`
	EmittedAt      string `json:"emittedAt"`
}

type Sink interface {
	Push(ctx context.Context, alert Alert) error
	Close() error
}

// RabbitSink publishes alerts to a durable topic exchange with publisher
// confirms enabled.
type RabbitSink struct {
	conn     *amqp.Connection
	exchange string
}

func NewRabbitSink(url, exchange string) (*RabbitSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange %s: %w", exchange, err)
	}

	return &RabbitSink{
		conn:     conn,
		exchange: exchange,
	}, nil
}

func (s *RabbitSink) Push(ctx context.Context, alert Alert) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("notify: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("notify: enable confirms: %w", err)
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("notify: marshal alert: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		s.exchange,
		"support."+alert.Kind,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   alert.ConversationID,
			Timestamp:   time.Now().UTC(),
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("notify: publish alert: %w", err)
	}

	if ok, err := confirm.WaitContext(ctx); err != nil {
		return fmt.Errorf("notify: confirm alert: %w", err)
	} else if !ok {
		return fmt.Errorf("notify: broker nacked alert for %s", alert.ConversationID)
	}
	return nil
}

func (s *RabbitSink) Close() error {
	return s.conn.Close()
}

// FallbackSink logs and discards alerts. Used when no broker is configured.
type FallbackSink struct{}

func (FallbackSink) Push(ctx context.Context, alert Alert) error {
	log.Printf("notify: skipped push for conversation %s (%s)", alert.ConversationID, alert.Kind)
	return nil
}

func (FallbackSink) Close() error {
	return nil
}
