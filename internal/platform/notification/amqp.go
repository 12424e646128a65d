package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig describes where email jobs are published. The queue named by
// RoutingKey is declared and bound to Exchange on connect.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// EmailJob is the message body consumed by the mail worker.
type EmailJob struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	HTMLBody string    `json:"html_body"`
	QueuedAt time.Time `json:"queued_at"`
}

// publisher is satisfied by *amqp.Channel.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier hands mail to a RabbitMQ exchange. Send succeeds once the
// broker accepts the message; delivery itself happens in a separate worker.
type AMQPNotifier struct {
	conn       *amqp.Connection
	channel    publisher
	exchange   string
	routingKey string
}

// DialAMQP connects, declares the direct exchange and email queue, and returns
// a ready notifier. Close releases the connection.
func DialAMQP(cfg AMQPConfig) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPNotifier{conn: conn, channel: ch, exchange: cfg.Exchange, routingKey: cfg.RoutingKey}, nil
}

func declareTopology(ch *amqp.Channel, cfg AMQPConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.RoutingKey, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.RoutingKey, err)
	}
	if err := ch.QueueBind(cfg.RoutingKey, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.RoutingKey, err)
	}
	return nil
}

func (n *AMQPNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return ErrNoRecipient
	}
	body, err := json.Marshal(EmailJob{To: to, Subject: subject, HTMLBody: htmlBody, QueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	err = n.channel.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish email job: %w", err)
	}
	return nil
}

// Close shuts the broker connection. It is safe on a notifier built without one.
func (n *AMQPNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
