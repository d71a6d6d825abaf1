package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	alerts "swapstation-ops/internal/alerts/domain"
)

// AMQPChannel is the part of *amqp.Channel the publisher uses.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes created alerts to a topic exchange. Subscribers bind
// on routing keys of the form alerts.<severity>.<type>.
type AMQPPublisher struct {
	channel  AMQPChannel
	exchange string
	newID    func() string
	now      func() time.Time
}

// AMQPOption configures the publisher.
type AMQPOption func(*AMQPPublisher)

// WithMessageIDs overrides message id generation.
func WithMessageIDs(fn func() string) AMQPOption {
	return func(p *AMQPPublisher) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// NewAMQPPublisher declares the exchange and returns a publisher bound to it.
func NewAMQPPublisher(channel AMQPChannel, exchange string, opts ...AMQPOption) (*AMQPPublisher, error) {
	if channel == nil {
		return nil, errors.New("amqp publisher: nil channel")
	}
	if exchange == "" {
		return nil, errors.New("amqp publisher: empty exchange")
	}
	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp publisher: declare exchange: %w", err)
	}
	p := &AMQPPublisher{
		channel:  channel,
		exchange: exchange,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish sends the alert and returns the message id.
func (p *AMQPPublisher) Publish(ctx context.Context, alert alerts.Alert) (string, error) {
	if p == nil || p.channel == nil {
		return "", errors.New("amqp publisher: not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(NewAlertMessage(alert))
	if err != nil {
		return "", fmt.Errorf("amqp publisher: marshal: %w", err)
	}
	headers := amqp.Table{"subject": Subject(alert)}
	for k, v := range Attributes(alert) {
		headers[k] = v
	}
	messageID := p.newID()
	err = p.channel.Publish(p.exchange, RoutingKey(alert), false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    p.now(),
		Type:         string(alert.Type),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("amqp publisher: publish %s: %w", alert.ID, err)
	}
	return messageID, nil
}

// RoutingKey returns alerts.<severity>.<type> in lower case.
func RoutingKey(alert alerts.Alert) string {
	return strings.ToLower(fmt.Sprintf("alerts.%s.%s", alert.Severity, alert.Type))
}

// DialAMQP opens a connection and a channel.
func DialAMQP(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return conn, ch, nil
}
