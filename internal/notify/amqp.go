package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// EventsExchange is the topic exchange incident events are published to
const EventsExchange = "incidentflow.events"

// publisher is the part of *amqp091.Channel the notifier uses
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPNotifier publishes notifications as JSON to EventsExchange with routing key incident.<kind>
type AMQPNotifier struct {
	conn    *amqp091.Connection
	channel publisher
}

// DialAMQP connects to RabbitMQ and declares the events exchange
func DialAMQP(url string) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare events exchange: %w", err)
	}

	return &AMQPNotifier{conn: conn, channel: ch}, nil
}

// RoutingKey returns the routing key used for a notification kind
func RoutingKey(k Kind) string {
	return "incident." + string(k)
}

func (a *AMQPNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("amqp: encode notification: %w", err)
	}

	err = a.channel.PublishWithContext(ctx, EventsExchange, RoutingKey(n.Kind), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    n.Timestamp,
		MessageId:    n.IncidentID,
		Type:         string(n.Kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp: publish %s: %w", n.Kind, err)
	}
	return nil
}

// Close closes the channel and connection
func (a *AMQPNotifier) Close() error {
	if ch, ok := a.channel.(*amqp091.Channel); ok && ch != nil {
		ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
