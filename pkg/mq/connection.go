package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName    = "habit.events"
	DLQExchangeName = "habit.events.dlq"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declareTopic(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareExchanges declares the events exchange and its dead letter exchange.
func DeclareExchanges(ch *amqp091.Channel) error {
	if err := declareTopic(ch, ExchangeName); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := declareTopic(ch, DLQExchangeName); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}
	return nil
}
