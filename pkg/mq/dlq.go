package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// declareDLQ declares "<queue>.dlq" bound to the dead letter exchange and
// returns the arguments that route rejected messages of queue into it.
func declareDLQ(ch *amqp091.Channel, queueName, routingKey string) (amqp091.Table, error) {
	q, err := ch.QueueDeclare(
		queueName+".dlq",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, DLQExchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return amqp091.Table{
		"x-dead-letter-exchange":    DLQExchangeName,
		"x-dead-letter-routing-key": routingKey,
	}, nil
}
