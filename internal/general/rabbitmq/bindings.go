package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// declareQueues idempotently declares the relay queues on the default exchange.
// The flags match the declarations made by the backend and the microcontroller manager;
// a mismatch would close the channel with PRECONDITION_FAILED.
func declareQueues(ch *amqp.Channel, queues []string) error {
	for _, q := range queues {
		if _, err := ch.QueueDeclare(
			q,     // name
			false, // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	return nil
}
