package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pump-control/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotConfirmed = errors.New("rabbitmq: publish not acknowledged")

// Publish sends body to queue through the default exchange and waits for the broker confirm.
// correlationID and replyTo are carried as AMQP properties; replyTo may be empty.
func (client *Client) Publish(ctx context.Context, queue string, body []byte, correlationID, replyTo string) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	// quick fail if no channel
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	// one publish in flight per channel keeps confirms aligned with publishes
	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := ch.PublishWithContext(ctx, "", queue, true /* mandatory */, false, /* immediate */
		amqp.Publishing{
			ContentType:   contracts.ContentTypeJSON,
			DeliveryMode:  amqp.Transient,
			CorrelationId: correlationID,
			ReplyTo:       replyTo,
			Timestamp:     time.Now().UTC(),
			Body:          body,
		},
	); err != nil {
		return fmt.Errorf("rabbitmq: publish to %s: %w", queue, err)
	}

	select {
	case c, ok := <-confirms:
		if !ok {
			return errors.New("rabbitmq: confirm stream closed")
		}
		if !c.Ack {
			return ErrNotConfirmed
		}
	case <-ctx.Done():
		// keep the confirm stream aligned: try to consume exactly one confirm even if we return a timeout to the caller
		select {
		case c, ok := <-confirms:
			if ok && !c.Ack {
				return fmt.Errorf("%w after timeout", ErrNotConfirmed)
			}
		case <-time.After(2 * time.Second):
		}

		return ctx.Err()
	}

	return nil
}
