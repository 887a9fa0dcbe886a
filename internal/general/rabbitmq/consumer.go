package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pump-control/internal/ports"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ ports.Broker = (*Client)(nil)

// newConsumerChannel returns a fresh channel with prefetch (QoS) applied.
func (client *Client) newConsumerChannel(prefetch int) (*amqp.Channel, error) {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()

	// quick fail if no connection
	if conn == nil || conn.IsClosed() {
		return nil, errors.New("rabbitmq: connection is not ready")
	}

	// open a new channel
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	// set prefetch if requested
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq: set QoS (prefetch=%d): %w", prefetch, err)
		}
	}

	return ch, nil
}

// Consume starts consuming messages from a queue with manual acks. At most workers messages are
// handled at once (prefetch = workers); with a single worker messages are handled strictly in
// delivery order. It returns nil when ctx is cancelled and an error when the channel goes away.
func (client *Client) Consume(
	ctx context.Context,
	queue string,
	consumerTag string,
	workers int,
	handler ports.MessageHandler,
) error {
	if workers < 1 {
		workers = 1
	}

	// open a fresh channel for this consumer
	ch, err := client.newConsumerChannel(workers)
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.Consume(
		queue,
		consumerTag,
		false, // autoAck
		false, // exclusive
		false, // noLocal (ignored by RabbitMQ)
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}

	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	var wg sync.WaitGroup
	defer wg.Wait()
	sem := make(chan struct{}, workers)

	for {
		select {
		case <-ctx.Done():
			if consumerTag != "" {
				_ = ch.Cancel(consumerTag, false)
			}
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq: delivery stream of %s ended", queue)
			}

			if workers == 1 {
				client.handleDelivery(ctx, d, handler)
				continue
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// unsettled; the broker requeues it when the channel closes
				return nil
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer func() { <-sem; wg.Done() }()
				client.handleDelivery(ctx, d, handler)
			}(d)
		}
	}
}

// handleDelivery runs handler and settles the delivery according to the returned disposition.
// A panicking handler rejects the message instead of taking the consumer down. The handler
// outlives consumer cancellation so an in-flight exchange can finish during shutdown.
func (client *Client) handleDelivery(ctx context.Context, d amqp.Delivery, handler ports.MessageHandler) {
	hCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	disposition := safeHandle(hCtx, handler, toMessage(d), func(p any) {
		client.logger.Error(ctx, "consumer_handler_panic", "Message handler panicked",
			fmt.Errorf("panic: %v", p), map[string]any{"correlation_id": d.CorrelationId})
	})

	var err error
	switch disposition {
	case ports.Ack:
		err = d.Ack(false)
	case ports.Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false) // drop poison message
	}
	if err != nil {
		client.logger.Error(ctx, "rabbitmq_settle_failed", "Failed to settle delivery", err,
			map[string]any{"correlation_id": d.CorrelationId, "disposition": disposition.String()})
	}
}

func safeHandle(ctx context.Context, handler ports.MessageHandler, msg ports.Message, onPanic func(any)) (disposition ports.Disposition) {
	defer func() {
		if p := recover(); p != nil {
			onPanic(p)
			disposition = ports.Reject
		}
	}()
	return handler(ctx, msg)
}

func toMessage(d amqp.Delivery) ports.Message {
	return ports.Message{
		Body:          d.Body,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		MessageID:     d.MessageId,
		Redelivered:   d.Redelivered,
	}
}
