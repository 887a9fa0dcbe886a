package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"pump-control/internal/general/correlation"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumeMatching pulls from queue on a dedicated channel until the message carrying correlationID
// arrives or timeout elapses. Messages for other ids are requeued for other consumers.
func (client *Client) ConsumeMatching(ctx context.Context, queue, correlationID string, timeout time.Duration) ([]byte, error) {
	ch, err := client.newConsumerChannel(0)
	if err != nil {
		return nil, err
	}
	// closing the channel also returns anything still unsettled to the queue
	defer ch.Close()

	return client.waiter.Wait(ctx, &getSource{ch: ch, queue: queue}, queue, correlationID, timeout)
}

// getSource adapts basic.get to correlation.Source.
type getSource struct {
	ch    *amqp.Channel
	queue string
}

func (s *getSource) Next(_ context.Context) (correlation.Delivery, bool, error) {
	d, ok, err := s.ch.Get(s.queue, false)
	if err != nil {
		return nil, false, fmt.Errorf("rabbitmq: get(%s): %w", s.queue, err)
	}
	if !ok {
		return nil, false, nil
	}
	return amqpDelivery{d: d}, true, nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a amqpDelivery) CorrelationID() string { return a.d.CorrelationId }
func (a amqpDelivery) Body() []byte          { return a.d.Body }
func (a amqpDelivery) Ack() error            { return a.d.Ack(false) }
func (a amqpDelivery) Requeue() error        { return a.d.Nack(false, true) }
