package ports

import (
	"context"
	"time"
)

// Message is an inbound broker message handed to a consumer handler.
type Message struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
	MessageID     string
	Redelivered   bool
}

// Disposition tells the gateway how to settle a consumed message.
type Disposition int

const (
	// Ack removes the message from the queue.
	Ack Disposition = iota
	// Reject negatively acknowledges without requeue.
	Reject
	// Requeue negatively acknowledges and asks the broker to redeliver.
	Requeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "nack"
	case Requeue:
		return "nack_requeue"
	default:
		return "unknown"
	}
}

// MessageHandler processes one message and decides its disposition. It must not settle the message itself.
type MessageHandler func(ctx context.Context, msg Message) Disposition

// Broker is the capability surface the relay needs from the messaging substrate.
type Broker interface {
	// Publish enqueues body on queue. replyTo may be empty.
	Publish(ctx context.Context, queue string, body []byte, correlationID, replyTo string) error
	// ConsumeMatching waits for the message carrying correlationID on queue; it fails with
	// correlation.ErrTimeout once timeout elapses.
	ConsumeMatching(ctx context.Context, queue, correlationID string, timeout time.Duration) ([]byte, error)
	// Consume runs handler for every message on queue until ctx is cancelled.
	Consume(ctx context.Context, queue, consumerTag string, workers int, handler MessageHandler) error
}
