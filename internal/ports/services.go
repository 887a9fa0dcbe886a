package ports

import (
	"context"

	"pump-control/internal/domain/exchange"
)

// PumpService relays start-pump requests between the backend and the microcontroller manager.
type PumpService interface {
	// HandleMessage runs the relay protocol for one inbound message and returns its disposition.
	HandleMessage(ctx context.Context, msg Message) Disposition
	// StartListening starts the background consumer of the backend request queue.
	// The returned channel is closed once the listener has stopped.
	StartListening(ctx context.Context) <-chan struct{}
}

// ExchangeObserver is notified of every settled exchange. Observe must not block.
type ExchangeObserver interface {
	Observe(ex *exchange.Exchange)
}
