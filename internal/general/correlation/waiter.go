// Package correlation implements synchronous wait-for-one-reply on top of a pull-based queue.
//
// A Waiter pulls messages from a Source until one carries the awaited correlation id or the
// deadline passes. Messages for other ids are never handed to the caller: they stay unacknowledged
// while the queue still has unread messages, and are requeued as soon as the queue is drained
// (and again when the wait ends), so a concurrent waiter or another relay instance can claim them.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrTimeout            = errors.New("correlation: no matching reply before deadline")
	ErrAlreadyWaiting     = errors.New("correlation: a waiter is already registered for this queue and id")
	ErrCorrelationMissing = errors.New("correlation: correlation id is required")
)

// TimeoutError is returned when the deadline passes without a match. It matches ErrTimeout.
type TimeoutError struct {
	Queue         string
	CorrelationID string
	Waited        time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout expired after %s: no response received from queue %s for correlation_id %s",
		e.Waited.Round(time.Millisecond), e.Queue, e.CorrelationID)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Delivery is a pulled, not yet settled message.
type Delivery interface {
	CorrelationID() string
	Body() []byte
	Ack() error
	Requeue() error
}

// Source pulls messages off a single queue. Next returns ok=false when the queue is currently empty.
type Source interface {
	Next(ctx context.Context) (d Delivery, ok bool, err error)
}

// Result is the lifecycle stage of an in-flight wait.
type Result string

const (
	ResultPending   Result = "pending"
	ResultDelivered Result = "delivered"
	ResultExpired   Result = "expired"
)

// InFlightWait describes a registered wait.
type InFlightWait struct {
	Queue         string
	CorrelationID string
	Deadline      time.Time
	Result        Result
}

type waitKey struct {
	queue string
	id    string
}

// Waiter matches replies to in-flight requests. One Waiter is shared by every wait of a process;
// it allows at most one wait per (queue, correlation id).
type Waiter struct {
	pollInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	pending map[waitKey]*InFlightWait
}

// NewWaiter creates a Waiter that sleeps pollInterval whenever the queue is drained.
func NewWaiter(pollInterval time.Duration) *Waiter {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Waiter{
		pollInterval: pollInterval,
		now:          time.Now,
		pending:      make(map[waitKey]*InFlightWait),
	}
}

// InFlight returns a snapshot of the registered waits.
func (w *Waiter) InFlight() []InFlightWait {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]InFlightWait, 0, len(w.pending))
	for _, iw := range w.pending {
		out = append(out, *iw)
	}
	return out
}

// Wait blocks until a message with correlationID is pulled from src (it is acknowledged and its
// body returned), the timeout elapses (*TimeoutError), ctx is done, or src fails.
func (w *Waiter) Wait(ctx context.Context, src Source, queue, correlationID string, timeout time.Duration) ([]byte, error) {
	if correlationID == "" {
		return nil, ErrCorrelationMissing
	}

	start := w.now()
	iw, err := w.register(queue, correlationID, start.Add(timeout))
	if err != nil {
		return nil, err
	}
	defer w.unregister(queue, correlationID)

	var held []Delivery
	defer func() { release(held) }()

	for {
		if !w.now().Before(iw.Deadline) {
			w.settle(iw, ResultExpired)
			return nil, &TimeoutError{Queue: queue, CorrelationID: correlationID, Waited: w.now().Sub(start)}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, ok, err := src.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("correlation: pull from %s: %w", queue, err)
		}

		if ok {
			if d.CorrelationID() != correlationID {
				// keep it unacked so the next pull moves past it
				held = append(held, d)
				continue
			}
			if err := d.Ack(); err != nil {
				return nil, fmt.Errorf("correlation: ack reply on %s: %w", queue, err)
			}
			w.settle(iw, ResultDelivered)
			return d.Body(), nil
		}

		// queue drained: hand foreign messages back before sleeping
		release(held)
		held = nil

		if err := w.sleep(ctx, iw.Deadline); err != nil {
			return nil, err
		}
	}
}

func (w *Waiter) register(queue, id string, deadline time.Time) (*InFlightWait, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	k := waitKey{queue: queue, id: id}
	if _, exists := w.pending[k]; exists {
		return nil, ErrAlreadyWaiting
	}
	iw := &InFlightWait{Queue: queue, CorrelationID: id, Deadline: deadline, Result: ResultPending}
	w.pending[k] = iw
	return iw, nil
}

func (w *Waiter) unregister(queue, id string) {
	w.mu.Lock()
	delete(w.pending, waitKey{queue: queue, id: id})
	w.mu.Unlock()
}

func (w *Waiter) settle(iw *InFlightWait, r Result) {
	w.mu.Lock()
	iw.Result = r
	w.mu.Unlock()
}

// sleep waits one poll slice, never past the deadline.
func (w *Waiter) sleep(ctx context.Context, deadline time.Time) error {
	d := w.pollInterval
	if left := deadline.Sub(w.now()); left < d {
		d = left
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// release requeues held deliveries, last first, so a queue that reinserts at the head keeps their order.
// Requeue errors are dropped: unsettled deliveries return to the queue when their channel closes.
func release(held []Delivery) {
	for i := len(held) - 1; i >= 0; i-- {
		_ = held[i].Requeue()
	}
}
