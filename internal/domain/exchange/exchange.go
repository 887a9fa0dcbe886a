package exchange

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrCorrelationRequired    = errors.New("correlation id is required")
	ErrInvalidStateTransition = errors.New("invalid exchange state transition")
	ErrAlreadySettled         = errors.New("exchange already settled")
)

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Exchange tracks a single inbound request through the relay protocol.
// It lives only for the duration of the handling of one message.
type Exchange struct {
	CorrelationID string
	RequestID     string
	MethodName    string
	PumpID        int64
	Bypass        bool

	State  State
	Reason string // set when the exchange ends TimedOut, Rejected or Nacked

	ReceivedAt time.Time
	SettledAt  time.Time
	History    []Transition
}

// New starts an exchange in RECEIVED state.
func New(correlationID string, now time.Time) (*Exchange, error) {
	if correlationID = strings.TrimSpace(correlationID); correlationID == "" {
		return nil, ErrCorrelationRequired
	}
	return &Exchange{
		CorrelationID: correlationID,
		State:         StateReceived,
		ReceivedAt:    now.UTC(),
	}, nil
}

// Advance moves the exchange to next, validating the transition.
func (e *Exchange) Advance(next State, now time.Time) error {
	if e.State.Terminal() {
		return ErrAlreadySettled
	}
	if !e.State.CanTransitionTo(next) {
		return ErrInvalidStateTransition
	}

	now = now.UTC()
	e.History = append(e.History, Transition{From: e.State, To: next, At: now})
	e.State = next
	if next.Terminal() {
		e.SettledAt = now
	}
	return nil
}

// Fail moves the exchange to a failure state and keeps the first reason given.
func (e *Exchange) Fail(next State, reason string, now time.Time) error {
	if err := e.Advance(next, now); err != nil {
		return err
	}
	if e.Reason == "" {
		e.Reason = strings.TrimSpace(reason)
	}
	return nil
}

// Acked reports whether the inbound message was acknowledged.
func (e *Exchange) Acked() bool {
	return e.State == StateAcked
}

// Duration is the time from receipt to settlement (or zero while in flight).
func (e *Exchange) Duration() time.Duration {
	if e.SettledAt.IsZero() {
		return 0
	}
	return e.SettledAt.Sub(e.ReceivedAt)
}

// Outcome is the last non-terminal state reached, i.e. why the message was settled the way it was.
func (e *Exchange) Outcome() State {
	for i := len(e.History) - 1; i >= 0; i-- {
		if !e.History[i].To.Terminal() {
			return e.History[i].To
		}
	}
	return StateReceived
}
