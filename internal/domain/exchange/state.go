package exchange

import (
	"errors"
	"strings"
)

// State is a step of the relay protocol for one inbound message.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateDispatching   State = "DISPATCHING"
	StateAwaitingReply State = "AWAITING_REPLY"
	StateReplied       State = "REPLIED"
	StateTimedOut      State = "TIMED_OUT"
	StateRejected      State = "REJECTED"
	StateAcked         State = "ACKED"
	StateNacked        State = "NACKED"
)

var ErrInvalidState = errors.New("invalid exchange state")

// ParseState normalizes (uppercases+trims) and validates a state string.
func ParseState(in string) (State, error) {
	state := State(strings.ToUpper(strings.TrimSpace(in)))
	if state.Valid() {
		return state, nil
	}
	return "", ErrInvalidState
}

// Valid reports whether state is one of the allowed constants.
func (state State) Valid() bool {
	switch state {
	case StateReceived, StateDispatching, StateAwaitingReply, StateReplied,
		StateTimedOut, StateRejected, StateAcked, StateNacked:
		return true
	default:
		return false
	}
}

// String returns the string representation of the State.
func (state State) String() string {
	return string(state)
}

// CanTransitionTo specifies if the state can transition to the next state.
func (state State) CanTransitionTo(next State) bool {
	switch state {
	case StateReceived:
		return next == StateDispatching || next == StateRejected

	case StateDispatching:
		// Replied directly when the request bypasses the manager
		return next == StateAwaitingReply || next == StateReplied || next == StateRejected

	case StateAwaitingReply:
		return next == StateReplied || next == StateTimedOut || next == StateRejected

	case StateReplied:
		// Nacked when the backend response cannot be published
		return next == StateAcked || next == StateNacked

	case StateTimedOut, StateRejected:
		return next == StateNacked

	default:
		return false
	}
}

// Terminal indicates that the inbound message has been settled with the broker.
func (state State) Terminal() bool {
	return state == StateAcked || state == StateNacked
}
