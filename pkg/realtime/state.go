package realtime

import (
	"fmt"

	"github.com/JordyChamba/feedsync/pkg/constants"
)

type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateSubscribed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Live reports whether events can arrive in this state.
func (s State) Live() bool {
	return s == StateSubscribed
}

func (s State) TransitionTo(
	newState State,
) (State, error) {
	switch s {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateDisconnected:
			return newState, nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateReconnecting, StateDisconnected:
			return newState, nil
		}
	case StateConnected:
		switch newState {
		case StateSubscribed, StateReconnecting, StateDisconnected:
			return newState, nil
		}
	case StateSubscribed:
		switch newState {
		case StateReconnecting, StateDisconnected:
			return newState, nil
		}
	case StateReconnecting:
		switch newState {
		case StateConnecting, StateDisconnected:
			return newState, nil
		}
	}

	return StateUnknown, fmt.Errorf("%w from %v to %v", constants.ErrInvalidStateTransition, s, newState)
}

// StateChange is passed to state listeners. Err is the error that caused
// the change, if any.
type StateChange struct {
	From State
	To   State
	Err  error
}

type StateListener func(StateChange)
