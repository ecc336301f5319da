package session

import (
	"errors"
	"fmt"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectPending
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectPending:
		return "reconnect-pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Trigger int

const (
	TriggerStart    Trigger = iota // first connect
	TriggerOpened                  // transport handshake succeeded
	TriggerLost                    // transport closed or failed
	TriggerRetry                   // reconnect delay elapsed
	TriggerTeardown                // explicit close, or the session context ended
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerOpened:
		return "opened"
	case TriggerLost:
		return "lost"
	case TriggerRetry:
		return "retry"
	case TriggerTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

var ErrInvalidTransition = errors.New("invalid session transition")

// Next returns the state reached from s on t. It has no side effects.
func Next(s State, t Trigger) (State, error) {
	if t == TriggerTeardown {
		return Disconnected, nil
	}
	switch {
	case s == Disconnected && t == TriggerStart:
		return Connecting, nil
	case s == Connecting && t == TriggerOpened:
		return Connected, nil
	case (s == Connecting || s == Connected) && t == TriggerLost:
		return ReconnectPending, nil
	case s == ReconnectPending && t == TriggerRetry:
		return Connecting, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, t)
}
