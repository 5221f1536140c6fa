package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTerminalState     = errors.New("peer already in terminal state")
	ErrIllegalTransition = errors.New("illegal peer state transition")
)

// PeerState is the signaling state of one peer session.
type PeerState uint8

const (
	StateNew PeerState = iota
	StateInitiating
	StateConnecting
	StateAlerting
	StateIncoming
	StateConnected
	StateDisconnected
	StateFailed
	StateEnded
)

var stateNames = [...]string{
	StateNew:          "new",
	StateInitiating:   "initiating",
	StateConnecting:   "connecting",
	StateAlerting:     "alerting",
	StateIncoming:     "incoming",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateFailed:       "failed",
	StateEnded:        "ended",
}

func (s PeerState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

func (s PeerState) IsTerminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateEnded
}

// terminal transitions are allowed from every live state.
var transitions = map[PeerState][]PeerState{
	StateNew:        {StateInitiating, StateIncoming},
	StateInitiating: {StateConnecting},
	StateConnecting: {StateAlerting, StateConnected},
	StateAlerting:   {StateConnected},
	StateIncoming:   {StateConnecting, StateConnected},
	StateConnected:  {},
}

// Transition validates s -> to. It is the only place peer states change.
func (s PeerState) Transition(to PeerState) (PeerState, error) {
	if s.IsTerminal() {
		return s, fmt.Errorf("%w: %s -> %s", ErrTerminalState, s, to)
	}
	if to.IsTerminal() {
		return to, nil
	}
	for _, next := range transitions[s] {
		if next == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, to)
}

func (s PeerState) CanTransition(to PeerState) bool {
	_, err := s.Transition(to)
	return err == nil
}
