package lifecycle

import (
	"errors"
	"fmt"
)

// State is the handshake position of a connection. Order matters: states are
// compared with >= to select peers that are "at least" somewhere.
type State int

const (
	StateInvalid State = iota
	StateDisconnecting
	StateDenied
	StateCreated
	StateHelloSent
	StateAwaitingInit2
	StateInitDone
	StateDefinitionsSent
	StateActive
	StateSudoMode
)

var stateNames = map[State]string{
	StateInvalid:         "Invalid",
	StateDisconnecting:   "Disconnecting",
	StateDenied:          "Denied",
	StateCreated:         "Created",
	StateHelloSent:       "HelloSent",
	StateAwaitingInit2:   "AwaitingInit2",
	StateInitDone:        "InitDone",
	StateDefinitionsSent: "DefinitionsSent",
	StateActive:          "Active",
	StateSudoMode:        "SudoMode",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further event is accepted in s.
func (s State) Terminal() bool {
	return s == StateDenied || s == StateDisconnecting || s == StateInvalid
}

type Event int

const (
	EventHello Event = iota
	EventAuthAccept
	EventGotInit2
	EventSetDefinitionsSent
	EventSetClientReady
	EventSudoSuccess
	EventSudoLeave
	EventSetDenied
	EventDisconnect
)

var eventNames = map[Event]string{
	EventHello:              "Hello",
	EventAuthAccept:         "AuthAccept",
	EventGotInit2:           "GotInit2",
	EventSetDefinitionsSent: "SetDefinitionsSent",
	EventSetClientReady:     "SetClientReady",
	EventSudoSuccess:        "SudoSuccess",
	EventSudoLeave:          "SudoLeave",
	EventSetDenied:          "SetDenied",
	EventDisconnect:         "Disconnect",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// transitions is the complete table. Anything missing is a protocol error.
var transitions = map[State]map[Event]State{
	StateCreated: {
		EventHello:      StateHelloSent,
		EventDisconnect: StateDisconnecting,
		EventSetDenied:  StateDenied,
	},
	StateHelloSent: {
		EventAuthAccept: StateAwaitingInit2,
		EventDisconnect: StateDisconnecting,
		EventSetDenied:  StateDenied,
	},
	StateAwaitingInit2: {
		EventGotInit2:   StateInitDone,
		EventDisconnect: StateDisconnecting,
		EventSetDenied:  StateDenied,
	},
	StateInitDone: {
		EventSetDefinitionsSent: StateDefinitionsSent,
		EventDisconnect:         StateDisconnecting,
		EventSetDenied:          StateDenied,
	},
	StateDefinitionsSent: {
		EventSetClientReady: StateActive,
		EventDisconnect:     StateDisconnecting,
		EventSetDenied:      StateDenied,
	},
	StateActive: {
		EventSetDenied:   StateDenied,
		EventDisconnect:  StateDisconnecting,
		EventSudoSuccess: StateSudoMode,
	},
	StateSudoMode: {
		EventSetDenied:  StateDenied,
		EventDisconnect: StateDisconnecting,
		EventSudoLeave:  StateActive,
	},
}

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return s, &StateError{From: s, Event: e}
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownPeer       = errors.New("unknown peer")
)

// StateError is returned for an event the current state does not accept.
// The caller must drop the peer.
type StateError struct {
	PeerID uint64
	From   State
	Event  Event
}

func (e *StateError) Error() string {
	if e.PeerID != 0 {
		return fmt.Sprintf("peer %d: %s on %s: %v", e.PeerID, e.Event, e.From, ErrInvalidTransition)
	}
	return fmt.Sprintf("%s on %s: %v", e.Event, e.From, ErrInvalidTransition)
}

func (e *StateError) Unwrap() error { return ErrInvalidTransition }
