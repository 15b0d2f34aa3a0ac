package session

import (
	"sync"

	"github.com/seanesla/kanari-sub001/log"
)

// State is the orchestrator's conversation phase.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateConnecting
	StateReady
	StateAIGreeting
	StateListening
	StateUserSpeaking
	StateProcessing
	StateAssistantSpeaking
	StateEnding
	StateComplete
	StateError
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateInitializing:      "initializing",
	StateConnecting:        "connecting",
	StateReady:             "ready",
	StateAIGreeting:        "ai_greeting",
	StateListening:         "listening",
	StateUserSpeaking:      "user_speaking",
	StateProcessing:        "processing",
	StateAssistantSpeaking: "assistant_speaking",
	StateEnding:            "ending",
	StateComplete:          "complete",
	StateError:             "error",
}

func (s State) String() string { return stateNames[s] }

// Active reports whether the session is live: connected through to the
// user/assistant exchange loop.
func (s State) Active() bool {
	return s >= StateReady && s <= StateAssistantSpeaking
}

// Event drives the state machine.
type Event int

const (
	EventStart Event = iota
	EventResourcesReady
	EventConnected
	EventGreet
	EventAssistantOutput
	EventPlaybackDone
	EventInterrupt
	EventSilence
	EventUserSpeech
	EventUserDone
	EventEnd
	EventComplete
	EventFail
	EventReset
)

var eventNames = map[Event]string{
	EventStart:           "start",
	EventResourcesReady:  "resources_ready",
	EventConnected:       "connected",
	EventGreet:           "greet",
	EventAssistantOutput: "assistant_output",
	EventPlaybackDone:    "playback_done",
	EventInterrupt:       "interrupt",
	EventSilence:         "silence",
	EventUserSpeech:      "user_speech",
	EventUserDone:        "user_done",
	EventEnd:             "end",
	EventComplete:        "complete",
	EventFail:            "fail",
	EventReset:           "reset",
}

func (e Event) String() string { return eventNames[e] }

// transitions is the legal-transition table. Events absent from the current
// state's row are ignored; EventFail and EventReset are handled globally.
var transitions = map[State]map[Event]State{
	StateIdle: {EventStart: StateInitializing},
	StateInitializing: {
		EventResourcesReady: StateConnecting,
		EventEnd:            StateEnding,
	},
	StateConnecting: {
		EventConnected: StateReady,
		EventEnd:       StateEnding,
	},
	StateReady: {
		EventGreet: StateAIGreeting,
		EventEnd:   StateEnding,
	},
	StateAIGreeting: {
		EventAssistantOutput: StateAssistantSpeaking,
		EventPlaybackDone:    StateListening,
		EventInterrupt:       StateListening,
		EventSilence:         StateListening,
		EventEnd:             StateEnding,
	},
	StateListening: {
		EventAssistantOutput: StateAssistantSpeaking,
		EventUserSpeech:      StateUserSpeaking,
		EventEnd:             StateEnding,
	},
	StateUserSpeaking: {
		EventUserDone:        StateProcessing,
		EventAssistantOutput: StateAssistantSpeaking,
		EventEnd:             StateEnding,
	},
	StateProcessing: {
		EventAssistantOutput: StateAssistantSpeaking,
		EventUserSpeech:      StateUserSpeaking,
		EventSilence:         StateListening,
		EventEnd:             StateEnding,
	},
	StateAssistantSpeaking: {
		EventPlaybackDone: StateListening,
		EventInterrupt:    StateListening,
		EventUserSpeech:   StateUserSpeaking,
		EventEnd:          StateEnding,
	},
	StateEnding: {EventComplete: StateComplete},
	StateError:  {EventEnd: StateEnding},
}

// Machine is the explicit finite-state machine behind the orchestrator.
// Dispatch applies one event and reports the resulting state and whether
// anything changed; illegal events are no-ops.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{onChange: onChange}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Dispatch(ev Event, cause string) (State, bool) {
	m.mu.Lock()
	from := m.state
	to, ok := m.resolve(from, ev)
	if !ok || to == from {
		m.mu.Unlock()
		return from, false
	}
	m.state = to
	cb := m.onChange
	m.mu.Unlock()

	log.StateTransition(from.String(), to.String(), cause)
	if cb != nil {
		cb(from, to)
	}
	return to, true
}

func (m *Machine) resolve(from State, ev Event) (State, bool) {
	switch ev {
	case EventReset:
		return StateIdle, true
	case EventFail:
		if from == StateComplete {
			return from, false
		}
		return StateError, true
	}
	to, ok := transitions[from][ev]
	return to, ok
}

// force jumps directly to a state, bypassing the table. Only session
// resume uses it, to land in listening without replaying the greeting
// sequence.
func (m *Machine) force(to State, cause string) {
	m.mu.Lock()
	from := m.state
	m.state = to
	cb := m.onChange
	m.mu.Unlock()
	if from == to {
		return
	}
	log.StateTransition(from.String(), to.String(), cause)
	if cb != nil {
		cb(from, to)
	}
}
