package types

// SessionState is one of the Session State Machine's nodes (spec.md §3,
// §4.4). Terminated is reachable from every state and is terminal.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateListening    SessionState = "listening"
	StateUserSpeaking SessionState = "user_speaking"
	StateThinking     SessionState = "thinking"
	StateSpeaking     SessionState = "speaking"
	StateToolRunning  SessionState = "tool_running"
	StateEnding       SessionState = "ending"
	StateTerminated   SessionState = "terminated"
)

// validTransitions enumerates the state machine's allowed edges
// (spec.md §4.4). "*" sources (Ending, Terminated) are checked specially
// in CanTransition.
var validTransitions = map[SessionState][]SessionState{
	StateIdle:         {StateListening, StateEnding},
	StateListening:    {StateUserSpeaking, StateEnding},
	StateUserSpeaking: {StateThinking, StateListening, StateEnding},
	StateThinking:     {StateSpeaking, StateToolRunning, StateListening, StateEnding},
	StateSpeaking:     {StateListening, StateUserSpeaking, StateEnding},
	StateToolRunning:  {StateThinking, StateEnding},
	StateEnding:       {StateTerminated},
	StateTerminated:   {},
}

// CanTransition reports whether the state machine may move from 'from' to
// 'to'. Every state may transition to Ending (spec.md §3 invariant:
// "Terminated is reachable from every state").
func CanTransition(from, to SessionState) bool {
	if to == StateEnding && from != StateTerminated {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
