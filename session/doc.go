// Package session implements the per-call orchestrator: the eight-state
// Session State Machine of spec.md §4.4, generalized from
// agent/voice/realtime.go's four-state VoiceAgent/VoiceSession.
//
// A Session owns one ChatContext, one turndetector.Detector, one
// voiceadapt.Manager, and the provider streams for exactly one call. A
// single orchestration goroutine (run) consumes a single event queue; one
// goroutine per open producer (inbound audio forwarding, the VAD stream,
// the STT stream, each in-flight LLM round, each in-flight TTS stream)
// feeds that queue, so every state transition and every ChatContext
// mutation happens on one goroutine without further locking (spec.md §5).
//
// States: Idle, Listening, UserSpeaking, Thinking, Speaking, ToolRunning,
// Ending, Terminated (types.SessionState, types.CanTransition). Turn
// detection (hangover timer, STT-final short-circuit, barge-in) is
// entirely delegated to turndetector.Detector; this package only acts on
// the Decision values it returns.
//
// Audio data does not flow through the event queue: the TTS-forwarding
// goroutine writes chunks directly to the Session's outbound audio
// channel and only enqueues a small bookkeeping event (first-byte
// timestamp, final flag), so a slow external audio consumer blocks that
// goroutine, never the orchestrator (spec.md §4.9 backpressure policy).
package session
