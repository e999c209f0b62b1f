package session

import (
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/tools"
	"github.com/voiceagent/runtime/types"
)

// eventKind discriminates the payload carried by an event.
type eventKind int

const (
	evGreeting eventKind = iota
	evVAD
	evSTT
	evTick
	evLLMToken
	evLLMError
	evToolResults
	evTTSProgress
	evTTSError
	evParticipantLeft
	evEndImmediate
	evEndPending
)

// event is the single unit the orchestrator goroutine consumes. turnSeq
// ties LLM/tool/TTS-derived events back to the turn that spawned them, so
// a stale event from a turn already cancelled by barge-in is dropped
// instead of corrupting the current turn's state.
type event struct {
	kind    eventKind
	turnSeq uint64

	vad ports.VADEvent
	stt ports.STTEvent

	llmToken ports.LLMToken
	llmErr   error

	toolResults []tools.Result

	ttsFirstByte bool
	ttsFinal     bool
	ttsErr       error

	endReason types.JobOutcomeReason
}
