package ports

import (
	"context"
	"time"

	"github.com/voiceagent/runtime/types"
)

// AudioFrame is one chunk of PCM audio moving between the media transport
// and a provider stream. The room/media server owns codec and jitter
// handling (spec.md §1 Non-goals); this is already decoded PCM.
type AudioFrame struct {
	Data         []byte
	SampleRateHz int
	Channels     int
	Timestamp    time.Time
}

// STTEventKind distinguishes the events an STT stream emits.
type STTEventKind string

const (
	STTEventSpeechStarted STTEventKind = "speech_started"
	STTEventPartial       STTEventKind = "partial"
	STTEventFinal         STTEventKind = "final"
	STTEventSpeechEnded   STTEventKind = "speech_ended"
)

// STTEvent is one event from a speech-to-text stream. Text and
// Confidence are populated for Partial and Final; SpeechStarted/Ended
// carry no text (spec.md §4.3 uses these to drive the turn detector).
type STTEvent struct {
	Kind       STTEventKind
	Text       string
	Confidence float64
	Timestamp  time.Time
}

// STTStream is one active speech-to-text session over one call.
// SendAudio must not block the caller for meaningful time; a provider
// backed by a network socket should buffer internally rather than push
// backpressure onto the Session's audio-forwarding goroutine.
type STTStream interface {
	SendAudio(frame AudioFrame) error
	Events() <-chan STTEvent
	Close() error
}

// STTProvider starts a new STTStream for a call using the job's STT
// configuration (spec.md §3 AgentConfig.STT).
type STTProvider interface {
	Name() string
	StartStream(ctx context.Context, spec types.STTSpec) (STTStream, error)
}

// LLMToken is one increment of a streamed LLM response. Done marks the
// last token of a turn; ToolCalls is populated only on the Done token
// when the model chose to call tools instead of (or in addition to)
// speaking (spec.md §4.5).
type LLMToken struct {
	Text      string
	ToolCalls []types.ToolCall
	Done      bool
}

// LLMStream is one in-flight chat completion request.
type LLMStream interface {
	Tokens() <-chan LLMToken
	Close() error
}

// LLMProvider issues streaming chat completions against the configured
// chat context and tool set (spec.md §4.5).
type LLMProvider interface {
	Name() string
	StreamChat(ctx context.Context, spec types.LLMSpec, messages []types.ChatMessage, tools []types.ToolSpec) (LLMStream, error)
}

// TTSAudioChunk is one chunk of synthesized audio. IsFinal marks the last
// chunk for the text that was submitted.
type TTSAudioChunk struct {
	Data    []byte
	IsFinal bool
}

// TTSStream synthesizes audio for text pushed in incrementally, so the
// Session can start speaking before the LLM has finished the sentence
// (spec.md §4.9 streaming pipeline).
type TTSStream interface {
	Audio() <-chan TTSAudioChunk
	Close() error
}

// TTSProvider starts a streaming synthesis session. text is closed by the
// caller once the LLM turn completes; the provider must flush and close
// Audio() once text is drained.
type TTSProvider interface {
	Name() string
	SynthesizeStream(ctx context.Context, spec types.TTSSpec, text <-chan string) (TTSStream, error)
}

// VADEvent reports a voice-activity transition on the inbound audio
// stream, independent of (and generally faster than) STT finals
// (spec.md §4.3).
type VADEvent struct {
	SpeechStarted bool
	SpeechEnded   bool
	Timestamp     time.Time
}

// VADProvider watches an inbound audio stream for speech boundaries.
type VADProvider interface {
	Name() string
	Detect(ctx context.Context, spec types.VADSpec, audio <-chan AudioFrame) (<-chan VADEvent, error)
}
