// Package ports defines the narrow streaming interfaces a Session
// orchestrates: speech-to-text, the LLM, text-to-speech, and voice
// activity detection (spec.md §4.9). Concrete adapters live in
// providers/; ports has no knowledge of any specific vendor.
//
// Every stream is a producer goroutine feeding a bounded channel that the
// Session's single orchestration goroutine drains. Two backpressure
// policies are used, matched to what can tolerate loss:
//
//   - InboundAudioBufferSize: inbound microphone audio is bounded and
//     drop-oldest. A dropped frame degrades transcription briefly; a
//     blocked producer would stall the whole call.
//   - StreamBufferSize: LLM tokens and STT events are bounded and
//     block-producer. Losing a token or transcript event corrupts the
//     conversation, so a slow consumer must backpressure the provider's
//     read loop instead of dropping.
package ports

// InboundAudioBufferSize is the drop-oldest bound for inbound audio frame
// channels (spec.md §4.9).
const InboundAudioBufferSize = 50

// StreamBufferSize is the block-producer bound for the Session's event
// queue (which carries STT events and LLM tokens) and its outbound TTS
// audio channel (spec.md §4.9).
const StreamBufferSize = 32
