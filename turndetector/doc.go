// Package turndetector decides when a user has finished a conversational
// turn and when the user has interrupted the agent (spec.md §4.3).
//
// It combines two signals: VAD speech-start/stop events (fast, noisy) and
// STT final transcripts (slower, more certain). An STT final short-circuits
// the hangover wait that would otherwise follow a VAD speech-ended event.
// A debounce window after each end-of-turn decision absorbs duplicate
// signals arriving close together from the two sources.
package turndetector
