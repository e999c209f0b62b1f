// Package voiceadapt maps a piece of agent text to human-sounding TTS
// delivery settings before synthesis (spec.md §4.6).
//
// It runs a lightweight lexicon analysis of the text (sentiment, urgency,
// complexity, energy), rate-limits how often the heuristics are allowed to
// move, and blends each decision with the average of the last few recorded
// turns so consecutive responses don't whipsaw between moods. The
// output is a provider-agnostic VoiceSettings plus a small pre-speech delay,
// ported from the lexicon-and-blend approach of a prior Python
// implementation of the same agent behavior.
package voiceadapt
