package types

import (
	"encoding/json"
	"time"
)

// LLMSpec configures the LLM port for one agent config.
type LLMSpec struct {
	Model       string        `json:"model" yaml:"model"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// STTSpec configures the STT port.
type STTSpec struct {
	Model         string        `json:"model" yaml:"model"`
	Language      string        `json:"language" yaml:"language"`
	EndpointingMs time.Duration `json:"endpointing_ms" yaml:"endpointing_ms"`
}

// TTSSpec configures the TTS port. Speed and Emotions are optional and are
// normally left zero in static config; the session orchestrator overlays
// per-turn values onto a copy before opening a synthesis stream, carrying
// the voiceadapt package's decision through to the provider adapter's
// vendor-specific parameter mapping (SPEC_FULL.md §4.6).
type TTSSpec struct {
	Model    string             `json:"model" yaml:"model"`
	VoiceID  string             `json:"voice_id" yaml:"voice_id"`
	Speed    float64            `json:"speed,omitempty" yaml:"speed,omitempty"`
	Emotions map[string]float64 `json:"emotions,omitempty" yaml:"emotions,omitempty"`
}

// VADSpec configures the VAD port.
type VADSpec struct {
	Model string `json:"model" yaml:"model"`
}

// VoiceAdaptationSpec configures the Voice Adaptation Engine (spec.md §4.6).
type VoiceAdaptationSpec struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	RateLimitSec    float64 `json:"rate_limit_seconds" yaml:"rate_limit_seconds"`
	MemoryLimit     int     `json:"memory_limit" yaml:"memory_limit"`
	HistoryInfluence float64 `json:"history_influence" yaml:"history_influence"`
}

// DefaultVoiceAdaptationSpec matches spec.md §4.6's defaults.
func DefaultVoiceAdaptationSpec() VoiceAdaptationSpec {
	return VoiceAdaptationSpec{
		Enabled:          true,
		RateLimitSec:     2.0,
		MemoryLimit:      20,
		HistoryInfluence: 0.3,
	}
}

// ToolSpec declares one function tool available to the LLM (spec.md §4.5).
// ParameterSchema is a JSON-schema document describing the tool's
// arguments. The handler function itself is registered in code against
// this Name by the tools package, not carried on this struct, so
// AgentConfig stays plain-data and round-trips through JSON/YAML.
type ToolSpec struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	ParameterSchema  json.RawMessage `json:"parameter_schema"`
	RateLimitPerMin  int             `json:"rate_limit_per_min,omitempty"`
	Timeout          time.Duration   `json:"timeout,omitempty"`
}

// AgentConfig is built from the bundled defaults and used unchanged for
// every job apart from its tool specs; no per-job override is applied.
type AgentConfig struct {
	Instructions    string               `json:"instructions" yaml:"instructions"`
	LLM             LLMSpec              `json:"llm" yaml:"llm"`
	STT             STTSpec              `json:"stt" yaml:"stt"`
	TTS             TTSSpec              `json:"tts" yaml:"tts"`
	VAD             VADSpec              `json:"vad" yaml:"vad"`
	VoiceAdaptation *VoiceAdaptationSpec `json:"voice_adaptation,omitempty" yaml:"voice_adaptation"`
	Tools           []ToolSpec           `json:"tools,omitempty" yaml:"tools"`

	// InterruptionThresholdMs and WaitForGreeting are recovered from
	// original_source (SPEC_FULL.md §3).
	InterruptionThresholdMs int  `json:"interruption_threshold_ms" yaml:"interruption_threshold_ms"`
	WaitForGreeting         bool `json:"wait_for_greeting" yaml:"wait_for_greeting"`
}

// Merge overlays non-zero fields of override onto a copy of the bundled
// default config. The dispatcher does not call it: jobs run with the
// bundled defaults.
func (c AgentConfig) Merge(override AgentConfig) AgentConfig {
	merged := c
	if override.Instructions != "" {
		merged.Instructions = override.Instructions
	}
	if override.LLM.Model != "" {
		merged.LLM = override.LLM
	}
	if override.STT.Model != "" {
		merged.STT = override.STT
	}
	if override.TTS.Model != "" {
		merged.TTS = override.TTS
	}
	if override.VAD.Model != "" {
		merged.VAD = override.VAD
	}
	if override.VoiceAdaptation != nil {
		merged.VoiceAdaptation = override.VoiceAdaptation
	}
	if len(override.Tools) > 0 {
		merged.Tools = override.Tools
	}
	if override.InterruptionThresholdMs > 0 {
		merged.InterruptionThresholdMs = override.InterruptionThresholdMs
	}
	return merged
}
