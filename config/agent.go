package config

import "github.com/voiceagent/runtime/types"

// ToAgentConfig converts the configured defaults into the types.AgentConfig
// every job runs with; no per-job override is merged in. Tools are attached
// separately by the dispatcher since they are registered in code, not
// configuration.
func (a AgentDefaults) ToAgentConfig() types.AgentConfig {
	var adapt *types.VoiceAdaptationSpec
	if a.VoiceAdaptationEnabled {
		spec := types.DefaultVoiceAdaptationSpec()
		adapt = &spec
	}

	return types.AgentConfig{
		Instructions: a.Instructions,
		LLM: types.LLMSpec{
			Model:       a.LLMModel,
			Temperature: a.LLMTemperature,
			Timeout:     a.LLMTimeout,
		},
		STT: types.STTSpec{
			Model:         a.STTModel,
			Language:      a.STTLanguage,
			EndpointingMs: a.STTEndpointingMs,
		},
		TTS: types.TTSSpec{
			Model:   a.TTSModel,
			VoiceID: a.TTSVoiceID,
		},
		VAD:                     types.VADSpec{Model: a.VADModel},
		VoiceAdaptation:         adapt,
		InterruptionThresholdMs: a.InterruptionThresholdMs,
		WaitForGreeting:         a.WaitForGreeting,
	}
}
