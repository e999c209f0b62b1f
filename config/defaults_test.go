package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, DispatcherConfig{}, cfg.Dispatcher)
	assert.NotEqual(t, SIPConfig{}, cfg.SIP)
	assert.NotEqual(t, AgentDefaults{}, cfg.Agent)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, STTConfig{}, cfg.STT)
	assert.NotEqual(t, TTSConfig{}, cfg.TTS)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultDispatcherConfig(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	assert.Equal(t, 32, cfg.MaxConcurrentJobs)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectMinDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 20*time.Second, cfg.DrainTimeout)
}

func TestDefaultSIPConfig(t *testing.T) {
	cfg := DefaultSIPConfig()
	assert.Equal(t, 30*time.Second, cfg.DialTimeout)
}

func TestDefaultAgentDefaults(t *testing.T) {
	cfg := DefaultAgentDefaults()
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.InDelta(t, 0.7, cfg.LLMTemperature, 0.001)
	assert.Equal(t, "nova-2", cfg.STTModel)
	assert.Equal(t, 100, cfg.InterruptionThresholdMs)
	assert.False(t, cfg.WaitForGreeting)
	assert.True(t, cfg.VoiceAdaptationEnabled)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Empty(t, cfg.Addr)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "openai", cfg.Provider)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, 20*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestDefaultSTTConfig(t *testing.T) {
	cfg := DefaultSTTConfig()
	assert.Equal(t, "deepgram", cfg.Provider)
}

func TestDefaultTTSConfig(t *testing.T) {
	cfg := DefaultTTSConfig()
	assert.Equal(t, "elevenlabs", cfg.Provider)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "voiceagent", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
