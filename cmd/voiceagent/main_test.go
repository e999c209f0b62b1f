package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/tools"
	"github.com/voiceagent/runtime/types"
)

func TestAuthFailure_DetectsAuthenticationError(t *testing.T) {
	err := fmt.Errorf("register worker: %w", types.NewError(types.ErrAuthentication, "bad credentials").WithFatal(true))
	assert.True(t, authFailure(err))
}

func TestAuthFailure_IgnoresOtherStructuredErrors(t *testing.T) {
	err := fmt.Errorf("subscribe to jobs: %w", types.NewError(types.ErrUpstreamError, "connection refused").WithRetryable(true))
	assert.False(t, authFailure(err))
}

func TestAuthFailure_IgnoresPlainErrors(t *testing.T) {
	assert.False(t, authFailure(errors.New("boom")))
	assert.False(t, authFailure(nil))
}

func TestInitLogger_BuildsForEveryLevelAndFormat(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		for _, format := range []string{"json", "console"} {
			cfg := config.LogConfig{Level: level, Format: format}
			logger := initLogger(cfg)
			require.NotNil(t, logger)
			logger.Sync()
		}
	}
}

func TestInitLogger_DefaultsOutputPathToStdout(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "info", Format: "json"})
	require.NotNil(t, logger)
}

func TestBuildDispatcherDeps_WiresEveryDependency(t *testing.T) {
	cfg := &config.Config{
		Server:     config.ServerConfig{MetricsPort: 9090, HealthPort: 8081, ShutdownTimeout: time.Second},
		Dispatcher: config.DispatcherConfig{JobServerURL: "ws://localhost:8000/worker", MaxConcurrentJobs: 2},
		SIP:        config.SIPConfig{TrunkID: "trunk-1", FromNumber: "+15550000000"},
		Agent:      config.AgentDefaults{Instructions: "be helpful", LLMTemperature: 0.7},
		Redis:      config.RedisConfig{},
		LLM:        config.LLMConfig{Provider: "openai", APIKey: "test-key", Timeout: 30 * time.Second},
		STT:        config.STTConfig{Provider: "deepgram", APIKey: "test-key"},
		TTS:        config.TTSConfig{Provider: "elevenlabs", APIKey: "test-key"},
		Log:        config.LogConfig{Level: "info", Format: "json"},
	}
	logger := initLogger(cfg.Log)

	deps, err := buildDispatcherDeps(cfg, logger)
	require.NoError(t, err)

	assert.NotNil(t, deps.Control)
	assert.NotNil(t, deps.Room)
	assert.NotNil(t, deps.Dialer)
	assert.NotNil(t, deps.Metrics)
	assert.NotNil(t, deps.SessionDeps.STT)
	assert.NotNil(t, deps.SessionDeps.LLM)
	assert.NotNil(t, deps.SessionDeps.TTS)
	assert.NotNil(t, deps.SessionDeps.VAD)
	require.NotNil(t, deps.ToolsFactory)

	registry, executor, err := deps.ToolsFactory(tools.DialInfo{}, tools.NoopSessionController{}, "room-1", "phone_user")
	require.NoError(t, err)
	assert.NotNil(t, registry)
	assert.NotNil(t, executor)

	assert.True(t, registry.Has("transferCall"), "builtin tools must be registered")
	assert.True(t, registry.Has("endCall"), "builtin tools must be registered")
	assert.True(t, registry.Has("detectedAnsweringMachine"), "builtin tools must be registered")
	assert.True(t, registry.Has("lookUpAvailability"), "supplemented tools must be registered")
	assert.True(t, registry.Has("confirmAppointment"), "supplemented tools must be registered")
}
