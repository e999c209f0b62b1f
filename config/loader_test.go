package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 9092, cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, 32, cfg.Dispatcher.MaxConcurrentJobs)

	assert.Equal(t, "gpt-4o-mini", cfg.Agent.LLMModel)
	assert.Equal(t, 0.7, cfg.Agent.LLMTemperature)
	assert.Equal(t, 100, cfg.Agent.InterruptionThresholdMs)
	assert.True(t, cfg.Agent.VoiceAdaptationEnabled)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, "gpt-4o-mini", cfg.Agent.LLMModel)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  metrics_port: 8888
  health_port: 8889

dispatcher:
  max_concurrent_jobs: 20

agent:
  llm_model: "gpt-4o"
  llm_temperature: 0.5
  interruption_threshold_ms: 150

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.MetricsPort)
	assert.Equal(t, 8889, cfg.Server.HealthPort)
	assert.Equal(t, 20, cfg.Dispatcher.MaxConcurrentJobs)

	assert.Equal(t, "gpt-4o", cfg.Agent.LLMModel)
	assert.Equal(t, 0.5, cfg.Agent.LLMTemperature)
	assert.Equal(t, 150, cfg.Agent.InterruptionThresholdMs)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"VOICEAGENT_SERVER_METRICS_PORT":          "7777",
		"VOICEAGENT_DISPATCHER_MAX_CONCURRENT_JOBS": "15",
		"VOICEAGENT_AGENT_LLM_MODEL":               "gpt-4o-env",
		"VOICEAGENT_AGENT_LLM_TEMPERATURE":         "0.9",
		"VOICEAGENT_REDIS_ADDR":                    "env-redis:6379",
		"VOICEAGENT_LOG_LEVEL":                     "warn",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.MetricsPort)
	assert.Equal(t, 15, cfg.Dispatcher.MaxConcurrentJobs)
	assert.Equal(t, "gpt-4o-env", cfg.Agent.LLMModel)
	assert.Equal(t, 0.9, cfg.Agent.LLMTemperature)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  metrics_port: 8888
agent:
  llm_model: "yaml-model"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	os.Setenv("VOICEAGENT_SERVER_METRICS_PORT", "9999")
	defer os.Unsetenv("VOICEAGENT_SERVER_METRICS_PORT")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.MetricsPort)
	assert.Equal(t, "yaml-model", cfg.Agent.LLMModel)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("MYAPP_SERVER_METRICS_PORT", "6666")
	defer os.Unsetenv("MYAPP_SERVER_METRICS_PORT")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.MetricsPort)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.MetricsPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	os.Setenv("VOICEAGENT_SERVER_METRICS_PORT", "80")
	defer os.Unsetenv("VOICEAGENT_SERVER_METRICS_PORT")

	_, err := NewLoader().WithValidator(validator).Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9091, cfg.Server.MetricsPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  metrics_port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	_, err = NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}, wantErr: false},
		{name: "invalid metrics port (negative)", modify: func(c *Config) { c.Server.MetricsPort = -1 }, wantErr: true},
		{name: "invalid metrics port (too large)", modify: func(c *Config) { c.Server.MetricsPort = 70000 }, wantErr: true},
		{name: "invalid max concurrent jobs", modify: func(c *Config) { c.Dispatcher.MaxConcurrentJobs = 0 }, wantErr: true},
		{name: "invalid temperature (negative)", modify: func(c *Config) { c.Agent.LLMTemperature = -0.5 }, wantErr: true},
		{name: "invalid temperature (too high)", modify: func(c *Config) { c.Agent.LLMTemperature = 3.0 }, wantErr: true},
		{name: "invalid interruption threshold", modify: func(c *Config) { c.Agent.InterruptionThresholdMs = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  metrics_port: 9091
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 9091, cfg.Server.MetricsPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	os.Setenv("VOICEAGENT_AGENT_LLM_MODEL", "env-only-model")
	defer os.Unsetenv("VOICEAGENT_AGENT_LLM_MODEL")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-only-model", cfg.Agent.LLMModel)
}

func TestAgentDefaults_ToAgentConfig(t *testing.T) {
	a := DefaultAgentDefaults()
	ac := a.ToAgentConfig()

	assert.Equal(t, a.LLMModel, ac.LLM.Model)
	assert.Equal(t, a.InterruptionThresholdMs, ac.InterruptionThresholdMs)
	require.NotNil(t, ac.VoiceAdaptation)
	assert.True(t, ac.VoiceAdaptation.Enabled)

	a.VoiceAdaptationEnabled = false
	ac2 := a.ToAgentConfig()
	assert.Nil(t, ac2.VoiceAdaptation)
}
