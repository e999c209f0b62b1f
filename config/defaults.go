package config

import "time"

// DefaultConfig returns the worker's baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Dispatcher: DefaultDispatcherConfig(),
		SIP:        DefaultSIPConfig(),
		Agent:      DefaultAgentDefaults(),
		Redis:      DefaultRedisConfig(),
		LLM:        DefaultLLMConfig(),
		STT:        DefaultSTTConfig(),
		TTS:        DefaultTTSConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsPort:     9091,
		HealthPort:      9092,
		ShutdownTimeout: 15 * time.Second,
	}
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrentJobs: 32,
		ReconnectMinDelay: 500 * time.Millisecond,
		ReconnectMaxDelay: 30 * time.Second,
		DrainTimeout:      20 * time.Second,
	}
}

func DefaultSIPConfig() SIPConfig {
	return SIPConfig{
		DialTimeout: 30 * time.Second,
	}
}

func DefaultAgentDefaults() AgentDefaults {
	return AgentDefaults{
		Instructions:            "You are a helpful voice assistant.",
		LLMModel:                "gpt-4o-mini",
		LLMTemperature:          0.7,
		LLMTimeout:              20 * time.Second,
		STTModel:                "nova-2",
		STTLanguage:             "en",
		STTEndpointingMs:        500 * time.Millisecond,
		TTSModel:                "eleven_turbo_v2",
		VADModel:                "silero",
		InterruptionThresholdMs: 100,
		WaitForGreeting:         false,
		VoiceAdaptationEnabled:  true,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:   "openai",
		Timeout:    20 * time.Second,
		MaxRetries: 3,
	}
}

func DefaultSTTConfig() STTConfig {
	return STTConfig{Provider: "deepgram"}
}

func DefaultTTSConfig() TTSConfig {
	return TTSConfig{Provider: "elevenlabs"}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "voiceagent",
		SampleRate:   0.1,
	}
}
