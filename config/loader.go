// Package config loads the worker's configuration from layered sources:
// built-in defaults, an optional YAML file, then environment variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("VOICEAGENT").
//	    Load()
//
// Priority: defaults -> YAML file -> environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the worker process's complete configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" env:"DISPATCHER"`
	SIP        SIPConfig        `yaml:"sip" env:"SIP"`
	Agent      AgentDefaults    `yaml:"agent" env:"AGENT"`
	Redis      RedisConfig      `yaml:"redis" env:"REDIS"`
	LLM        LLMConfig        `yaml:"llm" env:"LLM"`
	STT        STTConfig        `yaml:"stt" env:"STT"`
	TTS        TTSConfig        `yaml:"tts" env:"TTS"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig controls the worker's own HTTP surface (health + metrics,
// spec.md §6) and shutdown behavior.
type ServerConfig struct {
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	HealthPort      int           `yaml:"health_port" env:"HEALTH_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DispatcherConfig controls job intake and the per-session worker pool
// (spec.md §4.1).
type DispatcherConfig struct {
	JobServerURL      string        `yaml:"job_server_url" env:"JOB_SERVER_URL"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	APISecret         string        `yaml:"api_secret" env:"API_SECRET"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" env:"MAX_CONCURRENT_JOBS"`
	ReconnectMinDelay time.Duration `yaml:"reconnect_min_delay" env:"RECONNECT_MIN_DELAY"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay" env:"RECONNECT_MAX_DELAY"`
	DrainTimeout      time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
}

// SIPConfig configures the outbound dialer (spec.md §4.2).
type SIPConfig struct {
	TrunkID     string        `yaml:"trunk_id" env:"TRUNK_ID"`
	FromNumber  string        `yaml:"from_number" env:"FROM_NUMBER"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// AgentDefaults mirrors types.AgentConfig and is the agent configuration
// every job runs with. A job's JobMetadata.AgentConfigID is logged only;
// no per-job override is looked up or merged.
type AgentDefaults struct {
	Instructions            string  `yaml:"instructions" env:"INSTRUCTIONS"`
	LLMModel                string  `yaml:"llm_model" env:"LLM_MODEL"`
	LLMTemperature          float64 `yaml:"llm_temperature" env:"LLM_TEMPERATURE"`
	LLMTimeout              time.Duration `yaml:"llm_timeout" env:"LLM_TIMEOUT"`
	STTModel                string  `yaml:"stt_model" env:"STT_MODEL"`
	STTLanguage             string  `yaml:"stt_language" env:"STT_LANGUAGE"`
	STTEndpointingMs        time.Duration `yaml:"stt_endpointing_ms" env:"STT_ENDPOINTING_MS"`
	TTSModel                string  `yaml:"tts_model" env:"TTS_MODEL"`
	TTSVoiceID              string  `yaml:"tts_voice_id" env:"TTS_VOICE_ID"`
	VADModel                string  `yaml:"vad_model" env:"VAD_MODEL"`
	InterruptionThresholdMs int     `yaml:"interruption_threshold_ms" env:"INTERRUPTION_THRESHOLD_MS"`
	WaitForGreeting         bool    `yaml:"wait_for_greeting" env:"WAIT_FOR_GREETING"`
	VoiceAdaptationEnabled  bool    `yaml:"voice_adaptation_enabled" env:"VOICE_ADAPTATION_ENABLED"`
}

// RedisConfig configures the optional tool-idempotency cache (spec.md
// §4.5 AMBIENT STACK). The dispatcher runs without Redis when Addr is
// empty, falling back to in-memory dedup.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LLMConfig configures the default LLM provider adapter.
type LLMConfig struct {
	Provider   string        `yaml:"provider" env:"PROVIDER"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// STTConfig configures the default speech-to-text provider adapter.
type STTConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
}

// TTSConfig configures the default text-to-speech provider adapter.
type TTSConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the OTel tracer/meter providers.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads a Config through the defaults -> YAML -> env pipeline
// (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the "VOICEAGENT" env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "VOICEAGENT",
		validators: make([]func(*Config) error, 0),
	}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load runs the full defaults -> file -> env -> validate pipeline.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads a Config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the loaded configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Dispatcher.MaxConcurrentJobs <= 0 {
		errs = append(errs, "dispatcher.max_concurrent_jobs must be positive")
	}
	if c.Agent.LLMTemperature < 0 || c.Agent.LLMTemperature > 2 {
		errs = append(errs, "agent.llm_temperature must be between 0 and 2")
	}
	if c.Agent.InterruptionThresholdMs < 0 {
		errs = append(errs, "agent.interruption_threshold_ms must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
