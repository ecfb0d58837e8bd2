package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Relay         RelayConfig         `yaml:"relay"`
	STT           STTConfig           `yaml:"stt"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	HTTPPort    string `yaml:"http_port"`
	GRPCPort    string `yaml:"grpc_port"`
	Environment string `yaml:"environment"`
}

// RelayConfig contains per-client resource bounds and filtering policy.
type RelayConfig struct {
	MaxIdleTime        time.Duration `yaml:"max_idle_time"`
	MaxSessionTime     time.Duration `yaml:"max_session_time"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	AudioThrottleLimit int           `yaml:"audio_throttle_limit"` // frames per minute, 0 disables
	KeepAliveMaxBytes  int           `yaml:"keepalive_max_bytes"`
	MinConfidence      float64       `yaml:"min_confidence"`
	NoiseWords         []string      `yaml:"noise_words"`
}

// STTConfig selects and configures the upstream transcription provider.
type STTConfig struct {
	Provider       string `yaml:"provider"` // assemblyai, google, mock
	APIKey         string `yaml:"api_key"`
	URL            string `yaml:"url"`
	LanguageCode   string `yaml:"language_code"`
	SampleRateHz   int    `yaml:"sample_rate_hz"`
	AudioEncoding  string `yaml:"audio_encoding"`
	InterimResults bool   `yaml:"interim_results"`
	FormatTurns    bool   `yaml:"format_turns"`
}

// KafkaConfig configures transcript publishing.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topic_partial"`
	TopicFinal   string   `yaml:"topic_final"`
	Principal    string   `yaml:"principal"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal:   "svc-transcription-relay",
			HTTPPort:    "8080",
			GRPCPort:    "50051",
			Environment: "prod",
		},
		Relay: RelayConfig{
			MaxIdleTime:        5 * time.Minute,
			MaxSessionTime:     time.Hour,
			SweepInterval:      60 * time.Second,
			ConnectTimeout:     10 * time.Second,
			AudioThrottleLimit: 1000,
			KeepAliveMaxBytes:  1024,
			MinConfidence:      0.7,
		},
		STT: STTConfig{
			Provider:       "mock",
			URL:            "wss://streaming.assemblyai.com/v3/ws",
			LanguageCode:   "en-US",
			SampleRateHz:   16000,
			AudioEncoding:  "pcm_s16le",
			InterimResults: true,
			FormatTurns:    true,
		},
		Kafka: KafkaConfig{
			TopicPartial: "transcript.partial",
			TopicFinal:   "transcript.final",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from defaults and environment variables.
func Load() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile overlays a YAML file on the defaults, then applies environment
// overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", cfg.Service.Principal)
	cfg.Service.HTTPPort = envOrDefault("HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Service.GRPCPort = envOrDefault("GRPC_PORT", cfg.Service.GRPCPort)
	cfg.Service.Environment = envOrDefault("ENV", cfg.Service.Environment)

	cfg.Relay.MaxIdleTime = envOrDefaultDuration("RELAY_MAX_IDLE_TIME", cfg.Relay.MaxIdleTime)
	cfg.Relay.MaxSessionTime = envOrDefaultDuration("RELAY_MAX_SESSION_TIME", cfg.Relay.MaxSessionTime)
	cfg.Relay.SweepInterval = envOrDefaultDuration("RELAY_SWEEP_INTERVAL", cfg.Relay.SweepInterval)
	cfg.Relay.ConnectTimeout = envOrDefaultDuration("RELAY_CONNECT_TIMEOUT", cfg.Relay.ConnectTimeout)
	cfg.Relay.AudioThrottleLimit = envOrDefaultInt("RELAY_AUDIO_THROTTLE_LIMIT", cfg.Relay.AudioThrottleLimit)
	cfg.Relay.KeepAliveMaxBytes = envOrDefaultInt("RELAY_KEEPALIVE_MAX_BYTES", cfg.Relay.KeepAliveMaxBytes)
	cfg.Relay.MinConfidence = envOrDefaultFloat("RELAY_MIN_CONFIDENCE", cfg.Relay.MinConfidence)
	cfg.Relay.NoiseWords = envOrDefaultList("RELAY_NOISE_WORDS", cfg.Relay.NoiseWords)

	cfg.STT.Provider = envOrDefault("STT_PROVIDER", cfg.STT.Provider)
	cfg.STT.APIKey = envOrDefault("STT_API_KEY", envOrDefault("ASSEMBLYAI_API_KEY", cfg.STT.APIKey))
	cfg.STT.URL = envOrDefault("STT_URL", cfg.STT.URL)
	cfg.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", cfg.STT.LanguageCode)
	cfg.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", cfg.STT.SampleRateHz)
	cfg.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", cfg.STT.AudioEncoding)
	cfg.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", cfg.STT.InterimResults)
	cfg.STT.FormatTurns = envOrDefaultBool("STT_FORMAT_TURNS", cfg.STT.FormatTurns)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", cfg.Kafka.TopicPartial)
	cfg.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", cfg.Kafka.TopicFinal)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
}

// Validate checks every section and reports the first problem found.
func (c *Config) Validate() error {
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}
	return nil
}

// Validate validates relay bounds.
func (r *RelayConfig) Validate() error {
	if r.MaxIdleTime <= 0 {
		return fmt.Errorf("max_idle_time must be positive, got %v", r.MaxIdleTime)
	}
	if r.MaxSessionTime <= 0 {
		return fmt.Errorf("max_session_time must be positive, got %v", r.MaxSessionTime)
	}
	if r.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %v", r.SweepInterval)
	}
	if r.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %v", r.ConnectTimeout)
	}
	if r.AudioThrottleLimit < 0 {
		return fmt.Errorf("audio_throttle_limit cannot be negative, got %d", r.AudioThrottleLimit)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", r.MinConfidence)
	}
	return nil
}

// Validate validates provider settings.
func (s *STTConfig) Validate() error {
	switch s.Provider {
	case "mock", "google":
	case "assemblyai":
		if s.APIKey == "" {
			return fmt.Errorf("api_key is required for provider assemblyai")
		}
	default:
		return fmt.Errorf("provider must be one of [assemblyai, google, mock], got '%s'", s.Provider)
	}
	if s.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %d", s.SampleRateHz)
	}
	return nil
}

// Validate validates Kafka settings.
func (k *KafkaConfig) Validate() error {
	if k.Enabled && len(k.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty when kafka is enabled")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
