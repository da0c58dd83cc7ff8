package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/overturn/internal/application/lifecycle"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	Live       LiveConfig       `mapstructure:"live"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Session    SessionConfig    `mapstructure:"session"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LifecycleConfig tunes the claim lifecycle manager
type LifecycleConfig struct {
	TransitionPolicy string        `mapstructure:"transition_policy"`
	InFlightPolicy   string        `mapstructure:"in_flight_policy"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
}

// Live transports
const (
	TransportNone      = "none"
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// LiveConfig selects and tunes the live channel
type LiveConfig struct {
	Transport         string        `mapstructure:"transport"`
	URL               string        `mapstructure:"url"`
	Token             string        `mapstructure:"token"`
	SubjectPrefix     string        `mapstructure:"subject_prefix"`
	TranscriptChannel string        `mapstructure:"transcript_channel"`
	ClaimChannel      string        `mapstructure:"claim_channel"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
}

// Storage backends
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// StorageConfig selects where uploaded documents go
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	LocalDir      string `mapstructure:"local_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	S3Bucket      string `mapstructure:"s3_bucket"`
	S3Region      string `mapstructure:"s3_region"`
	S3Prefix      string `mapstructure:"s3_prefix"`
	S3PublicURL   string `mapstructure:"s3_public_url"`
}

// Extraction modes
const (
	ExtractionLLM   = "llm"
	ExtractionRegex = "regex"
	ExtractionMock  = "mock"
)

// ExtractionConfig configures document parsing
type ExtractionConfig struct {
	Mode          string       `mapstructure:"mode"`
	MaxPages      int          `mapstructure:"max_pages"`
	MaxUploadSize int64        `mapstructure:"max_upload_size"`
	OpenAI        OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LarkConfig holds Lark notification configuration
type LarkConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
	ReceiveID     string `mapstructure:"receive_id"`
	BoardURL      string `mapstructure:"board_url"`
}

// SessionConfig holds the static session tokens accepted by the API
type SessionConfig struct {
	// Tokens is a comma separated list of token:user_id pairs
	Tokens     string `mapstructure:"tokens"`
	CookieName string `mapstructure:"cookie_name"`
}

// TokenMap parses Tokens. Malformed pairs are skipped.
func (s SessionConfig) TokenMap() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s.Tokens, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || user == "" {
			continue
		}
		out[token] = user
	}
	return out
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads an optional .env file, then configPath, then the environment.
// A missing config file is not an error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads path into the environment without overriding set variables
func loadDotEnv(path string) error {
	err := gotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("database.path", "data/overturn.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("lifecycle.transition_policy", string(workflow.PolicyForwardOnly))
	v.SetDefault("lifecycle.in_flight_policy", string(lifecycle.InFlightSupersede))
	v.SetDefault("lifecycle.write_timeout", 10*time.Second)
	v.SetDefault("lifecycle.refresh_interval", 5*time.Minute)

	v.SetDefault("live.transport", TransportNone)
	v.SetDefault("live.transcript_channel", lifecycle.TranscriptChannel)
	v.SetDefault("live.claim_channel", lifecycle.ClaimChannel)
	v.SetDefault("live.initial_backoff", 500*time.Millisecond)
	v.SetDefault("live.max_backoff", 30*time.Second)

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local_dir", "data/uploads")
	v.SetDefault("storage.public_base_url", "/uploads")

	v.SetDefault("extraction.mode", ExtractionRegex)
	v.SetDefault("extraction.max_pages", 20)
	v.SetDefault("extraction.max_upload_size", 20<<20)
	v.SetDefault("extraction.openai.model", "gpt-4o-mini")
	v.SetDefault("extraction.openai.temperature", 0.0)
	v.SetDefault("extraction.openai.timeout", 60*time.Second)

	v.SetDefault("lark.receive_id_type", "chat_id")

	v.SetDefault("session.cookie_name", "overturn_session")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "overturn")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"extraction.openai.api_key":  "OPENAI_API_KEY",
		"extraction.openai.base_url": "OPENAI_BASE_URL",
		"lark.app_id":                "LARK_APP_ID",
		"lark.app_secret":            "LARK_APP_SECRET",
		"lark.receive_id":            "LARK_RECEIVE_ID",
		"live.url":                   "OVERTURN_LIVE_URL",
		"live.token":                 "OVERTURN_LIVE_TOKEN",
		"storage.s3_bucket":          "AWS_S3_BUCKET",
		"storage.s3_region":          "AWS_REGION",
		"session.tokens":             "OVERTURN_SESSION_TOKENS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate checks enum values and the credentials of enabled backends
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if _, err := workflow.ParsePolicy(c.Lifecycle.TransitionPolicy); err != nil {
		return fmt.Errorf("lifecycle.transition_policy: %w", err)
	}
	if _, err := lifecycle.ParseInFlightPolicy(c.Lifecycle.InFlightPolicy); err != nil {
		return fmt.Errorf("lifecycle.in_flight_policy: %w", err)
	}
	if c.Lifecycle.WriteTimeout <= 0 {
		return fmt.Errorf("lifecycle.write_timeout must be positive")
	}

	switch c.Live.Transport {
	case TransportNone:
	case TransportWebSocket, TransportNATS:
		if c.Live.URL == "" {
			return fmt.Errorf("live.url is required for the %s transport", c.Live.Transport)
		}
	default:
		return fmt.Errorf("unknown live.transport: %q", c.Live.Transport)
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required")
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required")
		}
		if c.Storage.S3Region == "" {
			return fmt.Errorf("storage.s3_region is required")
		}
	default:
		return fmt.Errorf("unknown storage.backend: %q", c.Storage.Backend)
	}

	switch c.Extraction.Mode {
	case ExtractionRegex, ExtractionMock:
	case ExtractionLLM:
		if c.Extraction.OpenAI.APIKey == "" {
			return fmt.Errorf("extraction.openai.api_key is required for llm mode")
		}
	default:
		return fmt.Errorf("unknown extraction.mode: %q", c.Extraction.Mode)
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
		if c.Lark.ReceiveID == "" {
			return fmt.Errorf("lark.receive_id is required")
		}
	}

	return nil
}
