// Package config loads service configuration from an embedded default file,
// an optional YAML file and COMPANION_* environment variables, in increasing
// order of precedence.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed default.yml
var defaultYAML []byte

// EnvPrefix is the prefix of environment overrides, e.g. COMPANION_LOG_LEVEL.
const EnvPrefix = "COMPANION"

// Memory backends.
const (
	BackendMemory   = "memory"
	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
)

// Embedding providers.
const (
	ProviderGenai = "genai"
	ProviderMock  = "mock"
	ProviderONNX  = "onnx"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Live      LiveConfig      `mapstructure:"live"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Keys      KeysConfig      `mapstructure:"keys"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	GRPCAddr       string   `mapstructure:"grpc_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MemoryConfig struct {
	Backend        string `mapstructure:"backend"`
	ShortTermTurns int    `mapstructure:"short_term_turns"`
	SearchLimit    int    `mapstructure:"search_limit"`
	ChromemPath    string `mapstructure:"chromem_path"`
	Compress       bool   `mapstructure:"compress"`
}

type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	CacheSize  int           `mapstructure:"cache_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ONNX       ONNXConfig    `mapstructure:"onnx"`
}

type ONNXConfig struct {
	ModelPath     string `mapstructure:"model_path"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
	LibraryPath   string `mapstructure:"library_path"`
}

type PostgresConfig struct {
	DSN            string `mapstructure:"dsn"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

type LiveConfig struct {
	Model         string        `mapstructure:"model"`
	Voice         string        `mapstructure:"voice"`
	SampleRate    int           `mapstructure:"sample_rate"`
	RecoveryDelay time.Duration `mapstructure:"recovery_delay"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	Transcribe    bool          `mapstructure:"transcribe"`
}

type AgentsConfig struct {
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
	MaxTurns  int    `mapstructure:"max_turns"`
}

type KeysConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance holding the defaults and environment bindings.
func New() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("read default config: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Load reads the configuration. An empty path uses defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v, err := New()
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates a configured viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.Memory.Backend {
	case BackendMemory, BackendChromem, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend))
	}
	if c.Memory.Backend == BackendPostgres && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn: required for the postgres backend"))
	}
	if c.Memory.ShortTermTurns < 1 {
		errs = append(errs, errors.New("memory.short_term_turns: must be at least 1"))
	}
	if c.Memory.SearchLimit < 1 {
		errs = append(errs, errors.New("memory.search_limit: must be at least 1"))
	}

	switch c.Embedding.Provider {
	case ProviderGenai, ProviderMock:
	case ProviderONNX:
		if c.Embedding.ONNX.ModelPath == "" || c.Embedding.ONNX.TokenizerPath == "" {
			errs = append(errs, errors.New("embedding.onnx: model_path and tokenizer_path are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Timeout <= 0 {
		errs = append(errs, errors.New("embedding.timeout: must be positive"))
	}

	if c.Live.RecoveryDelay < 0 {
		errs = append(errs, errors.New("live.recovery_delay: must not be negative"))
	}
	if c.Live.DialTimeout <= 0 {
		errs = append(errs, errors.New("live.dial_timeout: must be positive"))
	}
	if c.Agents.MaxTurns < 1 {
		errs = append(errs, errors.New("agents.max_turns: must be at least 1"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
