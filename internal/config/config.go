// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for solaudit. It is populated from the
// config file, environment variables (SOLAUDIT_ prefix), and flag bindings,
// in that order of increasing precedence.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Oracle  OracleConfig  `mapstructure:"oracle" yaml:"oracle"`
	Advisor AdvisorConfig `mapstructure:"advisor" yaml:"advisor"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig configures the batch audit engine.
type EngineConfig struct {
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// FetchConfig configures the explorer source-fetch client.
type FetchConfig struct {
	Network string `mapstructure:"network" yaml:"network"`
	// Endpoint overrides the built-in explorer URL for the selected network.
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RateLimit is requests per second against the explorer API.
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	MaxRetries int     `mapstructure:"max_retries" yaml:"max_retries"`
	// RPCEndpoint, when set, enables the balance probe that marks a
	// fetched contract as holding funds.
	RPCEndpoint string `mapstructure:"rpc_endpoint" yaml:"rpc_endpoint"`
}

// StoreConfig configures audit-history persistence.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// OracleConfig configures the reasoning oracle.
type OracleConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AdvisorConfig configures the optional narrative model client.
type AdvisorConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// ReportConfig configures report rendering.
type ReportConfig struct {
	Format    string `mapstructure:"format" yaml:"format"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxSourceBytes  int64         `mapstructure:"max_source_bytes" yaml:"max_source_bytes"`
}

// SetDefaults seeds every configuration key with its default value so a
// bare run works without a config file.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "solaudit")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.default_task_timeout", "2m")

	// -- Fetch --
	v.SetDefault("fetch.network", "ethereum")
	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("fetch.rate_limit", 2.0)
	v.SetDefault("fetch.max_retries", 3)

	// -- Store --
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.url", "")

	// -- Oracle --
	v.SetDefault("oracle.enabled", true)
	v.SetDefault("oracle.timeout", "2s")

	// -- Advisor --
	v.SetDefault("advisor.enabled", false)
	v.SetDefault("advisor.model", "gemini-2.5-flash")

	// -- Report --
	v.SetDefault("report.format", "markdown")
	v.SetDefault("report.output_dir", "audits")

	// -- Server --
	v.SetDefault("server.addr", ":8036")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_source_bytes", 2<<20)
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("fetch.api_key", "SOLAUDIT_FETCH_API_KEY")
	v.BindEnv("advisor.api_key", "SOLAUDIT_ADVISOR_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("store.url", "SOLAUDIT_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if c.Fetch.RateLimit <= 0 {
		return fmt.Errorf("fetch.rate_limit must be positive")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must not be negative")
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when store.enabled is true")
	}
	if c.Advisor.Enabled && c.Advisor.APIKey == "" {
		return fmt.Errorf("advisor.api_key is required when advisor.enabled is true (set SOLAUDIT_ADVISOR_API_KEY)")
	}
	switch c.Report.Format {
	case "markdown", "json", "sarif", "junit":
	default:
		return fmt.Errorf("report.format must be one of markdown, json, sarif, junit")
	}
	return nil
}
