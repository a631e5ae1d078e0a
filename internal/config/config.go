// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Coordinator() CoordinatorConfig
	Interpreter() InterpreterConfig
	Browser() BrowserConfig
	Device() DeviceConfig
	Server() ServerConfig
	Database() DatabaseConfig

	// Agent Setters
	SetAgentMaxCapacity(int)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration. Fields are exported for
// viper unmarshaling; callers access them through the Interface getters.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	AgentCfg       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	CoordinatorCfg CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	InterpreterCfg InterpreterConfig `mapstructure:"interpreter" yaml:"interpreter"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	DeviceCfg      DeviceConfig      `mapstructure:"device" yaml:"device"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig             { return c.AgentCfg }
func (c *Config) Coordinator() CoordinatorConfig { return c.CoordinatorCfg }
func (c *Config) Interpreter() InterpreterConfig { return c.InterpreterCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Device() DeviceConfig           { return c.DeviceCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentMaxCapacity(n int) { c.AgentCfg.MaxCapacity = n }
func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
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

// AgentConfig configures the job acquisition loop and the concurrency
// ceiling. MaxCapacity is the hard upper bound on simultaneously running
// jobs; the poll loop stops asking for work while the agent is saturated.
type AgentConfig struct {
	MaxCapacity       int           `mapstructure:"max_capacity" yaml:"max_capacity"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// CoordinatorConfig holds the remote coordinator endpoint and credential.
type CoordinatorConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Token          string        `mapstructure:"token" yaml:"-"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// RequestsPerSecond caps the outbound request rate toward the
	// coordinator across all lifecycle calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// InterpreterConfig tunes per-step execution bounds. Step timeouts are the
// agent's own; job-level timeouts belong to the coordinator.
type InterpreterConfig struct {
	StepTimeout        time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	WaitVisibleTimeout time.Duration `mapstructure:"wait_visible_timeout" yaml:"wait_visible_timeout"`
}

// BrowserConfig holds settings for headless browser pages used by page jobs.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// DeviceConfig holds the local automation bridge endpoint used by device
// jobs. The bridge speaks a small HTTP command protocol (tap, swipe, key,
// app management, hierarchy dump).
type DeviceConfig struct {
	BridgeURL      string        `mapstructure:"bridge_url" yaml:"bridge_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ServerConfig configures the local HTTP surface (recording, replay,
// capability passthroughs, SSE event stream).
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// DatabaseConfig holds the optional report-archive connection string. When
// empty, archiving is disabled and reports only go to the coordinator.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "uirunner")
	v.SetDefault("logger.log_file", "uirunner.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_capacity", 3)
	v.SetDefault("agent.poll_interval", "5s")
	v.SetDefault("agent.heartbeat_interval", "30s")

	// -- Coordinator --
	v.SetDefault("coordinator.request_timeout", "15s")
	v.SetDefault("coordinator.requests_per_second", 5.0)

	// -- Interpreter --
	v.SetDefault("interpreter.step_timeout", "60s")
	v.SetDefault("interpreter.wait_visible_timeout", "30s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Device --
	v.SetDefault("device.bridge_url", "http://127.0.0.1:6790")
	v.SetDefault("device.request_timeout", "30s")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8931")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("coordinator.token", "UIRUNNER_COORDINATOR_TOKEN")
	v.BindEnv("database.url", "UIRUNNER_DATABASE_URL")

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
	if c.AgentCfg.MaxCapacity <= 0 {
		return fmt.Errorf("agent.max_capacity must be a positive integer")
	}
	if c.AgentCfg.PollInterval <= 0 {
		return fmt.Errorf("agent.poll_interval must be a positive duration")
	}
	if c.AgentCfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("agent.heartbeat_interval must be a positive duration")
	}
	if c.InterpreterCfg.StepTimeout <= 0 {
		return fmt.Errorf("interpreter.step_timeout must be a positive duration")
	}
	if c.CoordinatorCfg.RequestsPerSecond <= 0 {
		return fmt.Errorf("coordinator.requests_per_second must be positive")
	}
	return nil
}
