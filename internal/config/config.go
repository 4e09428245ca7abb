// File: internal/config/config.go
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	// MinKDFIterations is the lowest PBKDF2 iteration count accepted for new sessions.
	MinKDFIterations = 310000
	// DefaultMaxSessions is the store quota.
	DefaultMaxSessions = 20
	// DefaultCaptureTimeout bounds how long a manual login may stay open.
	DefaultCaptureTimeout = 5 * time.Minute

	// AllowHeadedEnv is the environment switch a deployment sets to permit visible browsers.
	AllowHeadedEnv = "SCALPEL_ALLOW_HEADED_BROWSER"
	// PassphraseEnv is the default environment variable consulted for session passphrases.
	PassphraseEnv = "SCALPEL_SESSION_PASSPHRASE"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
}

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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the visible browser used during manual logins.
type BrowserConfig struct {
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// CaptureConfig controls the manual login capture workflow.
type CaptureConfig struct {
	// AllowHeaded must be explicitly enabled; server-only deployments leave it off.
	AllowHeaded bool          `mapstructure:"allow_headed" yaml:"allow_headed"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig configures the encrypted session store.
type StoreConfig struct {
	Dir            string  `mapstructure:"dir" yaml:"dir"`
	MaxSessions    int     `mapstructure:"max_sessions" yaml:"max_sessions"`
	KDFIterations  int     `mapstructure:"kdf_iterations" yaml:"kdf_iterations"`
	KDFConcurrency int     `mapstructure:"kdf_concurrency" yaml:"kdf_concurrency"`
	DecryptRate    float64 `mapstructure:"decrypt_rate" yaml:"decrypt_rate"`
	DecryptBurst   int     `mapstructure:"decrypt_burst" yaml:"decrypt_burst"`
}

// ResolvedDir returns the store directory with a leading "~" expanded.
func (s StoreConfig) ResolvedDir() (string, error) {
	dir, err := homedir.Expand(s.Dir)
	if err != nil {
		return "", fmt.Errorf("failed to expand store dir %q: %w", s.Dir, err)
	}
	return dir, nil
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
	v.SetDefault("logger.service_name", "scalpel-sessions")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Capture --
	v.SetDefault("capture.allow_headed", false)
	v.SetDefault("capture.timeout", DefaultCaptureTimeout)

	// -- Store --
	v.SetDefault("store.dir", "~/.scalpel/sessions")
	v.SetDefault("store.max_sessions", DefaultMaxSessions)
	v.SetDefault("store.kdf_iterations", MinKDFIterations)
	v.SetDefault("store.kdf_concurrency", runtime.GOMAXPROCS(0))
	v.SetDefault("store.decrypt_rate", 2.0)
	v.SetDefault("store.decrypt_burst", 5)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The headed-browser gate is a deployment decision, so it gets a stable env name
	// rather than relying on the automatic key mapping.
	if err := v.BindEnv("capture.allow_headed", AllowHeadedEnv); err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", AllowHeadedEnv, err)
	}

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
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if c.Capture.Timeout <= 0 {
		return fmt.Errorf("capture.timeout must be a positive duration")
	}
	if c.Browser.WindowWidth < 0 || c.Browser.WindowHeight < 0 {
		return fmt.Errorf("browser window dimensions must not be negative")
	}
	return nil
}

// Validate checks the store settings.
func (s *StoreConfig) Validate() error {
	if s.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if s.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be a positive integer")
	}
	if s.KDFIterations < MinKDFIterations {
		return fmt.Errorf("kdf_iterations must be at least %d", MinKDFIterations)
	}
	if s.KDFConcurrency <= 0 {
		return fmt.Errorf("kdf_concurrency must be a positive integer")
	}
	if s.DecryptRate <= 0 {
		return fmt.Errorf("decrypt_rate must be positive")
	}
	if s.DecryptBurst <= 0 {
		return fmt.Errorf("decrypt_burst must be a positive integer")
	}
	return nil
}
