// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Store() StoreConfig
	Compose() ComposeConfig
	Readiness() ReadinessConfig
	Inject() InjectConfig
	Clipboard() ClipboardConfig
	Diagnostics() DiagnosticsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(string)

	// Store Setters
	SetStoreDriver(string)
	SetStoreDSN(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	StoreCfg       StoreConfig       `mapstructure:"store" yaml:"store"`
	ComposeCfg     ComposeConfig     `mapstructure:"compose" yaml:"compose"`
	ReadinessCfg   ReadinessConfig   `mapstructure:"readiness" yaml:"readiness"`
	InjectCfg      InjectConfig      `mapstructure:"inject" yaml:"inject"`
	ClipboardCfg   ClipboardConfig   `mapstructure:"clipboard" yaml:"clipboard"`
	DiagnosticsCfg DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Store() StoreConfig             { return c.StoreCfg }
func (c *Config) Compose() ComposeConfig         { return c.ComposeCfg }
func (c *Config) Readiness() ReadinessConfig     { return c.ReadinessCfg }
func (c *Config) Inject() InjectConfig           { return c.InjectCfg }
func (c *Config) Clipboard() ClipboardConfig     { return c.ClipboardCfg }
func (c *Config) Diagnostics() DiagnosticsConfig { return c.DiagnosticsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)    { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserExecPath(p string)  { c.BrowserCfg.ExecPath = p }
func (c *Config) SetStoreDriver(driver string) { c.StoreCfg.Driver = driver }
func (c *Config) SetStoreDSN(dsn string)       { c.StoreCfg.DSN = dsn }

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

// BrowserConfig holds settings for the Chrome instance we drive.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ComposeURL        string        `mapstructure:"compose_url" yaml:"compose_url"`
	PopupWidth        int           `mapstructure:"popup_width" yaml:"popup_width"`
	PopupHeight       int           `mapstructure:"popup_height" yaml:"popup_height"`
	ComposeDelay      time.Duration `mapstructure:"compose_delay" yaml:"compose_delay"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ButtonPoll        time.Duration `mapstructure:"button_poll" yaml:"button_poll"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	// Stealth hides the automation markers webmail sign-in checks for.
	Stealth   bool   `mapstructure:"stealth" yaml:"stealth"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Locale    string `mapstructure:"locale" yaml:"locale"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the sqlite database file. "~" is expanded.
	Path string `mapstructure:"path" yaml:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// RoleConfig is the candidate data for one compose role.
type RoleConfig struct {
	// Selectors are tried in order when locating the element to fill.
	Selectors []string `mapstructure:"selectors" yaml:"selectors"`
	// Detect is the shorter list used by readiness presence checks.
	Detect    []string `mapstructure:"detect" yaml:"detect"`
	Keywords  []string `mapstructure:"keywords" yaml:"keywords"`
	MinWidth  float64  `mapstructure:"min_width" yaml:"min_width"`
	MinHeight float64  `mapstructure:"min_height" yaml:"min_height"`
}

// ComposeConfig holds the candidate lists for every compose role.
type ComposeConfig struct {
	Body      RoleConfig `mapstructure:"body" yaml:"body"`
	Recipient RoleConfig `mapstructure:"recipient" yaml:"recipient"`
	Subject   RoleConfig `mapstructure:"subject" yaml:"subject"`
}

// ReadinessConfig bounds the three readiness strategies.
type ReadinessConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollAttempts        int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollSettle          time.Duration `mapstructure:"poll_settle" yaml:"poll_settle"`
	ObserveTimeout      time.Duration `mapstructure:"observe_timeout" yaml:"observe_timeout"`
	ObserveSettle       time.Duration `mapstructure:"observe_settle" yaml:"observe_settle"`
	ObserveRate         float64       `mapstructure:"observe_rate" yaml:"observe_rate"`
	TimerDelay          time.Duration `mapstructure:"timer_delay" yaml:"timer_delay"`
	TimerInterval       time.Duration `mapstructure:"timer_interval" yaml:"timer_interval"`
	TimerAttempts       int           `mapstructure:"timer_attempts" yaml:"timer_attempts"`
	LargeEditableWidth  float64       `mapstructure:"large_editable_width" yaml:"large_editable_width"`
	LargeEditableHeight float64       `mapstructure:"large_editable_height" yaml:"large_editable_height"`
}

// InjectConfig holds timings and constants for populating the compose form.
type InjectConfig struct {
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	VerifyDelay   time.Duration `mapstructure:"verify_delay" yaml:"verify_delay"`
	Marker        string        `mapstructure:"marker" yaml:"marker"`
	FallbackWidth float64       `mapstructure:"fallback_width" yaml:"fallback_width"`
	ImageWatch    time.Duration `mapstructure:"image_watch" yaml:"image_watch"`
	ImagePoll     time.Duration `mapstructure:"image_poll" yaml:"image_poll"`
}

// ClipboardConfig controls the host clipboard fallback.
type ClipboardConfig struct {
	HostFallback bool          `mapstructure:"host_fallback" yaml:"host_fallback"`
	ToastTTL     time.Duration `mapstructure:"toast_ttl" yaml:"toast_ttl"`
}

// DiagnosticsConfig sizes the trace ring buffer.
type DiagnosticsConfig struct {
	RingCapacity int `mapstructure:"ring_capacity" yaml:"ring_capacity"`
	RecentWindow int `mapstructure:"recent_window" yaml:"recent_window"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
	v.SetDefault("logger.service_name", "articlemail")
	v.SetDefault("logger.log_file", "articlemail.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.compose_url", "https://mail.google.com/mail/?view=cm&fs=1")
	v.SetDefault("browser.popup_width", 900)
	v.SetDefault("browser.popup_height", 800)
	v.SetDefault("browser.compose_delay", "100ms")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.button_poll", "700ms")
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.locale", "")
	v.SetDefault("browser.timezone", "")

	// -- Store --
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "~/.articlemail/store.db")

	// -- Compose --
	setComposeDefaults(v)

	// -- Readiness --
	v.SetDefault("readiness.poll_interval", "300ms")
	v.SetDefault("readiness.poll_attempts", 50)
	v.SetDefault("readiness.poll_settle", "500ms")
	v.SetDefault("readiness.observe_timeout", "30s")
	v.SetDefault("readiness.observe_settle", "300ms")
	v.SetDefault("readiness.observe_rate", 10.0)
	v.SetDefault("readiness.timer_delay", "3s")
	v.SetDefault("readiness.timer_interval", "1s")
	v.SetDefault("readiness.timer_attempts", 20)
	v.SetDefault("readiness.large_editable_width", 300.0)
	v.SetDefault("readiness.large_editable_height", 100.0)

	// -- Inject --
	v.SetDefault("inject.settle_delay", "100ms")
	v.SetDefault("inject.verify_delay", "200ms")
	v.SetDefault("inject.marker", "Source:")
	v.SetDefault("inject.fallback_width", 600.0)
	v.SetDefault("inject.image_watch", "10s")
	v.SetDefault("inject.image_poll", "250ms")

	// -- Clipboard --
	v.SetDefault("clipboard.host_fallback", true)
	v.SetDefault("clipboard.toast_ttl", "3s")

	// -- Diagnostics --
	v.SetDefault("diagnostics.ring_capacity", 500)
	v.SetDefault("diagnostics.recent_window", 200)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The postgres DSN usually carries a password, so it gets its own variable.
	v.BindEnv("store.dsn", "ARTICLEMAIL_STORE_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.StoreCfg.expand(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (s *StoreConfig) expand() error {
	if s.Path == "" {
		return nil
	}
	p, err := homedir.Expand(s.Path)
	if err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	s.Path = p
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if c.BrowserCfg.ComposeURL == "" {
		return fmt.Errorf("browser.compose_url is required")
	}
	if err := c.ReadinessCfg.Validate(); err != nil {
		return fmt.Errorf("readiness configuration invalid: %w", err)
	}
	for name, role := range map[string]RoleConfig{
		"body":      c.ComposeCfg.Body,
		"recipient": c.ComposeCfg.Recipient,
		"subject":   c.ComposeCfg.Subject,
	} {
		if len(role.Selectors) == 0 {
			return fmt.Errorf("compose.%s.selectors must not be empty", name)
		}
	}
	if c.DiagnosticsCfg.RingCapacity <= 0 {
		return fmt.Errorf("diagnostics.ring_capacity must be a positive integer")
	}
	if c.DiagnosticsCfg.RecentWindow > c.DiagnosticsCfg.RingCapacity {
		return fmt.Errorf("diagnostics.recent_window cannot exceed ring_capacity")
	}
	return nil
}

// Validate checks the store configuration.
func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Driver) {
	case "sqlite":
		if s.Path == "" {
			return fmt.Errorf("path is required for the sqlite driver")
		}
	case "postgres":
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres driver. Ensure ARTICLEMAIL_STORE_DSN is set")
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}

// Validate checks the readiness bounds.
func (r *ReadinessConfig) Validate() error {
	if r.PollInterval <= 0 || r.TimerInterval <= 0 {
		return fmt.Errorf("poll_interval and timer_interval must be positive durations")
	}
	if r.PollAttempts <= 0 || r.TimerAttempts <= 0 {
		return fmt.Errorf("poll_attempts and timer_attempts must be greater than 0")
	}
	if r.ObserveTimeout <= 0 {
		return fmt.Errorf("observe_timeout must be a positive duration")
	}
	return nil
}
