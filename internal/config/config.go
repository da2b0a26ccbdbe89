// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Watcher    WatcherConfig    `mapstructure:"watcher" yaml:"watcher"`
	Acquire    AcquireConfig    `mapstructure:"acquire" yaml:"acquire"`
	Relay      RelayConfig      `mapstructure:"relay" yaml:"relay"`
	Broker     BrokerConfig     `mapstructure:"broker" yaml:"broker"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`

	// Profiles adds or overrides site selector profiles without a
	// rebuild. Entries with no host or no selectors are skipped.
	Profiles []SiteProfileConfig `mapstructure:"profiles" yaml:"profiles"`
}

// SiteProfileConfig binds a host suffix to a set of product-image
// selectors, extending the built-in site table.
type SiteProfileConfig struct {
	Host               string   `mapstructure:"host" yaml:"host"`
	Name               string   `mapstructure:"name" yaml:"name"`
	ImageSelectors     []string `mapstructure:"image_selectors" yaml:"image_selectors"`
	ContainerSelectors []string `mapstructure:"container_selectors" yaml:"container_selectors"`
	// ButtonPlacement is "overlay", "after" or "before"; anything else
	// falls back to overlay.
	ButtonPlacement string `mapstructure:"button_placement" yaml:"button_placement"`
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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig tunes outbound HTTP and page navigation behavior.
type NetworkConfig struct {
	Timeout           time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	IgnoreTLSErrors   bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// ClassifierConfig tunes the page and image detection heuristics.
// The keyword lists default to the canonical multilingual set; a config
// file may replace them wholesale.
type ClassifierConfig struct {
	MinImageWidth     int      `mapstructure:"min_image_width" yaml:"min_image_width"`
	MinImageHeight    int      `mapstructure:"min_image_height" yaml:"min_image_height"`
	MinKeywordImages  int      `mapstructure:"min_keyword_images" yaml:"min_keyword_images"`
	ClothingKeywords  []string `mapstructure:"clothing_keywords" yaml:"clothing_keywords"`
	ExclusionKeywords []string `mapstructure:"exclusion_keywords" yaml:"exclusion_keywords"`
}

// WatcherConfig tunes the DOM observation loop.
type WatcherConfig struct {
	Debounce        time.Duration `mapstructure:"debounce" yaml:"debounce"`
	EagerScan       bool          `mapstructure:"eager_scan" yaml:"eager_scan"`
	ScanConcurrency int           `mapstructure:"scan_concurrency" yaml:"scan_concurrency"`
}

// AcquireConfig tunes image extraction.
type AcquireConfig struct {
	JPEGQuality int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
}

// RelayConfig points at the try-on synthesis endpoint.
type RelayConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MinImageBytes int           `mapstructure:"min_image_bytes" yaml:"min_image_bytes"`
}

// BrokerConfig holds settings for the privileged broker side: the image
// proxy, the shared-config bootstrap, and the avatar safety screen.
type BrokerConfig struct {
	// ProxyURL delegates CORS-fallback fetches to an external proxy
	// service. Empty means the broker fetches image URLs itself.
	ProxyURL        string        `mapstructure:"proxy_url" yaml:"proxy_url"`
	ProxyTimeout    time.Duration `mapstructure:"proxy_timeout" yaml:"proxy_timeout"`
	ProxyRateLimit  float64       `mapstructure:"proxy_rate_limit" yaml:"proxy_rate_limit"`
	ProxyBurst      int           `mapstructure:"proxy_burst" yaml:"proxy_burst"`
	ConfigURL       string        `mapstructure:"config_url" yaml:"config_url"`
	ConfigAttempts  int           `mapstructure:"config_attempts" yaml:"config_attempts"`
	ConfigBaseDelay time.Duration `mapstructure:"config_base_delay" yaml:"config_base_delay"`
	Safety          SafetyConfig  `mapstructure:"safety" yaml:"safety"`
}

// SafetyConfig configures the generative-model avatar screen.
// When APIKey is empty the screen is skipped and uploads pass through.
type SafetyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Model   string `mapstructure:"model" yaml:"model"`
	// Endpoint overrides the generativelanguage URL derived from Model.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string `mapstructure:"api_key" yaml:"-"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN renders the pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "fitcheck")
	v.SetDefault("logger.log_file", defaultLogFile())
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 900})

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "2s")

	// -- Classifier --
	v.SetDefault("classifier.min_image_width", 200)
	v.SetDefault("classifier.min_image_height", 200)
	v.SetDefault("classifier.min_keyword_images", 2)

	// -- Watcher --
	v.SetDefault("watcher.debounce", "150ms")
	v.SetDefault("watcher.eager_scan", true)
	v.SetDefault("watcher.scan_concurrency", 4)

	// -- Acquire --
	v.SetDefault("acquire.jpeg_quality", 92)
	v.SetDefault("acquire.load_timeout", "10s")

	// -- Relay --
	v.SetDefault("relay.endpoint", "https://api.fitcheck.app/v1/try-on")
	v.SetDefault("relay.timeout", "90s")
	v.SetDefault("relay.min_image_bytes", 100)

	// -- Broker --
	v.SetDefault("broker.proxy_timeout", "10s")
	v.SetDefault("broker.proxy_rate_limit", 4.0)
	v.SetDefault("broker.proxy_burst", 8)
	v.SetDefault("broker.config_url", "https://config.fitcheck.app/shared-config.json")
	v.SetDefault("broker.config_attempts", 3)
	v.SetDefault("broker.config_base_delay", "250ms")
	v.SetDefault("broker.safety.enabled", true)
	v.SetDefault("broker.safety.model", "gemini-2.5-flash")

	// -- Store --
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", "fitcheck")
	v.SetDefault("store.postgres.sslmode", "disable")
}

func defaultLogFile() string {
	home, err := homedir.Dir()
	if err != nil {
		return "fitcheck.log"
	}
	return filepath.Join(home, ".fitcheck", "fitcheck.log")
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that already has defaults, file, and env sources applied.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment only.
	v.BindEnv("broker.safety.api_key", "FITCHECK_SAFETY_API_KEY")
	v.BindEnv("store.postgres.password", "FITCHECK_PG_PASSWORD")

	var cfg Config
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
	if c.Classifier.MinImageWidth <= 0 || c.Classifier.MinImageHeight <= 0 {
		return fmt.Errorf("classifier.min_image_width and min_image_height must be positive")
	}
	if c.Classifier.MinKeywordImages <= 0 {
		return fmt.Errorf("classifier.min_keyword_images must be positive")
	}
	if c.Watcher.Debounce <= 0 {
		return fmt.Errorf("watcher.debounce must be a positive duration")
	}
	if c.Watcher.ScanConcurrency <= 0 {
		return fmt.Errorf("watcher.scan_concurrency must be a positive integer")
	}
	if c.Acquire.JPEGQuality < 1 || c.Acquire.JPEGQuality > 100 {
		return fmt.Errorf("acquire.jpeg_quality must be between 1 and 100")
	}
	if c.Relay.Endpoint == "" {
		return fmt.Errorf("relay.endpoint is a required configuration field")
	}
	if c.Relay.MinImageBytes <= 0 {
		return fmt.Errorf("relay.min_image_bytes must be positive")
	}
	if err := c.Broker.Validate(); err != nil {
		return fmt.Errorf("broker configuration invalid: %w", err)
	}
	switch c.Store.Type {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store.type must be %q or %q, got %q", "memory", "postgres", c.Store.Type)
	}
	return nil
}

// Validate checks the broker settings.
func (b *BrokerConfig) Validate() error {
	if b.ProxyTimeout <= 0 {
		return fmt.Errorf("proxy_timeout must be a positive duration")
	}
	if b.ProxyRateLimit <= 0 {
		return fmt.Errorf("proxy_rate_limit must be positive")
	}
	if b.ConfigAttempts <= 0 {
		return fmt.Errorf("config_attempts must be positive")
	}
	if b.ConfigBaseDelay <= 0 {
		return fmt.Errorf("config_base_delay must be a positive duration")
	}
	return nil
}
