package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// StorageConfig selects the database.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" json:"driver" env:"FERDY_STORAGE_DRIVER"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn" json:"dsn" env:"FERDY_STORAGE_DSN"`
}

// CopyGenerationConfig selects where copy-generation batches go.
type CopyGenerationConfig struct {
	// Driver is one of:
	//   - "none" (default): batches are logged and deferred
	//   - "http": POST to URL
	//   - "amqp": publish to a RabbitMQ exchange
	Driver string `yaml:"driver" json:"driver" env:"FERDY_COPY_DRIVER"`

	URL            string  `yaml:"url,omitempty" json:"url,omitempty" env:"FERDY_COPY_URL"`
	APIKey         string  `yaml:"api_key,omitempty" json:"-" env:"FERDY_COPY_API_KEY"`
	Timeout        string  `yaml:"timeout,omitempty" json:"timeout,omitempty" env:"FERDY_COPY_TIMEOUT"`
	MaxRetries     int     `yaml:"max_retries,omitempty" json:"max_retries,omitempty" env:"FERDY_COPY_MAX_RETRIES"`
	InitialBackoff string  `yaml:"initial_backoff,omitempty" json:"initial_backoff,omitempty" env:"FERDY_COPY_INITIAL_BACKOFF"`
	RatePerSec     float64 `yaml:"rate_per_sec,omitempty" json:"rate_per_sec,omitempty" env:"FERDY_COPY_RATE_PER_SEC"`

	AMQPURL    string `yaml:"amqp_url,omitempty" json:"-" env:"FERDY_COPY_AMQP_URL"`
	Exchange   string `yaml:"exchange,omitempty" json:"exchange,omitempty" env:"FERDY_COPY_EXCHANGE"`
	RoutingKey string `yaml:"routing_key,omitempty" json:"routing_key,omitempty" env:"FERDY_COPY_ROUTING_KEY"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
// Auth is enabled when Username is set.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" env:"FERDY_BASIC_AUTH_USERNAME"`
	Password string `yaml:"password" json:"-" env:"FERDY_BASIC_AUTH_PASSWORD"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" env:"FERDY_LISTEN"`

	// DefaultTimezone is the IANA zone for brands without one.
	DefaultTimezone string `yaml:"default_timezone" json:"default_timezone" env:"FERDY_DEFAULT_TIMEZONE"`

	// ReportingTimezone is the fixed zone of the drafts' secondary time column.
	ReportingTimezone string `yaml:"reporting_timezone" json:"reporting_timezone" env:"FERDY_REPORTING_TIMEZONE"`

	// DefaultPostTime is the brand-local "HH:MM" for rules without a time.
	DefaultPostTime string `yaml:"default_post_time" json:"default_post_time" env:"FERDY_DEFAULT_POST_TIME"`

	// WindowDays is how far ahead materialization looks.
	WindowDays int `yaml:"window_days" json:"window_days" env:"FERDY_WINDOW_DAYS"`

	// RunTimeout bounds one brand's materialization (e.g. "2m").
	RunTimeout string `yaml:"run_timeout" json:"run_timeout" env:"FERDY_RUN_TIMEOUT"`

	// MaterializeCron is a cron-style schedule (e.g. "0 * * * *") for
	// materializing every brand. Empty disables the scheduler.
	MaterializeCron string `yaml:"materialize_cron" json:"materialize_cron" env:"FERDY_MATERIALIZE_CRON"`

	// LogLevel is debug, info, warn or error. LogJSON switches to JSON lines.
	LogLevel string `yaml:"log_level" json:"log_level" env:"FERDY_LOG_LEVEL"`
	LogJSON  bool   `yaml:"log_json" json:"log_json" env:"FERDY_LOG_JSON"`

	Storage        StorageConfig        `yaml:"storage" json:"storage"`
	CopyGeneration CopyGenerationConfig `yaml:"copy_generation" json:"copy_generation"`

	// BasicAuth enables HTTP Basic Authentication on all endpoints except
	// /health.
	BasicAuth BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen     = "127.0.0.1:8080"
	defaultTimezone   = "Pacific/Auckland"
	defaultPostTime   = "10:00"
	defaultWindowDays = 30
	defaultRunTimeout = 2 * time.Minute
	defaultCron       = "0 * * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            defaultListen,
		DefaultTimezone:   defaultTimezone,
		ReportingTimezone: defaultTimezone,
		DefaultPostTime:   defaultPostTime,
		WindowDays:        defaultWindowDays,
		RunTimeout:        defaultRunTimeout.String(),
		MaterializeCron:   defaultCron,
		LogLevel:          "info",
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "/var/lib/ferdy/ferdy.db",
		},
		CopyGeneration: CopyGenerationConfig{Driver: "none"},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = defaultTimezone
	}
	if c.ReportingTimezone == "" {
		c.ReportingTimezone = c.DefaultTimezone
	}
	if c.DefaultPostTime == "" {
		c.DefaultPostTime = defaultPostTime
	}
	if c.WindowDays <= 0 {
		c.WindowDays = defaultWindowDays
	}
	if c.RunTimeout == "" {
		c.RunTimeout = defaultRunTimeout.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	c.CopyGeneration.Driver = strings.ToLower(strings.TrimSpace(c.CopyGeneration.Driver))
	if c.CopyGeneration.Driver == "" {
		c.CopyGeneration.Driver = "none"
	}
}

// Validate checks values Normalize cannot repair.
func (c *Config) Validate() error {
	for path, tz := range map[string]string{
		"default_timezone":   c.DefaultTimezone,
		"reporting_timezone": c.ReportingTimezone,
	} {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%s: unknown timezone %q", path, tz)
		}
	}
	for path, raw := range map[string]string{
		"run_timeout":                     c.RunTimeout,
		"copy_generation.timeout":         c.CopyGeneration.Timeout,
		"copy_generation.initial_backoff": c.CopyGeneration.InitialBackoff,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	switch c.CopyGeneration.Driver {
	case "none":
	case "http":
		if c.CopyGeneration.URL == "" {
			return errors.New("copy_generation.url is required for the http driver")
		}
	case "amqp":
		if c.CopyGeneration.AMQPURL == "" {
			return errors.New("copy_generation.amqp_url is required for the amqp driver")
		}
	default:
		return fmt.Errorf("copy_generation.driver: unknown driver %q", c.CopyGeneration.Driver)
	}
	return nil
}

// RunTimeoutDuration returns RunTimeout, or the default when unset or invalid.
func (c *Config) RunTimeoutDuration() time.Duration {
	d, err := ParseDurationOrDefault("run_timeout", c.RunTimeout, defaultRunTimeout)
	if err != nil {
		return defaultRunTimeout
	}
	return d
}

// Load loads configuration from the given YAML path, then applies FERDY_*
// environment overrides.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment values are never written back to the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target. Unset variables leave
// fields unchanged.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ferdy-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
