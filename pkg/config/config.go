package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the archiver reads.
const EnvPrefix = "TWARCHIVE_"

// Config holds all configuration options for the archiver
type Config struct {
	API       APIConfig       `yaml:"api" json:"api"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Capture   CaptureConfig   `yaml:"capture" json:"capture"`
	Stream    StreamConfig    `yaml:"stream" json:"stream"`
	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// APIConfig describes the upstream REST and streaming endpoints and the
// application-level OAuth consumer credentials.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	StreamURL      string        `yaml:"stream_url" json:"stream_url"`
	ConsumerKey    string        `yaml:"consumer_key" json:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret" json:"consumer_secret"`
	DefaultAccount string        `yaml:"default_account" json:"default_account"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	PageSize       int           `yaml:"page_size" json:"page_size"`
	MaxPages       int           `yaml:"max_pages" json:"max_pages"`
}

// RateLimitConfig holds the client-side request budget and the bounds applied
// to the upstream-advised wait between calls.
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	DefaultDelay      time.Duration `yaml:"default_delay" json:"default_delay"`
	MinDelay          time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DatabaseConfig selects the SQL driver and connection string
type DatabaseConfig struct {
	Driver       string `yaml:"driver" json:"driver"`
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

// CaptureConfig holds defaults for the rotating capture writer
type CaptureConfig struct {
	DataDir      string        `yaml:"data_dir" json:"data_dir"`
	Prefix       string        `yaml:"prefix" json:"prefix"`
	SaveInterval time.Duration `yaml:"save_interval" json:"save_interval"`
	Compress     bool          `yaml:"compress" json:"compress"`
}

// StreamConfig controls reconnects of the streaming consumer
type StreamConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay" json:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay" json:"reconnect_max_delay"`
	MaxReconnects      int           `yaml:"max_reconnects" json:"max_reconnects"`
}

// ScheduleConfig holds the cron spec for periodic harvests
type ScheduleConfig struct {
	Cron     string `yaml:"cron" json:"cron"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

// MetricsConfig holds the listen address of the metrics endpoint. Empty
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://api.twitter.com/1.1",
			StreamURL:      "https://stream.twitter.com/1.1",
			DefaultAccount: "default",
			UserAgent:      "twarchive/1.0",
			Timeout:        30 * time.Second,
			PageSize:       200,
			MaxPages:       16,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			DefaultDelay:      time.Second,
			MinDelay:          0,
			MaxDelay:          15 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "twarchive.db",
			MaxOpenConns: 1,
		},
		Capture: CaptureConfig{
			DataDir:      "./data",
			Prefix:       "data",
			SaveInterval: 15 * time.Minute,
			Compress:     true,
		},
		Stream: StreamConfig{
			ReconnectBaseDelay: 5 * time.Second,
			ReconnectMaxDelay:  5 * time.Minute,
			MaxReconnects:      0,
		},
		Schedule: ScheduleConfig{
			Cron:     "@every 1h",
			Timezone: "UTC",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString(&c.API.BaseURL, "API_BASE_URL")
	setString(&c.API.StreamURL, "API_STREAM_URL")
	setString(&c.API.ConsumerKey, "CONSUMER_KEY")
	setString(&c.API.ConsumerSecret, "CONSUMER_SECRET")
	setString(&c.API.DefaultAccount, "DEFAULT_ACCOUNT")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.DSN, "DB_DSN")
	setString(&c.Capture.DataDir, "DATA_DIR")
	setString(&c.Capture.Prefix, "CAPTURE_PREFIX")
	setString(&c.Schedule.Cron, "SCHEDULE_CRON")
	setString(&c.Metrics.Addr, "METRICS_ADDR")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Logging.File, "LOG_FILE")

	errs = append(errs,
		setInt(&c.API.PageSize, "PAGE_SIZE"),
		setInt(&c.API.MaxPages, "MAX_PAGES"),
		setInt(&c.RateLimit.RequestsPerMinute, "REQUESTS_PER_MINUTE"),
		setDuration(&c.RateLimit.DefaultDelay, "DEFAULT_DELAY"),
		setDuration(&c.Capture.SaveInterval, "SAVE_INTERVAL"),
	)

	if v := os.Getenv(EnvPrefix + "COMPRESS"); v != "" {
		c.Capture.Compress = strings.EqualFold(v, "true") || v == "1"
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// DefaultPath is where `config init` writes a fresh file.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "twarchive", "config.yaml")
}

func findConfigFile() string {
	locations := []string{
		".twarchive.yaml",
		".twarchive.yml",
		DefaultPath(),
		filepath.Join(os.Getenv("HOME"), ".twarchive.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base URL is required"))
	}
	if c.API.PageSize <= 0 || c.API.PageSize > 200 {
		errs = append(errs, errors.New("api page size must be between 1 and 200"))
	}
	if c.API.MaxPages <= 0 {
		errs = append(errs, errors.New("api max pages must be positive"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api timeout must be positive"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.MinDelay < 0 || c.RateLimit.DefaultDelay < 0 || c.RateLimit.MaxDelay < 0 {
		errs = append(errs, errors.New("rate limit delays cannot be negative"))
	}
	if c.RateLimit.MaxDelay > 0 && c.RateLimit.MinDelay > c.RateLimit.MaxDelay {
		errs = append(errs, errors.New("rate limit min delay exceeds max delay"))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}

	if c.Capture.SaveInterval < 0 {
		errs = append(errs, errors.New("capture save interval cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags into the
// configuration. Keys are flag names.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-format"].(string); ok && v != "" {
		c.Logging.Format = v
	}
	if v, ok := flags["db-driver"].(string); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := flags["db-dsn"].(string); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := flags["account"].(string); ok && v != "" {
		c.API.DefaultAccount = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Addr = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".twarchive.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
