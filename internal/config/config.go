// Package config provides configuration management for the backtester.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"strategy-backtester/internal/logging"
	"strategy-backtester/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Backtest    BacktestConfig    `mapstructure:"backtest"`
	Costs       CostConfig        `mapstructure:"costs"`
	Data        DataConfig        `mapstructure:"data"`
	Instruments InstrumentsConfig `mapstructure:"instruments"`
	Store       StoreConfig       `mapstructure:"store"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Logging     logging.LogConfig `mapstructure:"logging"`
	Credentials Credentials       `mapstructure:"-"` // Loaded separately
}

// BacktestConfig holds simulation defaults.
type BacktestConfig struct {
	InitialCapital  float64  `mapstructure:"initial_capital" validate:"gt=0"`
	Workers         int      `mapstructure:"workers" validate:"gte=0,lte=256"`
	PeriodsPerYear  float64  `mapstructure:"periods_per_year" validate:"gt=0"`
	Timezone        string   `mapstructure:"timezone" validate:"required"`
	DefaultInterval string   `mapstructure:"default_interval" validate:"required,oneof=minute 3minute 5minute 10minute 15minute 30minute 60minute"`
	Holidays        []string `mapstructure:"holidays" validate:"dive,datetime=2006-01-02"`
}

// CostConfig holds the transaction cost model.
type CostConfig struct {
	FixedPerOrder     float64 `mapstructure:"fixed_per_order" validate:"gte=0"`
	PercentOfNotional float64 `mapstructure:"percent_of_notional" validate:"gte=0,lte=100"`
}

// DataConfig holds historical data provider settings.
type DataConfig struct {
	Provider        string        `mapstructure:"provider" validate:"oneof=store kite"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff" validate:"gte=0"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"` // requests per second, 0 disables
	Burst           int           `mapstructure:"burst" validate:"gte=0"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	CircuitFailures int           `mapstructure:"circuit_failures" validate:"gte=1"`
	CircuitTimeout  time.Duration `mapstructure:"circuit_timeout" validate:"gte=0"`
}

// InstrumentsConfig holds instrument master settings.
type InstrumentsConfig struct {
	Brokers         []string          `mapstructure:"brokers" validate:"min=1,dive,required"`
	RefreshSchedule string            `mapstructure:"refresh_schedule" validate:"required"`
	ScripMasters    map[string]string `mapstructure:"scrip_masters" validate:"dive,url"`
}

// StoreConfig holds the SQLite store location.
type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// AuditConfig holds the audit trail settings.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// NotifyConfig holds the outbound webhook used for batch and refresh events.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Events     []string      `mapstructure:"events" validate:"dive,oneof=batch_complete refresh_failed"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Kite Connect credentials.
type ZerodhaCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	AccessToken string `mapstructure:"access_token"`
}

// HasKite reports whether Kite Connect calls can be made.
func (c Credentials) HasKite() bool {
	return c.Zerodha.APIKey != "" && c.Zerodha.AccessToken != ""
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/strategy-backtester"
	}
	return filepath.Join(home, ".config", "strategy-backtester")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files are
// created from templates and then read back.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env next to the config and in the working directory; both optional.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(configDir, cfg.Store.Path)
	}
	if cfg.Audit.Path != "" && !filepath.IsAbs(cfg.Audit.Path) {
		cfg.Audit.Path = filepath.Join(configDir, cfg.Audit.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backtest.initial_capital", 100000.0)
	v.SetDefault("backtest.workers", 0)
	v.SetDefault("backtest.periods_per_year", 252.0)
	v.SetDefault("backtest.timezone", "Asia/Kolkata")
	v.SetDefault("backtest.default_interval", "minute")
	v.SetDefault("backtest.holidays", []string{})

	v.SetDefault("costs.fixed_per_order", 20.0)
	v.SetDefault("costs.percent_of_notional", 0.03)

	v.SetDefault("data.provider", "store")
	v.SetDefault("data.max_retries", 3)
	v.SetDefault("data.initial_backoff", "500ms")
	v.SetDefault("data.max_backoff", "10s")
	v.SetDefault("data.rate_limit", 3.0)
	v.SetDefault("data.burst", 1)
	v.SetDefault("data.cache_ttl", "30m")
	v.SetDefault("data.circuit_failures", 5)
	v.SetDefault("data.circuit_timeout", "30s")

	v.SetDefault("instruments.brokers", []string{"zerodha"})
	v.SetDefault("instruments.refresh_schedule", "30 8 * * 1-5")

	v.SetDefault("store.path", "backtester.db")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", "audit.log")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.events", []string{"batch_complete", "refresh_failed"})

	def := logging.DefaultLogConfig()
	v.SetDefault("logging.level", def.Level)
	v.SetDefault("logging.console", def.Console)
	v.SetDefault("logging.file", def.File)
	v.SetDefault("logging.file_path", def.FilePath)
	v.SetDefault("logging.max_size", def.MaxSize)
	v.SetDefault("logging.max_backups", def.MaxBackups)
	v.SetDefault("logging.max_age", def.MaxAge)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Zerodha.AccessToken = v
	}
	if v := os.Getenv("BACKTEST_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("BACKTEST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BACKTEST_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("BACKTEST_DATA_PROVIDER"); v != "" {
		cfg.Data.Provider = strings.ToLower(v)
	}
}

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Backtest.Timezone); err != nil && c.Backtest.Timezone != "Asia/Kolkata" {
		return fmt.Errorf("invalid timezone %q: %w", c.Backtest.Timezone, err)
	}
	if c.Data.Provider == "kite" && !c.Credentials.HasKite() {
		return fmt.Errorf("data provider kite requires zerodha api_key and access_token")
	}
	return nil
}

// Location returns the exchange timezone used for sessions and daily resampling.
func (c *Config) Location() *time.Location {
	return utils.LoadLocation(c.Backtest.Timezone)
}

// HolidaySet parses the configured exchange holidays.
func (c *Config) HolidaySet() map[string]bool {
	set := make(map[string]bool, len(c.Backtest.Holidays))
	for _, h := range c.Backtest.Holidays {
		set[h] = true
	}
	return set
}

// NotifyOn reports whether event should be sent to the webhook.
func (c *Config) NotifyOn(event string) bool {
	if c.Notify.WebhookURL == "" {
		return false
	}
	for _, e := range c.Notify.Events {
		if e == event {
			return true
		}
	}
	return false
}

// RetryConfig builds the provider retry policy.
func (c *Config) RetryConfig() utils.RetryConfig {
	return utils.RetryConfig{
		MaxAttempts:   c.Data.MaxRetries + 1,
		InitialDelay:  c.Data.InitialBackoff,
		MaxDelay:      c.Data.MaxBackoff,
		BackoffFactor: 2.0,
	}
}
