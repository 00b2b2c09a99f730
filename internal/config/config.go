package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"market-watcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Marketplace  MarketplaceConfig  `mapstructure:"marketplace"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Verification VerificationConfig `mapstructure:"verification"`
	Fees         FeesConfig         `mapstructure:"fees"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Status       StatusConfig       `mapstructure:"status"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig enables the shared verification budget when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// ArchiveConfig selects where raw listing pages are kept.
type ArchiveConfig struct {
	Driver string   `mapstructure:"driver"`
	Dir    string   `mapstructure:"dir"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Prefix         string `mapstructure:"prefix"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Jitter          time.Duration `mapstructure:"jitter"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	WatchDelayMin   time.Duration `mapstructure:"watch_delay_min"`
	WatchDelayMax   time.Duration `mapstructure:"watch_delay_max"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MarketplaceConfig captures Steam Community Market access.
type MarketplaceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Count             int           `mapstructure:"count"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// BreakerConfig tunes the 429 circuit breaker.
type BreakerConfig struct {
	Threshold   int           `mapstructure:"threshold"`
	Step        time.Duration `mapstructure:"step"`
	MaxCooldown time.Duration `mapstructure:"max_cooldown"`
}

// VerificationConfig covers the inspect service.
type VerificationConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
}

// FeesConfig is the marketplace seller fee used by the profit rule.
type FeesConfig struct {
	Rate     decimal.Decimal `mapstructure:"rate"`
	MinCents int64           `mapstructure:"min_cents"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig 描述 Discord webhook 告警参数。
type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
}

// StatusConfig controls the health/status HTTP endpoint.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
	ChartWidth    int `mapstructure:"chart_width"`
	ChartHeight   int `mapstructure:"chart_height"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MARKETWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "inspect")

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.prefix", "listings")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.jitter", "15s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.watch_delay_min", "2s")
	v.SetDefault("scheduler.watch_delay_max", "5s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d77617463))

	v.SetDefault("marketplace.base_url", "https://steamcommunity.com")
	v.SetDefault("marketplace.count", 100)
	v.SetDefault("marketplace.request_timeout", "15s")
	v.SetDefault("marketplace.user_agent", "")
	v.SetDefault("marketplace.max_attempts", 3)
	v.SetDefault("marketplace.base_delay", "2s")
	v.SetDefault("marketplace.requests_per_second", 0.5)

	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.step", "5m")
	v.SetDefault("breaker.max_cooldown", "30m")

	v.SetDefault("verification.base_url", "https://api.csfloat.com/")
	v.SetDefault("verification.request_timeout", "10s")
	v.SetDefault("verification.rate_per_second", 1.0)
	v.SetDefault("verification.acquire_timeout", "5s")
	v.SetDefault("verification.max_attempts", 3)
	v.SetDefault("verification.base_delay", "2s")

	v.SetDefault("fees.rate", "0.15")
	v.SetDefault("fees.min_cents", 1)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.enabled", false)
	v.SetDefault("alerting.discord.username", "marketwatcher")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.addr", "127.0.0.1:8089")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.chart_width", 1280)
	v.SetDefault("export.chart_height", 480)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		}
		return data, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Jitter < 0 || c.Scheduler.Jitter >= c.Scheduler.Interval {
		return fmt.Errorf("scheduler.jitter must be within [0, interval)")
	}
	if c.Scheduler.WatchDelayMax < c.Scheduler.WatchDelayMin {
		return fmt.Errorf("scheduler.watch_delay_max cannot be below watch_delay_min")
	}
	if c.Marketplace.Count <= 0 || c.Marketplace.Count > 100 {
		return fmt.Errorf("marketplace.count must be within [1, 100]")
	}
	if c.Verification.RatePerSecond <= 0 {
		return fmt.Errorf("verification.rate_per_second must be greater than zero")
	}
	if c.Verification.BaseURL == "" {
		return fmt.Errorf("verification.base_url 必须配置")
	}
	if c.Fees.Rate.IsNegative() {
		return fmt.Errorf("fees.rate cannot be negative")
	}
	if c.Fees.MinCents < 0 {
		return fmt.Errorf("fees.min_cents cannot be negative")
	}
	switch c.Archive.Driver {
	case "", "none":
	case "dir":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir 必须配置")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket 必须配置")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Discord.Enabled && c.Alerting.Discord.WebhookURL == "" {
		return fmt.Errorf("alerting.discord.webhook_url 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
