package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ohio-rate-watch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig      `mapstructure:"app"`
	Logging    logging.Config `mapstructure:"logging"`
	Database   DatabaseConfig `mapstructure:"database"`
	Fetch      FetchConfig    `mapstructure:"fetch"`
	Validation ValidateConfig `mapstructure:"validation"`
	Diff       DiffConfig     `mapstructure:"diff"`
	Alerting   AlertingConfig `mapstructure:"alerting"`
	Schedule   ScheduleConfig `mapstructure:"schedule"`
	Export     ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// FetchConfig governs upstream portal access.
type FetchConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MinDelay       time.Duration `mapstructure:"min_delay"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateClasses    []string      `mapstructure:"rate_classes"`
}

// ValidateConfig tunes the daily batch gate.
type ValidateConfig struct {
	MinOfferFloor int `mapstructure:"min_offer_floor"`
	MinRatioPct   int `mapstructure:"min_ratio_pct"`
	MinHistory    int `mapstructure:"min_history"`
	BaselineDays  int `mapstructure:"baseline_days"`
}

// DiffConfig tunes change-detection noise thresholds.
type DiffConfig struct {
	MinPctChange float64 `mapstructure:"min_pct_change"`
	MinAbsChange float64 `mapstructure:"min_abs_change"`
}

// AlertingConfig defines subscriber alert eligibility rules.
type AlertingConfig struct {
	Enabled             bool           `mapstructure:"enabled"`
	DefaultThresholdPct float64        `mapstructure:"default_threshold_pct"`
	Cooldown            time.Duration  `mapstructure:"cooldown"`
	RealertDeltaPct     float64        `mapstructure:"realert_delta_pct"`
	PriceSanityFloor    float64        `mapstructure:"price_sanity_floor"`
	MonthlyUsageCcf     float64        `mapstructure:"monthly_usage_ccf"`
	RateClass           string         `mapstructure:"rate_class"`
	Telegram            TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig routes operator diagnostics and alert copies.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ScheduleConfig governs the daily pipeline cadence for serve mode.
type ScheduleConfig struct {
	Spec string `mapstructure:"spec"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATEWATCH")
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
	v.SetDefault("app.name", "ratewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("fetch.base_url", "https://energychoice.ohio.gov/ApplesToApples")
	v.SetDefault("fetch.request_timeout", "30s")
	v.SetDefault("fetch.min_delay", "2s")
	v.SetDefault("fetch.user_agent", "ratewatch/1.0")
	v.SetDefault("fetch.rate_classes", []string{"residential"})

	v.SetDefault("validation.min_offer_floor", 30)
	v.SetDefault("validation.min_ratio_pct", 30)
	v.SetDefault("validation.min_history", 3)
	v.SetDefault("validation.baseline_days", 7)

	v.SetDefault("diff.min_pct_change", 5.0)
	v.SetDefault("diff.min_abs_change", 0.01)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.default_threshold_pct", 15.0)
	v.SetDefault("alerting.cooldown", "168h")
	v.SetDefault("alerting.realert_delta_pct", 3.0)
	v.SetDefault("alerting.price_sanity_floor", 0.1)
	v.SetDefault("alerting.monthly_usage_ccf", 100.0)
	v.SetDefault("alerting.rate_class", "residential")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("schedule.spec", "0 6 * * *")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.advisory_lock_key", int64(0x6f685247))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Validation.MinRatioPct <= 0 || c.Validation.MinRatioPct > 100 {
		return fmt.Errorf("validation.min_ratio_pct must be within (0,100]")
	}
	if c.Alerting.DefaultThresholdPct < 0 {
		return fmt.Errorf("alerting.default_threshold_pct cannot be negative")
	}
	if c.Alerting.MonthlyUsageCcf <= 0 {
		return fmt.Errorf("alerting.monthly_usage_ccf must be greater than zero")
	}
	if c.Fetch.MinDelay < 0 {
		return fmt.Errorf("fetch.min_delay cannot be negative")
	}
	if c.Schedule.Spec == "" {
		return fmt.Errorf("schedule.spec is required")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
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
