package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	SerpAPI  SerpAPIConfig  `yaml:"serpapi" mapstructure:"serpapi"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Detect   DetectConfig   `yaml:"detect" mapstructure:"detect"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Digest   DigestConfig   `yaml:"digest" mapstructure:"digest"`
	Defaults DefaultsConfig `yaml:"defaults" mapstructure:"defaults"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	// Tenants are scheduled at startup even before they have any data.
	Tenants []string `yaml:"tenants" mapstructure:"tenants"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DataDir     string `yaml:"data_dir" mapstructure:"data_dir"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SerpAPIConfig configures the search provider.
type SerpAPIConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries     int     `yaml:"retries" mapstructure:"retries"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Language    string  `yaml:"language" mapstructure:"language"`
	Country     string  `yaml:"country" mapstructure:"country"`
	Num         int     `yaml:"num" mapstructure:"num"`
}

// ScheduleConfig configures the recurring ingestion jobs.
type ScheduleConfig struct {
	CatchUpDelaySecs int `yaml:"catch_up_delay_secs" mapstructure:"catch_up_delay_secs"`
	StartConcurrency int `yaml:"start_concurrency" mapstructure:"start_concurrency"`
}

// DetectConfig configures change detection thresholds.
type DetectConfig struct {
	ChangeThreshold int `yaml:"change_threshold" mapstructure:"change_threshold"`
	CriticalDrop    int `yaml:"critical_drop" mapstructure:"critical_drop"`
}

// NotifyConfig configures where change events and digests are delivered.
type NotifyConfig struct {
	Sinks     []string      `yaml:"sinks" mapstructure:"sinks"`
	QueueSize int           `yaml:"queue_size" mapstructure:"queue_size"`
	Email     EmailConfig   `yaml:"email" mapstructure:"email"`
	Webhook   WebhookConfig `yaml:"webhook" mapstructure:"webhook"`
	SQS       SQSConfig     `yaml:"sqs" mapstructure:"sqs"`
}

// EmailConfig configures the SMTP sink.
type EmailConfig struct {
	Host       string   `yaml:"host" mapstructure:"host"`
	Port       int      `yaml:"port" mapstructure:"port"`
	Username   string   `yaml:"username" mapstructure:"username"`
	Password   string   `yaml:"password" mapstructure:"password"`
	From       string   `yaml:"from" mapstructure:"from"`
	Recipients []string `yaml:"recipients" mapstructure:"recipients"`
}

// WebhookConfig configures the JSON webhook sink.
type WebhookConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SQSConfig configures the SQS sink.
type SQSConfig struct {
	QueueURL string `yaml:"queue_url" mapstructure:"queue_url"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// DigestConfig configures the daily digest loop.
type DigestConfig struct {
	Enabled       bool `yaml:"enabled" mapstructure:"enabled"`
	IntervalHours int  `yaml:"interval_hours" mapstructure:"interval_hours"`
	TopN          int  `yaml:"top_n" mapstructure:"top_n"`
}

// DefaultsConfig holds the settings a tenant starts with.
type DefaultsConfig struct {
	SearchQuery   string `yaml:"search_query" mapstructure:"search_query"`
	Location      string `yaml:"location" mapstructure:"location"`
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	IntervalHours int    `yaml:"interval_hours" mapstructure:"interval_hours"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("serpapi.key", "")
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("serpapi.timeout_secs", 30)
	v.SetDefault("serpapi.retries", 2)
	v.SetDefault("serpapi.rate_limit", 1.0)
	v.SetDefault("serpapi.language", "tr")
	v.SetDefault("serpapi.country", "tr")
	v.SetDefault("serpapi.num", 10)
	v.SetDefault("schedule.catch_up_delay_secs", 10)
	v.SetDefault("schedule.start_concurrency", 4)
	v.SetDefault("detect.change_threshold", 3)
	v.SetDefault("detect.critical_drop", 5)
	v.SetDefault("notify.sinks", []string{"log"})
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.webhook.timeout_secs", 10)
	v.SetDefault("digest.enabled", true)
	v.SetDefault("digest.interval_hours", 24)
	v.SetDefault("digest.top_n", 10)
	v.SetDefault("defaults.search_query", "padişah bet")
	v.SetDefault("defaults.location", "Fatih,Istanbul")
	v.SetDefault("defaults.enabled", true)
	v.SetDefault("defaults.interval_hours", 12)
	v.SetDefault("tenants", []string{"default"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command mode depends on. Modes are "serve",
// "run" and "cli".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DataDir == "" {
			errs = append(errs, "store.data_dir is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Defaults.IntervalHours <= 0 {
		errs = append(errs, "defaults.interval_hours must be > 0")
	}
	if c.Detect.ChangeThreshold <= 0 || c.Detect.CriticalDrop <= 0 {
		errs = append(errs, "detect thresholds must be > 0")
	}

	switch mode {
	case "serve", "run":
		if c.SerpAPI.Key == "" {
			errs = append(errs, "serpapi.key is required")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateSinks()...)
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSinks() []string {
	var errs []string
	for _, sink := range c.Notify.Sinks {
		switch sink {
		case "log":
		case "email":
			if c.Notify.Email.Host == "" || c.Notify.Email.From == "" {
				errs = append(errs, "notify.email.host and notify.email.from are required")
			}
			if len(c.Notify.Email.Recipients) == 0 {
				errs = append(errs, "notify.email.recipients is required")
			}
		case "webhook":
			if c.Notify.Webhook.URL == "" {
				errs = append(errs, "notify.webhook.url is required")
			}
		case "sqs":
			if c.Notify.SQS.QueueURL == "" {
				errs = append(errs, "notify.sqs.queue_url is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("notify sink %q is not supported", sink))
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
