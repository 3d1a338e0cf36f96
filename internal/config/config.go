// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`       // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"`     // json|console
	Sampling bool   `yaml:"sampling" env:"LOG_SAMPLING"` // enable sampling in prod
}

type ServerConfig struct {
	Port         int           `yaml:"port" env:"SERVER_PORT"`
	JWTSecret    string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	AdminAPIKey  string        `yaml:"admin_api_key" env:"ADMIN_API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	// RateLimit is the number of consume calls a user may make per minute. Zero disables it.
	RateLimit int `yaml:"rate_limit" env:"SERVER_RATE_LIMIT"`
}

type DatabaseConfig struct {
	URL            string        `yaml:"url" env:"DATABASE_URL"`
	MaxConns       int32         `yaml:"max_conns" env:"DATABASE_MAX_CONNS"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"DATABASE_CONNECT_TIMEOUT"`
	AutoMigrate    bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL"`
}

type RazorpayConfig struct {
	KeyID     string        `yaml:"key_id" env:"RAZORPAY_KEY_ID"`
	KeySecret string        `yaml:"key_secret" env:"RAZORPAY_KEY_SECRET"`
	BaseURL   string        `yaml:"base_url" env:"RAZORPAY_BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"RAZORPAY_TIMEOUT"`
}

type PaymentConfig struct {
	Razorpay RazorpayConfig `yaml:"razorpay"`
}

type TelegramConfig struct {
	Token        string  `yaml:"token" env:"TELEGRAM_TOKEN"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids" env:"TELEGRAM_ADMIN_CHAT_IDS" envSeparator:","`
}

type LifecycleConfig struct {
	GracePeriodDays int           `yaml:"grace_period_days" env:"GRACE_PERIOD_DAYS"`
	RenewalWindow   time.Duration `yaml:"renewal_window" env:"RENEWAL_WINDOW"`
	GatewayTimeout  time.Duration `yaml:"gateway_timeout" env:"GATEWAY_TIMEOUT"`
}

func (l LifecycleConfig) GracePeriod() time.Duration {
	return time.Duration(l.GracePeriodDays) * 24 * time.Hour
}

type SchedulerConfig struct {
	CycleInterval      time.Duration `yaml:"cycle_interval" env:"CYCLE_INTERVAL"`
	UsageResetInterval time.Duration `yaml:"usage_reset_interval" env:"USAGE_RESET_INTERVAL"`
	LockTTL            time.Duration `yaml:"lock_ttl" env:"SCHEDULER_LOCK_TTL"`
}

type EffectsConfig struct {
	Workers      int           `yaml:"workers" env:"EFFECT_WORKERS"`
	QueueSize    int           `yaml:"queue_size" env:"EFFECT_QUEUE_SIZE"`
	MaxRetries   int           `yaml:"max_retries" env:"EFFECT_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"EFFECT_RETRY_BACKOFF"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Effects   EffectsConfig   `yaml:"effects"`

	Runtime RuntimeConfig `yaml:"-"`
}

// EnvPrefix namespaces every environment override, e.g. BILLING_DATABASE_URL.
const EnvPrefix = "BILLING_"

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Load reads the yaml file at path (a missing file is fine), then applies
// .env and BILLING_* environment overrides, defaults and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	// the .env file is optional
	_ = godotenv.Load()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.ConnectTimeout <= 0 {
		cfg.Database.ConnectTimeout = 5 * time.Second
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Payment.Razorpay.BaseURL == "" {
		cfg.Payment.Razorpay.BaseURL = "https://api.razorpay.com"
	}
	if cfg.Payment.Razorpay.Timeout <= 0 {
		cfg.Payment.Razorpay.Timeout = 10 * time.Second
	}
	if cfg.Lifecycle.GracePeriodDays <= 0 {
		cfg.Lifecycle.GracePeriodDays = 7
	}
	if cfg.Lifecycle.RenewalWindow <= 0 {
		cfg.Lifecycle.RenewalWindow = 24 * time.Hour
	}
	if cfg.Lifecycle.GatewayTimeout <= 0 {
		cfg.Lifecycle.GatewayTimeout = 15 * time.Second
	}
	if cfg.Scheduler.CycleInterval <= 0 {
		cfg.Scheduler.CycleInterval = time.Hour
	}
	if cfg.Scheduler.UsageResetInterval <= 0 {
		cfg.Scheduler.UsageResetInterval = 15 * time.Minute
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = 10 * time.Minute
	}
	if cfg.Effects.Workers <= 0 {
		cfg.Effects.Workers = 4
	}
	if cfg.Effects.QueueSize <= 0 {
		cfg.Effects.QueueSize = 256
	}
	if cfg.Effects.MaxRetries < 0 {
		cfg.Effects.MaxRetries = 0
	}
	if cfg.Effects.RetryBackoff <= 0 {
		cfg.Effects.RetryBackoff = 500 * time.Millisecond
	}
}

// Validate checks the settings nothing can default.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}
	if c.Server.JWTSecret == "" && c.Server.AdminAPIKey == "" {
		errs = append(errs, errors.New("server.jwt_secret or server.admin_api_key is required"))
	}
	rp := c.Payment.Razorpay
	if (rp.KeyID == "") != (rp.KeySecret == "") {
		errs = append(errs, errors.New("payment.razorpay needs both key_id and key_secret"))
	}
	return errors.Join(errs...)
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
