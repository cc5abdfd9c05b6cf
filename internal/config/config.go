package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/stockalert-api/pkg/messaging/redis"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Timezones TimezoneConfig  `mapstructure:"timezones"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	Log       LogConfig       `mapstructure:"log"`

	// Secrets never come from the YAML file.
	Secrets Secrets `mapstructure:"-"`
}

type ServerConfig struct {
	Port           int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"min=1"`
	Mode           string `mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
	// PublicURL is the externally visible base URL, used to verify webhook signatures.
	PublicURL string `mapstructure:"public_url"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"required"`
	User         string `mapstructure:"user" validate:"required"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name" validate:"required"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url" validate:"required_if=Enabled true"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type DispatchConfig struct {
	BatchSize   int           `mapstructure:"batch_size" validate:"min=1"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=1"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1"`
	ClaimLease  time.Duration `mapstructure:"claim_lease" validate:"min=1s"`
	// SettleTimeout bounds sending and recording once a claim is granted.
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
}

type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"min=1s"`
	HealthPort   int           `mapstructure:"health_port"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	TestSendsPerHour  int           `mapstructure:"test_sends_per_hour" validate:"min=1"`
	TestSendWindow    time.Duration `mapstructure:"test_send_window"`
}

type TimezoneConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	From string `mapstructure:"from"`
}

type TwilioConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MessagesPerSecond throttles outbound SMS to the account's sending rate.
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Secrets are read from the process environment (optionally seeded from .env.local).
type Secrets struct {
	CronSecret          string `envconfig:"CRON_SECRET"`
	JWTSecret           string `envconfig:"JWT_SECRET"`
	TwilioAccountSID    string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken     string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioPhoneNumber   string `envconfig:"TWILIO_PHONE_NUMBER"`
	SMTPUsername        string `envconfig:"SMTP_USERNAME"`
	SMTPPassword        string `envconfig:"SMTP_PASSWORD"`
	TimezoneCacheBuster string `envconfig:"TIMEZONE_CACHE_BUSTER"`
}

// ErrMissingSecret is wrapped by the Require* helpers.
var ErrMissingSecret = errors.New("missing required secret")

// RequireCron reports whether the cron trigger can authenticate callers.
func (s Secrets) RequireCron() error {
	if s.CronSecret == "" {
		return fmt.Errorf("%w: CRON_SECRET", ErrMissingSecret)
	}
	return nil
}

// RequireProviders reports the first missing delivery credential.
func (s Secrets) RequireProviders() error {
	missing := []string{}
	if s.TwilioAccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if s.TwilioAuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if s.TwilioPhoneNumber == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
	}
	return nil
}

// setDefaults also registers every key, which AutomaticEnv needs to see APP_* overrides on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.public_url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("dispatch.batch_size", 500)
	v.SetDefault("dispatch.concurrency", 8)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.claim_lease", 10*time.Minute)
	v.SetDefault("dispatch.settle_timeout", 30*time.Second)
	v.SetDefault("worker.poll_interval", time.Minute)
	v.SetDefault("worker.health_port", 8081)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("rate_limit.test_sends_per_hour", 5)
	v.SetDefault("rate_limit.test_send_window", time.Hour)
	v.SetDefault("timezones.cache_ttl", 24*time.Hour)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "")
	v.SetDefault("twilio.base_url", "https://api.twilio.com")
	v.SetDefault("twilio.timeout", 10*time.Second)
	v.SetDefault("twilio.messages_per_second", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// LoadConfig reads config.yml (optional), overlays APP_* environment variables and
// loads secrets from the environment.
func LoadConfig() (*Config, error) {
	return Load(viper.New())
}

func Load(v *viper.Viper) (*Config, error) {
	// .env.local is a developer convenience; absence is not an error.
	if err := godotenv.Load(".env.local"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env.local: %w", err)
	}

	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &config.Secrets); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
