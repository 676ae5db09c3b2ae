package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Payments     PaymentsConfig
	Telegram     TelegramConfig
	Notifier     NotifierConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LIBRARY_APP_ENV" required:"true"`
	Port         string `envconfig:"LIBRARY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LIBRARY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LIBRARY_LOG_WARN_STACK" default:"false"`
	BaseURL      string `envconfig:"LIBRARY_APP_BASE_URL" default:"http://localhost:8080"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LIBRARY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LIBRARY_DB_DSN"`
	Driver string `envconfig:"LIBRARY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"LIBRARY_DB_HOST"`
	Port     int    `envconfig:"LIBRARY_DB_PORT" default:"5432"`
	User     string `envconfig:"LIBRARY_DB_USER"`
	Password string `envconfig:"LIBRARY_DB_PASSWORD"`
	Name     string `envconfig:"LIBRARY_DB_NAME"`
	SSLMode  string `envconfig:"LIBRARY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LIBRARY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LIBRARY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LIBRARY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LIBRARY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either LIBRARY_DB_DSN or host/user/name settings are required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"LIBRARY_REDIS_URL"`
	Address      string        `envconfig:"LIBRARY_REDIS_ADDR"`
	Password     string        `envconfig:"LIBRARY_REDIS_PASSWORD"`
	DB           int           `envconfig:"LIBRARY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LIBRARY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LIBRARY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LIBRARY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LIBRARY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LIBRARY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LIBRARY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LIBRARY_JWT_ISSUER" default:"library-service"`
	ExpirationMinutes int    `envconfig:"LIBRARY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey     string `envconfig:"LIBRARY_STRIPE_API_KEY"`
	Env        string `envconfig:"LIBRARY_STRIPE_ENV" default:"test"`
	SuccessURL string `envconfig:"LIBRARY_STRIPE_SUCCESS_URL"`
	CancelURL  string `envconfig:"LIBRARY_STRIPE_CANCEL_URL"`
}

type PaymentsConfig struct {
	FineMultiplier  int           `envconfig:"LIBRARY_PAYMENTS_FINE_MULTIPLIER" default:"2"`
	SessionTTL      time.Duration `envconfig:"LIBRARY_PAYMENTS_SESSION_TTL" default:"24h"`
	ProviderTimeout time.Duration `envconfig:"LIBRARY_PAYMENTS_PROVIDER_TIMEOUT" default:"10s"`
}

type TelegramConfig struct {
	BotToken string   `envconfig:"LIBRARY_TELEGRAM_BOT_TOKEN"`
	ChatIDs  []string `envconfig:"LIBRARY_TELEGRAM_CHAT_IDS"`
	APIBase  string   `envconfig:"LIBRARY_TELEGRAM_API_BASE" default:"https://api.telegram.org"`
}

type NotifierConfig struct {
	BatchSize    int           `envconfig:"LIBRARY_NOTIFIER_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"LIBRARY_NOTIFIER_POLL_INTERVAL" default:"2s"`
	MaxAttempts  int           `envconfig:"LIBRARY_NOTIFIER_MAX_ATTEMPTS" default:"10"`
	SendTimeout  time.Duration `envconfig:"LIBRARY_NOTIFIER_SEND_TIMEOUT" default:"10s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"LIBRARY_CRON_INTERVAL" default:"1m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LIBRARY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LIBRARY_AUTO_MIGRATE" default:"false"`
}
