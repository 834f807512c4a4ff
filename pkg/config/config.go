package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix scopes every environment variable the service reads.
const EnvPrefix = "SHOPLINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "SHOPLINE_DB_DSN"
	EnvDBHost = "SHOPLINE_DB_HOST"
	EnvDBUser = "SHOPLINE_DB_USER"
	EnvDBName = "SHOPLINE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Razorpay   RazorpayConfig
	Shiprocket ShiprocketConfig
	Orders     OrdersConfig
	Returns    ReturnsConfig
	Cron       CronConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	Webhooks   WebhooksConfig
	Features   FeatureFlagsConfig
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
	Env          string `envconfig:"SHOPLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPLINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPLINE_DB_DSN"`
	Driver string `envconfig:"SHOPLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPLINE_DB_USER"`
	LegacyPassword string `envconfig:"SHOPLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPLINE_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SHOPLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SHOPLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SHOPLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RazorpayConfig struct {
	KeyID         string        `envconfig:"SHOPLINE_RAZORPAY_KEY_ID" required:"true"`
	KeySecret     string        `envconfig:"SHOPLINE_RAZORPAY_KEY_SECRET" required:"true"`
	WebhookSecret string        `envconfig:"SHOPLINE_RAZORPAY_WEBHOOK_SECRET" required:"true"`
	BaseURL       string        `envconfig:"SHOPLINE_RAZORPAY_BASE_URL" default:"https://api.razorpay.com/v1"`
	Timeout       time.Duration `envconfig:"SHOPLINE_RAZORPAY_TIMEOUT" default:"15s"`
}

type ShiprocketConfig struct {
	Email          string        `envconfig:"SHOPLINE_SHIPROCKET_EMAIL" required:"true"`
	Password       string        `envconfig:"SHOPLINE_SHIPROCKET_PASSWORD" required:"true"`
	BaseURL        string        `envconfig:"SHOPLINE_SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in/v1/external"`
	PickupLocation string        `envconfig:"SHOPLINE_SHIPROCKET_PICKUP_LOCATION" default:"Primary"`
	PickupPincode  string        `envconfig:"SHOPLINE_SHIPROCKET_PICKUP_PINCODE" required:"true"`
	TokenTTL       time.Duration `envconfig:"SHOPLINE_SHIPROCKET_TOKEN_TTL" default:"216h"`
	Timeout        time.Duration `envconfig:"SHOPLINE_SHIPROCKET_TIMEOUT" default:"20s"`
}

type OrdersConfig struct {
	// Amounts are in paise, matching the order rows.
	FreeShippingMinPaise int           `envconfig:"SHOPLINE_ORDERS_FREE_SHIPPING_MIN" default:"100000"`
	FlatShippingPaise    int           `envconfig:"SHOPLINE_ORDERS_FLAT_SHIPPING_FEE" default:"5000"`
	CancellationWindow   time.Duration `envconfig:"SHOPLINE_ORDERS_CANCELLATION_WINDOW" default:"24h"`
}

type ReturnsConfig struct {
	WindowDays int `envconfig:"SHOPLINE_RETURNS_WINDOW_DAYS" default:"7"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"SHOPLINE_CRON_INTERVAL" default:"5m"`
	SweepBatchSize int           `envconfig:"SHOPLINE_CRON_SWEEP_BATCH_SIZE" default:"25"`
	LockTTL        time.Duration `envconfig:"SHOPLINE_CRON_LOCK_TTL" default:"10m"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SHOPLINE_GCP_PROJECT_ID" required:"true"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"SHOPLINE_PUBSUB_DOMAIN_TOPIC" required:"true"`
	DomainSubscription string `envconfig:"SHOPLINE_PUBSUB_DOMAIN_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SHOPLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SHOPLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SHOPLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type WebhooksConfig struct {
	ReplayGuardTTL time.Duration `envconfig:"SHOPLINE_WEBHOOKS_REPLAY_GUARD_TTL" default:"72h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPLINE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
