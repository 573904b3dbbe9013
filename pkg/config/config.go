package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Marketplace  MarketplaceConfig
	Sweeper      SweeperConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Marketplace.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LASTBITE_APP_ENV" required:"true"`
	Port         string `envconfig:"LASTBITE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LASTBITE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LASTBITE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LASTBITE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LASTBITE_DB_DSN"`
	Driver string `envconfig:"LASTBITE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LASTBITE_DB_HOST"`
	LegacyPort     int    `envconfig:"LASTBITE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LASTBITE_DB_USER"`
	LegacyPassword string `envconfig:"LASTBITE_DB_PASSWORD"`
	LegacyName     string `envconfig:"LASTBITE_DB_NAME"`
	LegacySSLMode  string `envconfig:"LASTBITE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LASTBITE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LASTBITE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LASTBITE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LASTBITE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"LASTBITE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxRetries          int           `envconfig:"LASTBITE_DB_TX_RETRIES" default:"2"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LASTBITE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LASTBITE_REDIS_ADDR"`
	Password     string        `envconfig:"LASTBITE_REDIS_PASSWORD"`
	DB           int           `envconfig:"LASTBITE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LASTBITE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LASTBITE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LASTBITE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LASTBITE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LASTBITE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LASTBITE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LASTBITE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LASTBITE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LASTBITE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LASTBITE_AUTO_MIGRATE" default:"false"`
}

// MarketplaceConfig holds the reservation lifecycle knobs.
type MarketplaceConfig struct {
	ReservationTTL     time.Duration   `envconfig:"LASTBITE_RESERVATION_TTL" default:"24h"`
	PickupCodeTTL      time.Duration   `envconfig:"LASTBITE_PICKUP_CODE_TTL" default:"5m"`
	PlatformFeePercent decimal.Decimal `envconfig:"LASTBITE_PLATFORM_FEE_PERCENT" default:"10"`
	PaymentFirst       bool            `envconfig:"LASTBITE_PAYMENT_FIRST" default:"false"`
	Currency           string          `envconfig:"LASTBITE_CURRENCY" default:"eur"`
	CheckoutSuccessURL string          `envconfig:"LASTBITE_CHECKOUT_SUCCESS_URL" default:"https://lastbite.app/checkout/success"`
	CheckoutCancelURL  string          `envconfig:"LASTBITE_CHECKOUT_CANCEL_URL" default:"https://lastbite.app/checkout/cancel"`
}

func (m MarketplaceConfig) validate() error {
	if m.ReservationTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvReservationTTL)
	}
	if m.PickupCodeTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvPickupCodeTTL)
	}
	if m.PlatformFeePercent.IsNegative() || m.PlatformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be between 0 and 100", EnvPlatformFeePercent)
	}
	return nil
}

type SweeperConfig struct {
	Interval          time.Duration `envconfig:"LASTBITE_SWEEP_INTERVAL" default:"2m"`
	BatchSize         int           `envconfig:"LASTBITE_SWEEP_BATCH_SIZE" default:"200"`
	PayoutMaxAttempts int           `envconfig:"LASTBITE_PAYOUT_MAX_ATTEMPTS" default:"3"`
	PayoutLease       time.Duration `envconfig:"LASTBITE_PAYOUT_LEASE" default:"15m"`
	OutboxRetention   time.Duration `envconfig:"LASTBITE_OUTBOX_RETENTION" default:"720h"`
	JobTimeout        time.Duration `envconfig:"LASTBITE_SWEEP_JOB_TIMEOUT" default:"90s"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"LASTBITE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"LASTBITE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string        `envconfig:"LASTBITE_PUBSUB_NOTIFICATION_TOPIC" default:"lb-notification-events"`
	BatchDelay        time.Duration `envconfig:"LASTBITE_PUBSUB_BATCH_DELAY" default:"10ms"`
	BatchCount        int           `envconfig:"LASTBITE_PUBSUB_BATCH_COUNT" default:"100"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LASTBITE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LASTBITE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LASTBITE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type RateLimitConfig struct {
	Enabled  bool          `envconfig:"LASTBITE_RATE_LIMIT_ENABLED" default:"true"`
	Requests int64         `envconfig:"LASTBITE_RATE_LIMIT_REQUESTS" default:"120"`
	Window   time.Duration `envconfig:"LASTBITE_RATE_LIMIT_WINDOW" default:"1m"`
}

type StripeConfig struct {
	APIKey string `envconfig:"LASTBITE_STRIPE_API_KEY"`
	Secret string `envconfig:"LASTBITE_STRIPE_SECRET"`
	Env    string `envconfig:"LASTBITE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
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
