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
	Stripe       StripeConfig
	Admin        AdminConfig
	Moderation   ModerationConfig
	Checkout     CheckoutConfig
	Fingerprint  FingerprintConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Checkout.MinimumCharge(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STORYLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"STORYLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STORYLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STORYLINE_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists the browser origins allowed to call the public API.
	CORSOrigins []string `envconfig:"STORYLINE_CORS_ORIGINS" default:"*"`
	// TrustProxy honors X-Forwarded-For when the API sits behind a load balancer.
	TrustProxy bool `envconfig:"STORYLINE_TRUST_PROXY" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"STORYLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STORYLINE_DB_DSN"`
	Driver string `envconfig:"STORYLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STORYLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"STORYLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STORYLINE_DB_USER"`
	LegacyPassword string `envconfig:"STORYLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"STORYLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"STORYLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STORYLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STORYLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STORYLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STORYLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"STORYLINE_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
	// TxAttempts bounds reruns of a transaction that lost a serialization race.
	TxAttempts int `envconfig:"STORYLINE_DB_TX_ATTEMPTS" default:"3"`
}

// IsSQLite reports whether the connection targets the embedded SQLite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"STORYLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STORYLINE_REDIS_ADDR"`
	Password     string        `envconfig:"STORYLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"STORYLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STORYLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STORYLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STORYLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STORYLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STORYLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey   string `envconfig:"STORYLINE_STRIPE_API_KEY"`
	Secret   string `envconfig:"STORYLINE_STRIPE_SECRET"`
	Env      string `envconfig:"STORYLINE_STRIPE_ENV" default:"test"`
	Currency string `envconfig:"STORYLINE_STRIPE_CURRENCY" default:"usd"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type AdminConfig struct {
	AllowedIPs     []string      `envconfig:"STORYLINE_ADMIN_ALLOWED_IPS"`
	Token          string        `envconfig:"STORYLINE_ADMIN_TOKEN"`
	MaxFailures    int           `envconfig:"STORYLINE_ADMIN_MAX_FAILURES" default:"5"`
	FailureWindow  time.Duration `envconfig:"STORYLINE_ADMIN_FAILURE_WINDOW" default:"15m"`
	Cooldown       time.Duration `envconfig:"STORYLINE_ADMIN_COOLDOWN" default:"15m"`
	ThrottleStore  string        `envconfig:"STORYLINE_ADMIN_THROTTLE_STORE" default:"memory"`
	LineBreakSpace int           `envconfig:"STORYLINE_ADMIN_LINEBREAK_SPACING" default:"10"`
}

type ModerationConfig struct {
	MaxFlagsPerWord        int     `envconfig:"STORYLINE_MODERATION_MAX_FLAGS_PER_WORD" default:"20"`
	MaxFlagsPerFingerprint int     `envconfig:"STORYLINE_MODERATION_MAX_FLAGS_PER_FINGERPRINT" default:"100"`
	OpacityCeiling         float64 `envconfig:"STORYLINE_MODERATION_OPACITY_CEILING" default:"0.75"`
}

type CheckoutConfig struct {
	MinimumAmount string        `envconfig:"STORYLINE_CHECKOUT_MINIMUM_AMOUNT" default:"0.50"`
	MaxActions    int           `envconfig:"STORYLINE_CHECKOUT_MAX_ACTIONS" default:"50"`
	PendingTTL    time.Duration `envconfig:"STORYLINE_CHECKOUT_PENDING_TTL" default:"24h"`
	MaxRefundTry  int           `envconfig:"STORYLINE_CHECKOUT_MAX_REFUND_ATTEMPTS" default:"5"`
}

// MinimumCharge parses the configured processor minimum.
func (c CheckoutConfig) MinimumCharge() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.MinimumAmount)
	if raw == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvCheckoutMinimum, raw, err)
	}
	return amount, nil
}

type FingerprintConfig struct {
	Secret string `envconfig:"STORYLINE_FINGERPRINT_SECRET" required:"true"`
}

type RateLimitConfig struct {
	FlagWindow     time.Duration `envconfig:"STORYLINE_RATE_LIMIT_FLAG_WINDOW" default:"1m"`
	FlagIPLimit    int           `envconfig:"STORYLINE_RATE_LIMIT_FLAG_IP_LIMIT" default:"30"`
	CheckoutWindow time.Duration `envconfig:"STORYLINE_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutLimit  int           `envconfig:"STORYLINE_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STORYLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STORYLINE_AUTO_MIGRATE" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STORYLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STORYLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STORYLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// OrderByAggregate publishes events of one word or checkout in commit order.
	OrderByAggregate bool   `envconfig:"STORYLINE_OUTBOX_ORDER_BY_AGGREGATE" default:"true"`
	MetricsAddr      string `envconfig:"STORYLINE_OUTBOX_METRICS_ADDR" default:":9103"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"STORYLINE_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"STORYLINE_CRON_LOCK_TTL" default:"4m"`

	// JobTimeout caps one job within a cycle; it never exceeds Interval.
	JobTimeout time.Duration `envconfig:"STORYLINE_CRON_JOB_TIMEOUT" default:"3m"`

	// MetricsAddr serves /metrics for the worker; empty disables the listener.
	MetricsAddr string `envconfig:"STORYLINE_CRON_METRICS_ADDR" default:":9102"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STORYLINE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"STORYLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STORYLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	StoryTopic string `envconfig:"STORYLINE_PUBSUB_STORY_TOPIC" default:"sl-story-events"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:storyline.db?cache=shared&_foreign_keys=on"
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
