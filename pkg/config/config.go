package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "DROPMART"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "DROPMART_DB_DSN"
	EnvDBHost = "DROPMART_DB_HOST"
	EnvDBUser = "DROPMART_DB_USER"
	EnvDBName = "DROPMART_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AuthRateLimit AuthRateLimitConfig
	Password      PasswordConfig
	Margin        MarginConfig
	Checkout      CheckoutConfig
	MercadoPago   MercadoPagoConfig
	Dispatch      DispatchConfig
	Cron          CronConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
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
	Env          string `envconfig:"DROPMART_APP_ENV" required:"true"`
	Port         string `envconfig:"DROPMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DROPMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DROPMART_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"DROPMART_AUTO_MIGRATE" default:"false"`

	CORSOrigins []string `envconfig:"DROPMART_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"DROPMART_DB_DSN"`
	Driver string `envconfig:"DROPMART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DROPMART_DB_HOST"`
	LegacyPort     int    `envconfig:"DROPMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DROPMART_DB_USER"`
	LegacyPassword string `envconfig:"DROPMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"DROPMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"DROPMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DROPMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DROPMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DROPMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DROPMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DROPMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DROPMART_REDIS_ADDR"`
	Password     string        `envconfig:"DROPMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"DROPMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DROPMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DROPMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DROPMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DROPMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DROPMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"DROPMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DROPMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DROPMART_JWT_EXPIRATION_MINUTES" default:"1440"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"DROPMART_AUTH_RL_LOGIN_WINDOW" default:"1m"`
	LoginIPLimit       int           `envconfig:"DROPMART_AUTH_RL_LOGIN_IP_LIMIT" default:"10"`
	LoginEmailLimit    int           `envconfig:"DROPMART_AUTH_RL_LOGIN_EMAIL_LIMIT" default:"5"`
	RegisterWindow     time.Duration `envconfig:"DROPMART_AUTH_RL_REGISTER_WINDOW" default:"1h"`
	RegisterIPLimit    int           `envconfig:"DROPMART_AUTH_RL_REGISTER_IP_LIMIT" default:"10"`
	RegisterEmailLimit int           `envconfig:"DROPMART_AUTH_RL_REGISTER_EMAIL_LIMIT" default:"3"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"DROPMART_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"DROPMART_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"DROPMART_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"DROPMART_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"DROPMART_ARGON_KEY_LEN" default:"32"`
}

// MarginConfig holds the sale gate thresholds. ZeroProcessingCost is the
// operating profile where payment fees are absorbed upstream and the gate
// relaxes to RelaxedMinimum.
type MarginConfig struct {
	Minimum            string `envconfig:"DROPMART_MARGIN_MINIMUM" default:"0.40"`
	RelaxedMinimum     string `envconfig:"DROPMART_MARGIN_RELAXED_MINIMUM" default:"0.10"`
	ZeroProcessingCost bool   `envconfig:"DROPMART_MARGIN_ZERO_PROCESSING_COST" default:"false"`
	FeeRate            string `envconfig:"DROPMART_PAYMENT_FEE_RATE" default:"0.05"`
}

type CheckoutConfig struct {
	PriceEpsilon    string        `envconfig:"DROPMART_CHECKOUT_PRICE_EPSILON" default:"0.05"`
	RatePerMinute   int           `envconfig:"DROPMART_CHECKOUT_RATE_PER_MINUTE" default:"10"`
	ProviderTries   int           `envconfig:"DROPMART_CHECKOUT_PROVIDER_TRIES" default:"3"`
	ProviderTimeout time.Duration `envconfig:"DROPMART_CHECKOUT_PROVIDER_TIMEOUT" default:"10s"`
}

type MercadoPagoConfig struct {
	AccessToken   string `envconfig:"DROPMART_MP_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"DROPMART_MP_WEBHOOK_SECRET"`
	SuccessURL    string `envconfig:"DROPMART_MP_SUCCESS_URL"`
	FailureURL    string `envconfig:"DROPMART_MP_FAILURE_URL"`
	WebhookURL    string `envconfig:"DROPMART_MP_WEBHOOK_URL"`
}

type DispatchConfig struct {
	Transport     string        `envconfig:"DROPMART_DISPATCH_TRANSPORT" default:"http"`
	NotifyTimeout time.Duration `envconfig:"DROPMART_DISPATCH_NOTIFY_TIMEOUT" default:"15s"`
	RetryAge      time.Duration `envconfig:"DROPMART_DISPATCH_RETRY_AGE" default:"15m"`
}

type CronConfig struct {
	TickInterval    time.Duration `envconfig:"DROPMART_CRON_TICK_INTERVAL" default:"1m"`
	PendingOrderTTL time.Duration `envconfig:"DROPMART_CRON_PENDING_ORDER_TTL" default:"24h"`
	MetricsPort     string        `envconfig:"DROPMART_CRON_METRICS_PORT" default:"9091"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DROPMART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"DROPMART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DROPMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SupplierTopic string `envconfig:"DROPMART_PUBSUB_SUPPLIER_TOPIC" default:"dm-supplier-dispatch"`
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
