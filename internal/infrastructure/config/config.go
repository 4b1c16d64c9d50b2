package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Payout         PayoutConfig         `mapstructure:"payout"`
	Fees           map[string]FeeConfig `mapstructure:"fees"`
	Settlement     SettlementConfig     `mapstructure:"settlement"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Approval       ApprovalConfig       `mapstructure:"approval"`
	Webhook        WebhookConfig        `mapstructure:"webhook"`
	Audit          AuditConfig          `mapstructure:"audit"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// DatabaseConfig selects the store. Driver "memory" keeps everything in
// process and is meant for local runs and tests.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig is optional; webhook dedupe is skipped when URL is empty
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	PoolSize int           `mapstructure:"pool_size"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type PayoutConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimitRPS     float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	BreakerMinCalls  uint32        `mapstructure:"breaker_min_calls"`
	BreakerFailRatio float64       `mapstructure:"breaker_fail_ratio"`
}

// FeeConfig is one method's fee schedule. Rate is a decimal string,
// fees are in cents and zero means unbounded.
type FeeConfig struct {
	Rate   string `mapstructure:"rate"`
	MinFee int64  `mapstructure:"min_fee"`
	MaxFee int64  `mapstructure:"max_fee"`
}

type SettlementConfig struct {
	BatchCron       string        `mapstructure:"batch_cron"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Timezone        string        `mapstructure:"timezone"`
	CutoffHour      int           `mapstructure:"cutoff_hour"`
	OffsetDays      int           `mapstructure:"offset_days"`
	SettlementHour  int           `mapstructure:"settlement_hour"`
	Holidays        []string      `mapstructure:"holidays"`
	// FixedDelay replaces the business-day calendar when set
	FixedDelay time.Duration `mapstructure:"fixed_delay"`
}

type ReconciliationConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	Lookback       time.Duration `mapstructure:"lookback"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	ResubmitAfter  time.Duration `mapstructure:"resubmit_after"`
}

type ApprovalConfig struct {
	RequireRejectReason bool `mapstructure:"require_reject_reason"`
}

type WebhookConfig struct {
	Secret string        `mapstructure:"secret"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type AuditConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	viper.Reset()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.Driver == "postgres" && config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.allowed_origins", []string{"*"})
	viper.SetDefault("server.rate_limit_per_min", 120)

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "settlement_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.auto_migrate", true)

	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dedup_ttl", "72h")

	viper.SetDefault("jwt.issuer", "settlement_service")

	viper.SetDefault("payout.timeout", "15s")
	viper.SetDefault("payout.rate_limit_rps", 10)
	viper.SetDefault("payout.rate_limit_burst", 5)
	viper.SetDefault("payout.max_retries", 3)
	viper.SetDefault("payout.breaker_timeout", "60s")
	viper.SetDefault("payout.breaker_min_calls", 3)
	viper.SetDefault("payout.breaker_fail_ratio", 0.6)

	viper.SetDefault("fees.pix.rate", "0.015")
	viper.SetDefault("fees.pix.min_fee", 0)
	viper.SetDefault("fees.pix.max_fee", 0)
	viper.SetDefault("fees.depix.rate", "0.01")
	viper.SetDefault("fees.depix.min_fee", 0)
	viper.SetDefault("fees.depix.max_fee", 0)

	viper.SetDefault("settlement.batch_cron", "0 */5 * * * *")
	viper.SetDefault("settlement.batch_size", 100)
	viper.SetDefault("settlement.max_concurrency", 8)
	viper.SetDefault("settlement.submit_timeout", "30s")
	viper.SetDefault("settlement.shutdown_timeout", "60s")
	viper.SetDefault("settlement.timezone", "America/Sao_Paulo")
	viper.SetDefault("settlement.cutoff_hour", 17)
	viper.SetDefault("settlement.offset_days", 1)
	viper.SetDefault("settlement.settlement_hour", 9)
	viper.SetDefault("settlement.holidays", []string{})
	viper.SetDefault("settlement.fixed_delay", "0s")

	viper.SetDefault("reconciliation.poll_interval", "30s")
	viper.SetDefault("reconciliation.batch_size", 100)
	viper.SetDefault("reconciliation.max_concurrency", 8)
	viper.SetDefault("reconciliation.lookback", "24h")
	viper.SetDefault("reconciliation.base_backoff", "30s")
	viper.SetDefault("reconciliation.max_backoff", "30m")
	viper.SetDefault("reconciliation.resubmit_after", "2m")

	viper.SetDefault("approval.require_reject_reason", true)

	viper.SetDefault("webhook.max_age", "5m")

	viper.SetDefault("audit.buffer_size", 1024)
	viper.SetDefault("audit.drain_timeout", "5s")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.insecure", true)
	viper.SetDefault("tracing.sample_ratio", 1.0)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		viper.Set("redis.url", redisURL)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}

	if payoutURL := os.Getenv("PAYOUT_BASE_URL"); payoutURL != "" {
		viper.Set("payout.base_url", payoutURL)
	}
	if payoutKey := os.Getenv("PAYOUT_API_KEY"); payoutKey != "" {
		viper.Set("payout.api_key", payoutKey)
	}

	if webhookSecret := os.Getenv("WEBHOOK_SECRET"); webhookSecret != "" {
		viper.Set("webhook.secret", webhookSecret)
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		viper.Set("tracing.endpoint", endpoint)
		viper.Set("tracing.enabled", true)
	}
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	switch config.Database.Driver {
	case "postgres":
		if config.Database.URL == "" {
			return fmt.Errorf("database configuration is incomplete")
		}
	case "memory":
		if config.IsProduction() {
			return fmt.Errorf("memory database driver is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown database driver: %s", config.Database.Driver)
	}

	if strings.TrimSpace(config.Payout.BaseURL) == "" {
		return fmt.Errorf("payout base URL is required")
	}
	if config.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required")
	}

	for method, fee := range config.Fees {
		rate, err := decimal.NewFromString(fee.Rate)
		if err != nil {
			return fmt.Errorf("invalid fee rate for %s: %w", method, err)
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("fee rate for %s must be in [0, 1)", method)
		}
		if fee.MaxFee > 0 && fee.MinFee > fee.MaxFee {
			return fmt.Errorf("min fee for %s exceeds max fee", method)
		}
	}

	if config.Settlement.BatchCron == "" {
		return fmt.Errorf("settlement batch schedule is required")
	}
	if config.Reconciliation.Lookback <= 0 {
		return fmt.Errorf("reconciliation lookback must be positive")
	}
	// a resubmission must not overlap the batch's own submission
	if config.Reconciliation.ResubmitAfter <= config.Settlement.SubmitTimeout {
		return fmt.Errorf("reconciliation resubmit_after must exceed settlement submit_timeout")
	}

	return nil
}
