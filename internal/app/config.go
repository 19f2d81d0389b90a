package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/support"
)

const (
	// StorageDriverMemory хранит всё в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL через pgx.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска витрины.
// Значения читаются viper из переменных окружения и необязательного файла storefront.env.
type Config struct {
	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	MetricsAddr    string `mapstructure:"METRICS_ADDR"`
	GRPCHealthAddr string `mapstructure:"GRPC_HEALTH_ADDR"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`

	StorageDriver       string `mapstructure:"STORAGE_DRIVER"`
	PostgresDSN         string `mapstructure:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `mapstructure:"POSTGRES_AUTO_MIGRATE"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AdminEmails   string `mapstructure:"ADMIN_EMAILS"`

	FrontendURL  string `mapstructure:"FRONTEND_URL"`
	PublicAPIURL string `mapstructure:"PUBLIC_API_URL"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	GatewayBaseURL       string        `mapstructure:"GATEWAY_BASE_URL"`
	GatewayMerchantID    string        `mapstructure:"GATEWAY_MERCHANT_ID"`
	GatewayAccountID     string        `mapstructure:"GATEWAY_ACCOUNT_ID"`
	GatewaySecret        string        `mapstructure:"GATEWAY_SECRET"`
	GatewayRequestFormat string        `mapstructure:"GATEWAY_REQUEST_FORMAT"`
	GatewayTimeout       time.Duration `mapstructure:"GATEWAY_TIMEOUT"`

	PaymentBreakerFailures int           `mapstructure:"PAYMENT_BREAKER_FAILURES"`
	PaymentBreakerReset    time.Duration `mapstructure:"PAYMENT_BREAKER_RESET"`

	ReplyAPIKey  string `mapstructure:"REPLY_API_KEY"`
	ReplyBaseURL string `mapstructure:"REPLY_BASE_URL"`
	ReplyModel   string `mapstructure:"REPLY_MODEL"`

	KafkaBrokers  string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string `mapstructure:"KAFKA_TOPIC"`
	KafkaDLQTopic string `mapstructure:"KAFKA_DLQ_TOPIC"`

	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `mapstructure:"OUTBOX_MAX_ATTEMPTS"`

	StaleOrderAge          time.Duration `mapstructure:"STALE_ORDER_AGE"`
	StaleOrderScanInterval time.Duration `mapstructure:"STALE_ORDER_SCAN_INTERVAL"`

	IdempotencyTTL             time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	IdempotencyCleanupInterval time.Duration `mapstructure:"IDEMPOTENCY_CLEANUP_INTERVAL"`

	WebhookRateRPS   float64 `mapstructure:"WEBHOOK_RATE_RPS"`
	WebhookRateBurst int     `mapstructure:"WEBHOOK_RATE_BURST"`
	ReplyRateRPS     float64 `mapstructure:"REPLY_RATE_RPS"`
	ReplyRateBurst   int     `mapstructure:"REPLY_RATE_BURST"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		MetricsAddr:    ":9090",
		GRPCHealthAddr: ":50051",
		LogLevel:       "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		FrontendURL:  "http://localhost:5173",
		PublicAPIURL: "http://localhost:8080",

		GatewayRequestFormat: string(payment.RequestFormatForm),
		GatewayTimeout:       payment.DefaultGatewayTimeout,

		PaymentBreakerFailures: 5,
		PaymentBreakerReset:    30 * time.Second,

		ReplyBaseURL: support.DefaultReplyBaseURL,
		ReplyModel:   support.DefaultReplyModel,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,

		StaleOrderAge:          30 * time.Minute,
		StaleOrderScanInterval: 5 * time.Minute,

		IdempotencyTTL:             24 * time.Hour,
		IdempotencyCleanupInterval: 10 * time.Minute,

		WebhookRateRPS:   10,
		WebhookRateBurst: 20,
		ReplyRateRPS:     0.5,
		ReplyRateBurst:   5,
	}
}

// LoadConfig читает конфигурацию: defaults < файл storefront.env в path < переменные окружения.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("storefront")
	v.SetConfigType("env")
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("HTTP_ADDR", defaults.HTTPAddr)
	v.SetDefault("METRICS_ADDR", defaults.MetricsAddr)
	v.SetDefault("GRPC_HEALTH_ADDR", defaults.GRPCHealthAddr)
	v.SetDefault("LOG_LEVEL", defaults.LogLevel)
	v.SetDefault("STORAGE_DRIVER", defaults.StorageDriver)
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("POSTGRES_AUTO_MIGRATE", defaults.PostgresAutoMigrate)
	v.SetDefault("AUTH_JWT_SECRET", "")
	v.SetDefault("ADMIN_EMAILS", "")
	v.SetDefault("FRONTEND_URL", defaults.FrontendURL)
	v.SetDefault("PUBLIC_API_URL", defaults.PublicAPIURL)
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("GATEWAY_BASE_URL", "")
	v.SetDefault("GATEWAY_MERCHANT_ID", "")
	v.SetDefault("GATEWAY_ACCOUNT_ID", "")
	v.SetDefault("GATEWAY_SECRET", "")
	v.SetDefault("GATEWAY_REQUEST_FORMAT", defaults.GatewayRequestFormat)
	v.SetDefault("GATEWAY_TIMEOUT", defaults.GatewayTimeout)
	v.SetDefault("PAYMENT_BREAKER_FAILURES", defaults.PaymentBreakerFailures)
	v.SetDefault("PAYMENT_BREAKER_RESET", defaults.PaymentBreakerReset)
	v.SetDefault("REPLY_API_KEY", "")
	v.SetDefault("REPLY_BASE_URL", defaults.ReplyBaseURL)
	v.SetDefault("REPLY_MODEL", defaults.ReplyModel)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "")
	v.SetDefault("KAFKA_DLQ_TOPIC", "")
	v.SetDefault("OUTBOX_POLL_INTERVAL", defaults.OutboxPollInterval)
	v.SetDefault("OUTBOX_BATCH_SIZE", defaults.OutboxBatchSize)
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", defaults.OutboxMaxAttempts)
	v.SetDefault("STALE_ORDER_AGE", defaults.StaleOrderAge)
	v.SetDefault("STALE_ORDER_SCAN_INTERVAL", defaults.StaleOrderScanInterval)
	v.SetDefault("IDEMPOTENCY_TTL", defaults.IdempotencyTTL)
	v.SetDefault("IDEMPOTENCY_CLEANUP_INTERVAL", defaults.IdempotencyCleanupInterval)
	v.SetDefault("WEBHOOK_RATE_RPS", defaults.WebhookRateRPS)
	v.SetDefault("WEBHOOK_RATE_BURST", defaults.WebhookRateBurst)
	v.SetDefault("REPLY_RATE_RPS", defaults.ReplyRateRPS)
	v.SetDefault("REPLY_RATE_BURST", defaults.ReplyRateBurst)

	logger := log.WithField("component", "config")
	if err := v.ReadInConfig(); err == nil {
		logger.WithField("file", v.ConfigFileUsed()).Info("using config file")
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		logger.Debug("no config file found, using environment and defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.AuthJWTSecret) == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// AdminEmailList разбирает ADMIN_EMAILS (через запятую).
func (c Config) AdminEmailList() []string {
	return splitList(c.AdminEmails)
}

// BreakerConfig: настройки circuit breaker для реальных платёжных провайдеров.
func (c Config) BreakerConfig() payment.BreakerConfig {
	return payment.BreakerConfig{MaxFailures: c.PaymentBreakerFailures, ResetTimeout: c.PaymentBreakerReset}
}

// KafkaBrokerList разбирает KAFKA_BROKERS (через запятую).
func (c Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// GatewayConfig собирает настройки прямого шлюза.
func (c Config) GatewayConfig() payment.GatewayConfig {
	return payment.GatewayConfig{
		BaseURL:       strings.TrimSpace(c.GatewayBaseURL),
		MerchantID:    strings.TrimSpace(c.GatewayMerchantID),
		AccountID:     strings.TrimSpace(c.GatewayAccountID),
		Secret:        c.GatewaySecret,
		RequestFormat: payment.ParseRequestFormat(c.GatewayRequestFormat),
		Timeout:       c.GatewayTimeout,
		FrontendURL:   c.FrontendURL,
		PublicAPIURL:  c.PublicAPIURL,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
