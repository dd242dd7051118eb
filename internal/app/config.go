package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	log "github.com/sirupsen/logrus"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска любого бинарника саги.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string

	KafkaBrokers       string
	KafkaGroupID       string
	PublishAttempts    int
	ConsumerMaxRetries int

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	RedisAddr       string
	CatalogCacheTTL time.Duration

	PaymentMinAmount float64

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxMaxAttempts    int
	OutboxRetryBaseDelay time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LogLevel string
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		GRPCAddr:                    ":50051",
		KafkaBrokers:                "localhost:9092",
		PublishAttempts:             3,
		ConsumerMaxRetries:          3,
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         false,
		CatalogCacheTTL:             5 * time.Minute,
		PaymentMinAmount:            0.1,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryBaseDelay:        100 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  5 * time.Minute,
		IdempotencyCleanupBatchSize: 300,
		LogLevel:                    "info",
	}
}

// LoadConfigFromEnv накладывает переменные окружения на DefaultConfig и валидирует результат.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	env := envReader{}

	env.str("SAGA_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("SAGA_METRICS_ADDR", &cfg.MetricsAddr)
	env.str("SAGA_GRPC_HEALTH_ADDR", &cfg.GRPCAddr)
	env.str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.str("KAFKA_GROUP_ID", &cfg.KafkaGroupID)
	env.integer("SAGA_PUBLISH_ATTEMPTS", &cfg.PublishAttempts)
	env.integer("SAGA_CONSUMER_MAX_RETRIES", &cfg.ConsumerMaxRetries)
	env.str("SAGA_STORAGE_DRIVER", &cfg.StorageDriver)
	env.str("SAGA_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("SAGA_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.str("SAGA_REDIS_ADDR", &cfg.RedisAddr)
	env.duration("SAGA_CATALOG_CACHE_TTL", &cfg.CatalogCacheTTL)
	env.float("SAGA_PAYMENT_MIN_AMOUNT", &cfg.PaymentMinAmount)
	env.duration("SAGA_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("SAGA_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("SAGA_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("SAGA_OUTBOX_RETRY_BASE_DELAY", &cfg.OutboxRetryBaseDelay)
	env.duration("SAGA_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	env.duration("SAGA_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.integer("SAGA_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)
	env.str("LOG_LEVEL", &cfg.LogLevel)

	if env.err != nil {
		return Config{}, env.err
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MetricsAddr, validation.Required),
		validation.Field(&c.KafkaBrokers, validation.Required),
		validation.Field(&c.StorageDriver, validation.Required, validation.In(StorageDriverMemory, StorageDriverPostgres)),
		validation.Field(&c.PostgresDSN, validation.Required.When(c.StorageDriver == StorageDriverPostgres)),
		validation.Field(&c.PublishAttempts, validation.Min(1)),
		validation.Field(&c.ConsumerMaxRetries, validation.Min(0)),
		validation.Field(&c.PaymentMinAmount, validation.Min(0.0)),
		validation.Field(&c.CatalogCacheTTL, validation.Required.When(c.RedisAddr != "")),
		validation.Field(&c.OutboxPollInterval, validation.Required),
		validation.Field(&c.OutboxBatchSize, validation.Min(1)),
		validation.Field(&c.OutboxMaxAttempts, validation.Min(1)),
		validation.Field(&c.IdempotencyTTL, validation.Required),
		validation.Field(&c.IdempotencyCleanupInterval, validation.Required),
		validation.Field(&c.IdempotencyCleanupBatchSize, validation.Min(1)),
		validation.Field(&c.LogLevel, validation.By(func(value interface{}) error {
			_, err := log.ParseLevel(value.(string))
			return err
		})),
	)
}

// Brokers возвращает список брокеров Kafka.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// GroupID возвращает consumer group: явный KAFKA_GROUP_ID или fallback роли.
func (c Config) GroupID(fallback string) string {
	if c.KafkaGroupID != "" {
		return c.KafkaGroupID
	}
	return fallback
}

// envReader запоминает первую ошибку разбора.
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *envReader) fail(key, value string, err error) {
	r.err = fmt.Errorf("parse %s=%q: %w", key, value, err)
}

func (r *envReader) str(key string, dst *string) {
	if value, ok := r.lookup(key); ok {
		*dst = value
	}
}

func (r *envReader) integer(key string, dst *int) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (r *envReader) float(key string, dst *float64) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (r *envReader) boolean(key string, dst *bool) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = parsed
}

// SetupLogger настраивает формат и уровень логирования бинарника.
func SetupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}
