package kafka

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"
)

// RetryConfig конфигурация для retry логики публикации и обработки сообщений.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

func (c RetryConfig) attempts() uint {
	if c.MaxAttempts < 1 {
		return 1
	}
	return uint(c.MaxAttempts)
}

// withRetry выполняет fn с экспоненциальной задержкой, пока не исчерпаны попытки
// или не отменён ctx. Возвращается последняя ошибка.
func withRetry(ctx context.Context, cfg RetryConfig, logger *log.Entry, fields log.Fields, fn func() error) error {
	return retry.Do(
		fn,
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).WithFields(fields).WithField("attempt", n+1).Warn("operation failed, retrying")
		}),
		retry.Delay(cfg.InitialDelay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Attempts(cfg.attempts()),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}
