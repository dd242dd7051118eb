package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
	defaultDLQTopic       = "saga-dlq"
)

// Исход доставки одного сообщения.
const (
	resultSent         = "sent"
	resultRetry        = "retry"
	resultFailed       = "failed"
	resultDeadLettered = "dead_lettered"
	resultDLQFailed    = "dlq_failed"
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_outbox_publish_total",
		Help: "Outbox publish outcomes by result.",
	}, []string{"result"})
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "saga_outbox_pending_records",
		Help: "Outbox records waiting to be published.",
	})
	failedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "saga_outbox_failed_records",
		Help: "Outbox records that exhausted publish attempts.",
	})
	oldestPendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "saga_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

// Settings - параметры outbox worker.
type Settings struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	DLQTopic       string
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

func defaultSettings() Settings {
	return Settings{
		DLQTopic:       defaultDLQTopic,
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
}

// normalize возвращает значения по умолчанию вместо непригодных.
func (s Settings) normalize() Settings {
	def := defaultSettings()
	if s.Logger == nil {
		s.Logger = log.WithField("component", "outbox-worker")
	}
	if s.DLQTopic == "" {
		s.DLQTopic = def.DLQTopic
	}
	if s.PollInterval <= 0 {
		s.PollInterval = def.PollInterval
	}
	if s.BatchSize <= 0 {
		s.BatchSize = def.BatchSize
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = def.MaxAttempts
	}
	if s.RetryBaseDelay < 0 {
		s.RetryBaseDelay = 0
	}
	return s
}

// Option настраивает Worker.
type Option func(*Settings)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Settings) { s.Logger = logger }
}

// WithDLQPublisher включает DLQ: сообщения, исчерпавшие попытки, уходят в topic.
func WithDLQPublisher(publisher domain.OutboxPublisher, topic string) Option {
	return func(s *Settings) {
		s.DLQPublisher = publisher
		s.DLQTopic = topic
	}
}

// WithPollInterval задаёт период опроса.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Settings) { s.PollInterval = interval }
}

// WithBatchSize задаёт число сообщений за цикл.
func WithBatchSize(size int) Option {
	return func(s *Settings) { s.BatchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации в одном цикле.
func WithMaxAttempts(attempts int) Option {
	return func(s *Settings) { s.MaxAttempts = attempts }
}

// WithRetryBaseDelay задаёт начальную задержку backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *Settings) { s.RetryBaseDelay = delay }
}

// Worker публикует pending-сообщения outbox и отмечает их sent или failed.
// Доставка at-least-once: падение между Publish и MarkSent приведёт к повтору.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	settings  Settings
	now       func() time.Time
}

// NewWorker создаёт worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	settings := defaultSettings()
	for _, option := range options {
		option(&settings)
	}
	return &Worker{
		repo:      repo,
		publisher: publisher,
		settings:  settings.normalize(),
		now:       time.Now,
	}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	logger := w.settings.Logger
	if w.repo == nil || w.publisher == nil {
		logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}
	logger.WithFields(log.Fields{
		"poll_interval": w.settings.PollInterval,
		"batch_size":    w.settings.BatchSize,
	}).Info("outbox worker started")

	ticker := time.NewTicker(w.settings.PollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce обрабатывает один батч и возвращает число опубликованных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	batch, err := w.repo.Pending(ctx, w.settings.BatchSize)
	if err != nil {
		w.settings.Logger.WithError(err).Warn("failed to read pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, msg) {
			sent++
		}
	}

	w.observeBacklog(ctx)
	return sent
}

// deliver публикует одно сообщение и фиксирует результат в репозитории.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	logger := w.settings.Logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"order_id":   msg.AggregateID,
		"event_type": msg.EventType,
		"topic":      msg.Topic,
		"attempts":   msg.Attempts,
	})

	publishErr := w.publish(ctx, msg)
	if publishErr == nil {
		if err := w.repo.MarkSent(context.WithoutCancel(ctx), msg.ID); err != nil {
			logger.WithError(err).Warn("outbox message published but not marked sent")
			return false
		}
		return true
	}
	if ctx.Err() != nil {
		// Остановка посреди повторов: сообщение остаётся pending.
		return false
	}

	logger.WithError(publishErr).Error("outbox publish failed")
	publishResults.WithLabelValues(resultFailed).Inc()

	if w.settings.DLQPublisher != nil {
		if err := w.deadLetter(ctx, msg, publishErr); err != nil {
			logger.WithError(err).Warn("failed to move outbox message to DLQ")
			publishResults.WithLabelValues(resultDLQFailed).Inc()
		} else {
			publishResults.WithLabelValues(resultDeadLettered).Inc()
		}
	}
	if err := w.repo.MarkFailed(context.WithoutCancel(ctx), msg.ID, publishErr); err != nil {
		logger.WithError(err).Warn("failed to mark outbox message failed")
	}
	return false
}

func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	attempts := w.settings.MaxAttempts
	err := retry.Do(
		func() error {
			if err := w.publisher.Publish(ctx, msg); err != nil {
				publishResults.WithLabelValues(resultRetry).Inc()
				return err
			}
			publishResults.WithLabelValues(resultSent).Inc()
			return nil
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(w.settings.RetryBaseDelay),
		retry.MaxDelay(defaultRetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %v", domain.ErrOutboxPublish, attempts, err)
	}
	return nil
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.settings.Logger.WithError(err).Warn("failed to collect outbox stats")
		return
	}
	pendingGauge.Set(float64(stats.PendingCount))
	failedGauge.Set(float64(stats.FailedCount))
	oldestPendingGauge.Set(stats.OldestPendingAge(w.now()).Seconds())
}

// deadLetterRecord - запись DLQ для сообщения, которое не удалось опубликовать.
// original_value хранит исходный JSON, чтобы dlq-reprocess вернул его как есть.
type deadLetterRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	OriginalTopic string          `json:"original_topic"`
	OriginalValue json.RawMessage `json:"original_value"`
	ErrorMessage  string          `json:"error_message"`
	FailedAt      time.Time       `json:"failed_at"`
	RetryCount    int             `json:"retry_count"`
}

func newDeadLetterRecord(msg domain.OutboxMessage, cause error, now time.Time) deadLetterRecord {
	value := json.RawMessage(msg.Payload)
	if !json.Valid(msg.Payload) {
		value, _ = json.Marshal(string(msg.Payload))
	}
	return deadLetterRecord{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		OriginalTopic: msg.Topic,
		OriginalValue: value,
		ErrorMessage:  cause.Error(),
		FailedAt:      now.UTC(),
		RetryCount:    msg.Attempts + 1,
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	payload, err := json.Marshal(newDeadLetterRecord(msg, cause, w.now()))
	if err != nil {
		return fmt.Errorf("marshal dlq record: %w", err)
	}
	err = w.settings.DLQPublisher.Publish(context.WithoutCancel(ctx), domain.OutboxMessage{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Topic:         w.settings.DLQTopic,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
