package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

var producedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "saga_kafka_produced_total",
	Help: "Kafka messages published by saga roles grouped by topic and result.",
}, []string{"topic", "result"})

// Producer публикует события саги синхронно: вызов возвращается после подтверждения брокера.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	retry  RetryConfig
}

// ProducerOption настраивает Producer.
type ProducerOption func(*Producer)

// WithProducerRetry задаёт политику повторов публикации.
func WithProducerRetry(cfg RetryConfig) ProducerOption {
	return func(p *Producer) { p.retry = cfg }
}

func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// producerConfig - idempotent producer: acks=all и один запрос в полёте на брокера.
func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer for %v: %w", brokers, err)
	}
	return NewProducerFromSync(sp, opts...), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer (в тестах - mocks.SyncProducer).
func NewProducerFromSync(sp sarama.SyncProducer, opts ...ProducerOption) *Producer {
	p := &Producer{
		sync:   sp,
		logger: log.WithField("component", "kafka-producer"),
		retry:  DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish кодирует событие и публикует его с ключом transactionId (или orderId),
// так что шаги одной саги остаются в одной партиции.
func (p *Producer) Publish(ctx context.Context, topic string, event domain.SagaEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	key := event.TransactionID
	if key == "" {
		key = event.OrderID
	}
	return p.PublishRaw(ctx, topic, key, data, nil)
}

// PublishRaw отправляет готовое значение. Повторы идут по RetryConfig.
func (p *Producer) PublishRaw(ctx context.Context, topic, key string, value []byte, headers []sarama.RecordHeader) error {
	fields := log.Fields{"topic": topic, "key": key}

	err := withRetry(ctx, p.retry, p.logger, fields, func() error {
		// sarama меняет служебные поля сообщения при отправке.
		msg := &sarama.ProducerMessage{
			Topic:     topic,
			Key:       sarama.StringEncoder(key),
			Value:     sarama.ByteEncoder(value),
			Headers:   headers,
			Timestamp: time.Now(),
		}
		partition, offset, err := p.sync.SendMessage(msg)
		if err == nil {
			p.logger.WithFields(fields).WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message delivered")
		}
		return err
	})
	if err != nil {
		producedMessages.WithLabelValues(topic, "error").Inc()
		p.logger.WithError(err).WithFields(fields).Error("kafka publish gave up")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	producedMessages.WithLabelValues(topic, "ok").Inc()
	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

var _ domain.EventPublisher = (*Producer)(nil)
