package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	defaultConsumerRetries    = 3
	defaultConsumerRetryDelay = 200 * time.Millisecond
	maxConsumerRetryDelay     = 5 * time.Second
)

// Исходы обработки сообщения для saga_kafka_messages_total.
const (
	outcomeHandled    = "handled"
	outcomeDeadLetter = "dead_letter"
	outcomeRedeliver  = "redeliver"
)

var consumedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "saga_kafka_messages_total",
	Help: "Kafka messages consumed by saga roles grouped by topic and outcome.",
}, []string{"topic", "outcome"})

// MessageHandler обрабатывает одно сообщение; ошибка запускает повтор.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig описывает подписку consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxRetries - общий бюджет попыток сообщения с учётом x-retry-count.
	MaxRetries int
	RetryDelay time.Duration
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerDeadLetter отправляет сообщения, исчерпавшие попытки, в DLQ через producer.
func WithConsumerDeadLetter(producer *Producer) ConsumerOption {
	return func(c *Consumer) {
		if producer != nil {
			c.dlq = &deadLetter{producer: producer, topic: TopicDeadLetterQueue}
		}
	}
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer читает topics в составе consumer group и подтверждает сообщение
// только после успешной обработки или записи в DLQ.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	dlq        *deadLetter
	maxRetries int
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// NewConsumer подключается к брокерам и создаёт consumer group.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("kafka consumer requires a message handler")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka consumer requires at least one topic")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     cfg.Topics,
		handler:    handler,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     log.WithFields(log.Fields{"component": "kafka-consumer", "group": cfg.GroupID}),
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultConsumerRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultConsumerRetryDelay
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance, поэтому вызывается в цикле.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("consumer session ended with error")
				select {
				case <-ctx.Done():
				case <-time.After(c.retryDelay):
				}
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает партицию последовательно. Неподтверждённое
// сообщение будет прочитано снова после rebalance или рестарта.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			outcome := c.process(ctx, message)
			consumedMessages.WithLabelValues(message.Topic, outcome).Inc()
			if outcome != outcomeRedeliver {
				session.MarkMessage(message, "")
			}
		}
	}
}

// process возвращает исход обработки сообщения.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) string {
	entry := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})
	delivered := retryCountOf(message)

	err := c.handleWithRetry(ctx, message, c.attemptsLeft(delivered), entry)
	if err == nil {
		return outcomeHandled
	}
	if ctx.Err() != nil || !c.dlq.enabled() {
		entry.WithError(err).Error("message left unacknowledged for redelivery")
		return outcomeRedeliver
	}

	if dlqErr := c.dlq.send(context.WithoutCancel(ctx), message, err, delivered+1); dlqErr != nil {
		entry.WithError(dlqErr).WithField("cause", err.Error()).Error("failed to move message to DLQ")
		return outcomeRedeliver
	}
	entry.WithError(err).WithField("retry_count", delivered+1).Warn("message moved to DLQ")
	return outcomeDeadLetter
}

// attemptsLeft уменьшает бюджет на попытки, уже потраченные при прошлых доставках.
func (c *Consumer) attemptsLeft(delivered int) uint {
	left := c.maxRetries - delivered
	if left < 1 {
		return 1
	}
	return uint(left)
}

func (c *Consumer) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage, attempts uint, entry *log.Entry) error {
	return retry.Do(
		func() error { return c.handler(ctx, message) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxConsumerRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			entry.WithError(err).WithField("attempt", n+1).Warn("message handling failed, retrying")
		}),
	)
}

// retryable отсекает ошибки сериализации: повтор того же сообщения их не исправит.
func retryable(err error) bool {
	return domain.ClassifyError(err) != domain.ErrorClassSerialization
}
