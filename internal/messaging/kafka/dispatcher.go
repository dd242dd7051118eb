package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

// Intent - что участник должен сделать с входящим событием.
type Intent string

const (
	IntentForward    Intent = "forward"
	IntentCompensate Intent = "compensate"
)

// DispatcherOption настраивает диспетчеры.
type DispatcherOption func(*dispatcherBase)

// WithDispatcherLogger задаёт logger диспетчера.
func WithDispatcherLogger(logger *log.Entry) DispatcherOption {
	return func(d *dispatcherBase) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMetrics задаёт метрики диспетчера.
func WithDispatcherMetrics(m *metrics.SagaMetrics) DispatcherOption {
	return func(d *dispatcherBase) { d.metrics = m }
}

// WithDeadLetter включает сохранение нечитаемых сообщений в DLQ.
func WithDeadLetter(producer *Producer, topic string) DispatcherOption {
	return func(d *dispatcherBase) {
		if producer != nil {
			d.dlq = &deadLetter{producer: producer, topic: topic}
		}
	}
}

// WithPublishRetry задаёт повторы публикации результата участника.
// MaxAttempts < 1 означает повторы до отмены ctx.
func WithPublishRetry(cfg RetryConfig) DispatcherOption {
	return func(d *dispatcherBase) { d.publishRetry = cfg }
}

type dispatcherBase struct {
	logger       *log.Entry
	metrics      *metrics.SagaMetrics
	dlq          *deadLetter
	publishRetry RetryConfig
}

func newDispatcherBase(component string, opts []DispatcherOption) dispatcherBase {
	base := dispatcherBase{
		logger:       log.WithField("component", component),
		publishRetry: RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

// decode разбирает событие. Нечитаемое сообщение не несёт идентичности саги,
// поэтому его нельзя компенсировать: оно логируется, учитывается в метриках,
// по возможности уходит в DLQ и подтверждается.
func (d *dispatcherBase) decode(ctx context.Context, message *sarama.ConsumerMessage) (domain.SagaEvent, bool) {
	event, err := ToEvent(message.Value)
	if err == nil {
		return event, true
	}

	d.metrics.RecordDropped("decode")
	entry := d.logger.WithError(err).WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"data_loss": true,
	})
	if d.dlq.enabled() {
		if dlqErr := d.dlq.send(ctx, message, err, retryCountOf(message)); dlqErr != nil {
			entry = entry.WithField("dlq_error", dlqErr.Error())
		} else {
			entry = entry.WithField("dlq", true)
		}
	}
	entry.Error("dropping undecodable saga message")
	return domain.SagaEvent{}, false
}

// ParticipantDispatcher принимает сообщения участника, выбирает прямой шаг или
// компенсацию и всегда публикует результат оркестратору.
type ParticipantDispatcher struct {
	dispatcherBase
	handler   saga.Handler
	publisher domain.EventPublisher
	topics    ParticipantTopics
	replyTo   string
}

// NewParticipantDispatcher создаёт диспетчер для участника.
func NewParticipantDispatcher(handler saga.Handler, publisher domain.EventPublisher, topics Topics, opts ...DispatcherOption) *ParticipantDispatcher {
	return &ParticipantDispatcher{
		dispatcherBase: newDispatcherBase("saga-dispatcher", opts),
		handler:        handler,
		publisher:      publisher,
		topics:         topics.For(handler.Source()),
		replyTo:        topics.Orchestrator,
	}
}

// Topics возвращает топики, на которые подписывается участник.
func (d *ParticipantDispatcher) Topics() []string {
	return []string{d.topics.Forward, d.topics.Compensate}
}

// IntentFor определяет действие по топику, а для неизвестного топика по статусу события.
func (d *ParticipantDispatcher) IntentFor(topic string, status domain.SagaStatus) Intent {
	switch topic {
	case d.topics.Forward:
		return IntentForward
	case d.topics.Compensate:
		return IntentCompensate
	}
	if status == domain.SagaStatusFail {
		return IntentCompensate
	}
	return IntentForward
}

// Handle реализует MessageHandler. Шаг участника выполняется один раз на сообщение,
// повторяется только публикация результата. Ошибка возвращается, когда публикация
// не удалась до отмены ctx (или исчерпания WithPublishRetry): сообщение не подтверждается.
func (d *ParticipantDispatcher) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, ok := d.decode(ctx, message)
	if !ok {
		return nil
	}

	intent := d.IntentFor(message.Topic, event.Status)
	var result domain.SagaEvent
	switch intent {
	case IntentCompensate:
		result = d.handler.HandleCompensation(ctx, event)
	default:
		result = d.handler.HandleForward(ctx, event)
	}

	d.logger.WithFields(log.Fields{
		"source":         d.handler.Source(),
		"intent":         intent,
		"order_id":       result.OrderID,
		"transaction_id": result.TransactionID,
		"status":         result.Status,
	}).Debug("saga message handled")

	return d.publishResult(ctx, result)
}

func (d *ParticipantDispatcher) publishResult(ctx context.Context, result domain.SagaEvent) error {
	var attempts uint
	if d.publishRetry.MaxAttempts > 0 {
		attempts = uint(d.publishRetry.MaxAttempts)
	}
	entry := d.logger.WithFields(log.Fields{
		"topic":          d.replyTo,
		"order_id":       result.OrderID,
		"transaction_id": result.TransactionID,
		"status":         result.Status,
	})

	return retry.Do(
		func() error { return d.publisher.Publish(ctx, d.replyTo, result) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(d.publishRetry.InitialDelay),
		retry.MaxDelay(d.publishRetry.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			entry.WithError(err).WithField("attempt", n+1).Warn("saga result publish failed, retrying")
		}),
	)
}

// OrchestratorDispatcher направляет входящие сообщения оркестратора в Start, Continue или Finish.
type OrchestratorDispatcher struct {
	dispatcherBase
	orchestrator *saga.Orchestrator
	topics       Topics
}

// NewOrchestratorDispatcher создаёт диспетчер оркестратора.
func NewOrchestratorDispatcher(orchestrator *saga.Orchestrator, topics Topics, opts ...DispatcherOption) *OrchestratorDispatcher {
	return &OrchestratorDispatcher{
		dispatcherBase: newDispatcherBase("orchestrator-dispatcher", opts),
		orchestrator:   orchestrator,
		topics:         topics,
	}
}

// Topics возвращает топики, на которые подписывается оркестратор.
func (d *OrchestratorDispatcher) Topics() []string {
	return d.topics.OrchestratorInbound()
}

// Handle реализует MessageHandler.
func (d *OrchestratorDispatcher) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, ok := d.decode(ctx, message)
	if !ok {
		return nil
	}

	var err error
	switch message.Topic {
	case d.topics.Start:
		_, err = d.orchestrator.Start(ctx, event)
	case d.topics.FinishSuccess:
		_, err = d.orchestrator.Finish(ctx, event, domain.SagaOutcomeSuccess)
	case d.topics.FinishFail:
		_, err = d.orchestrator.Finish(ctx, event, domain.SagaOutcomeFailed)
	default:
		_, err = d.orchestrator.Continue(ctx, event)
	}
	return err
}

// EndingNotifier принимает итоговое событие саги.
type EndingNotifier interface {
	NotifyEnding(ctx context.Context, event domain.SagaEvent) (domain.StoredEvent, error)
}

// NotifyDispatcher передаёт события из notify-ending в order-service.
type NotifyDispatcher struct {
	dispatcherBase
	notifier EndingNotifier
	topic    string
}

// NewNotifyDispatcher создаёт диспетчер уведомлений о завершении саги.
func NewNotifyDispatcher(notifier EndingNotifier, topics Topics, opts ...DispatcherOption) *NotifyDispatcher {
	return &NotifyDispatcher{
		dispatcherBase: newDispatcherBase("notify-dispatcher", opts),
		notifier:       notifier,
		topic:          topics.NotifyEnding(),
	}
}

// Topics возвращает топики order-service.
func (d *NotifyDispatcher) Topics() []string {
	return []string{d.topic}
}

// Handle реализует MessageHandler.
func (d *NotifyDispatcher) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, ok := d.decode(ctx, message)
	if !ok {
		return nil
	}
	_, err := d.notifier.NotifyEnding(ctx, event)
	return err
}

var _ saga.TopicResolver = Topics{}
