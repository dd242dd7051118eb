package saga

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const (
	messageSagaStarted  = "Saga started!"
	messageSagaFinished = "Saga finished successfully!"
	messageSagaFailed   = "Saga finished with errors!"
)

// TopicResolver сопоставляет маршруты саги с топиками транспорта.
type TopicResolver interface {
	// ForRoute возвращает топик для маршрута; для Terminal - finish-success/finish-fail.
	ForRoute(route domain.Route) string
	// NotifyEnding - топик уведомления сервиса заказов о завершении саги.
	NotifyEnding() string
}

// Orchestrator управляет переходами саги. Состояния не хранит: следующий шаг
// вычисляется только по source и status входящего события.
type Orchestrator struct {
	publisher domain.EventPublisher
	topics    TopicResolver
	logger    *log.Entry
	metrics   *metrics.SagaMetrics
	clock     func() time.Time
}

// NewOrchestrator создаёт оркестратор поверх публикатора событий.
func NewOrchestrator(publisher domain.EventPublisher, topics TopicResolver, options ...RunnerOption) *Orchestrator {
	opts := runnerOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.logger == nil {
		opts.logger = log.WithField("component", "saga-orchestrator")
	}
	if opts.clock == nil {
		opts.clock = time.Now
	}

	return &Orchestrator{
		publisher: publisher,
		topics:    topics,
		logger:    opts.logger,
		metrics:   opts.metrics,
		clock:     opts.clock,
	}
}

// Start запускает сагу: отмечает старт в истории и передаёт событие первому участнику.
func (o *Orchestrator) Start(ctx context.Context, event domain.SagaEvent) (domain.SagaEvent, error) {
	next := event.Transition(domain.SourceOrchestrator, domain.SagaStatusSuccess, messageSagaStarted, o.clock())
	route := domain.NextRoute(next.Source, next.Status)
	o.metrics.RecordRoute(string(route.Kind))

	if err := o.publish(ctx, o.topics.ForRoute(route), next); err != nil {
		return next, err
	}
	o.logger.WithFields(log.Fields{
		"order_id":       next.OrderID,
		"transaction_id": next.TransactionID,
	}).Info("saga started")
	return next, nil
}

// Continue публикует событие в топик следующего шага без изменения истории.
func (o *Orchestrator) Continue(ctx context.Context, event domain.SagaEvent) (domain.Route, error) {
	route := domain.NextRoute(event.Source, event.Status)
	o.metrics.RecordRoute(string(route.Kind))

	topic := o.topics.ForRoute(route)
	o.logger.WithFields(log.Fields{
		"order_id":       event.OrderID,
		"transaction_id": event.TransactionID,
		"source":         event.Source,
		"status":         event.Status,
		"route":          route.Kind,
		"topic":          topic,
	}).Info("routing saga event")

	return route, o.publish(ctx, topic, event)
}

// Finish фиксирует итог саги и уведомляет сервис заказов.
func (o *Orchestrator) Finish(ctx context.Context, event domain.SagaEvent, outcome domain.SagaOutcome) (domain.SagaEvent, error) {
	var next domain.SagaEvent
	switch outcome {
	case domain.SagaOutcomeSuccess:
		next = event.Transition(domain.SourceOrchestrator, domain.SagaStatusSuccess, messageSagaFinished, o.clock())
	default:
		next = event.Transition(domain.SourceOrchestrator, domain.SagaStatusFail, messageSagaFailed, o.clock())
	}
	o.metrics.RecordFinished(string(outcome))

	if err := o.publish(ctx, o.topics.NotifyEnding(), next); err != nil {
		return next, err
	}
	o.logger.WithFields(log.Fields{
		"order_id":       next.OrderID,
		"transaction_id": next.TransactionID,
		"outcome":        outcome,
	}).Info("saga finished")
	return next, nil
}

func (o *Orchestrator) publish(ctx context.Context, topic string, event domain.SagaEvent) error {
	if err := o.publisher.Publish(ctx, topic, event); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":       event.OrderID,
			"transaction_id": event.TransactionID,
			"topic":          topic,
		}).Error("failed to publish saga event")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
