package app

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/httpapi"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/inventory"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/order"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/payment"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/validation"
)

func buildComponent(ctx context.Context, role Role, cfg Config, deps *runtimeDependencies, producer *kafka.Producer, m *metrics.SagaMetrics, logger *log.Entry) (*component, error) {
	topics := kafka.DefaultTopics()
	dispatcherOpts := []kafka.DispatcherOption{
		kafka.WithDispatcherLogger(logger.WithField("layer", "dispatcher")),
		kafka.WithDispatcherMetrics(m),
		kafka.WithDeadLetter(producer, topics.DeadLetter),
	}

	switch role {
	case RoleOrderService:
		return buildOrderService(ctx, cfg, deps, producer, topics, dispatcherOpts, logger)
	case RoleOrchestrator:
		orchestrator := saga.NewOrchestrator(producer, topics,
			saga.WithLogger(logger.WithField("layer", "orchestrator")),
			saga.WithMetrics(m),
		)
		dispatcher := kafka.NewOrchestratorDispatcher(orchestrator, topics, dispatcherOpts...)
		consumer, err := startConsumer(ctx, cfg, cfg.GroupID(string(role)), dispatcher.Topics(), dispatcher.Handle, producer, logger)
		if err != nil {
			return nil, err
		}
		return &component{consumer: consumer}, nil
	case RoleProductValidation, RolePayment, RoleInventory:
		handler, err := newParticipantHandler(role, cfg, deps, m, logger)
		if err != nil {
			return nil, err
		}
		dispatcher := kafka.NewParticipantDispatcher(handler, producer, topics, dispatcherOpts...)
		consumer, err := startConsumer(ctx, cfg, cfg.GroupID(string(role)), dispatcher.Topics(), dispatcher.Handle, producer, logger)
		if err != nil {
			return nil, err
		}
		return &component{consumer: consumer}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

// newParticipantHandler собирает Runner участника поверх его хранилищ.
func newParticipantHandler(role Role, cfg Config, deps *runtimeDependencies, m *metrics.SagaMetrics, logger *log.Entry) (saga.Handler, error) {
	opts := []saga.RunnerOption{
		saga.WithLogger(logger.WithField("layer", "participant")),
		saga.WithMetrics(m),
	}

	switch role {
	case RoleProductValidation:
		return saga.NewRunner[domain.Validation](validation.NewParticipant(deps.catalog, deps.validations), opts...), nil
	case RolePayment:
		participant := payment.NewParticipant(deps.payments, payment.WithMinAmount(cfg.PaymentMinAmount))
		return saga.NewRunner[domain.Payment](participant, opts...), nil
	case RoleInventory:
		return saga.NewRunner[[]domain.OrderInventory](inventory.NewParticipant(deps.inventories), opts...), nil
	default:
		return nil, fmt.Errorf("role %q is not a saga participant", role)
	}
}

// newOrderAPI собирает сервис заказов и его HTTP API.
func newOrderAPI(cfg Config, deps *runtimeDependencies, startTopic string, logger *log.Entry) (*order.Service, http.Handler) {
	svc := order.NewService(deps.orders, deps.orders, deps.orders,
		order.WithLogger(logger.WithField("layer", "order-service")),
		order.WithStartTopic(startTopic),
	)
	keeper := idempotency.NewKeeper(deps.idempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithKeeperLogger(logger.WithField("layer", "idempotency")),
	)
	return svc, httpapi.NewRouter(httpapi.NewHandler(svc, keeper, logger.WithField("layer", "http")))
}

func buildOrderService(ctx context.Context, cfg Config, deps *runtimeDependencies, producer *kafka.Producer, topics kafka.Topics, dispatcherOpts []kafka.DispatcherOption, logger *log.Entry) (*component, error) {
	svc, router := newOrderAPI(cfg, deps, topics.Start, logger)

	worker := outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(producer, topics.Start),
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, topics.DeadLetter), topics.DeadLetter),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryBaseDelay),
	)
	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	notify := kafka.NewNotifyDispatcher(svc, topics, dispatcherOpts...)
	consumer, err := startConsumer(ctx, cfg, cfg.GroupID(string(RoleOrderService)), notify.Topics(), notify.Handle, producer, logger)
	if err != nil {
		return nil, err
	}

	return &component{
		consumer: consumer,
		httpSrv:  &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: shutdownTimeout},
		workers:  []func(context.Context){worker.Run, cleanup.Run},
	}, nil
}
