package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	aggregateTypeOrder   = "order"
	eventTypeSagaStarted = "SagaStarted"

	// DefaultStartTopic - топик, в который уходит начальное событие саги.
	DefaultStartTopic = "start-saga"
)

// Service принимает заказы, запускает сагу через outbox и принимает итоговые события.
type Service struct {
	orders     domain.OrderRepository
	events     domain.EventRepository
	uow        domain.OrderUnitOfWork
	startTopic string
	logger     *log.Entry
	clock      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStartTopic переопределяет топик начального события.
func WithStartTopic(topic string) Option {
	return func(s *Service) {
		if topic != "" {
			s.startTopic = topic
		}
	}
}

// WithClock задаёт источник времени.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, events domain.EventRepository, uow domain.OrderUnitOfWork, opts ...Option) *Service {
	s := &Service{
		orders:     orders,
		events:     events,
		uow:        uow,
		startTopic: DefaultStartTopic,
		logger:     log.WithField("component", "order-service"),
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder сохраняет заказ и в той же транзакции ставит начальное событие саги в outbox.
func (s *Service) CreateOrder(ctx context.Context, products []domain.OrderProduct) (domain.Order, error) {
	now := s.clock()
	order := domain.Order{
		ID:            uuid.NewString(),
		Products:      append([]domain.OrderProduct(nil), products...),
		TransactionID: domain.NewTransactionID(now),
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	snapshot := order.Snapshot()
	if err := snapshot.Validate(); err != nil {
		return domain.Order{}, err
	}

	event := domain.NewSagaEvent(snapshot, now)
	payload, err := json.Marshal(event)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: encode start event: %v", domain.ErrSerialization, err)
	}

	msg := domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     eventTypeSagaStarted,
		Topic:         s.startTopic,
		Payload:       payload,
	}

	if err := s.uow.CreateOrder(ctx, order, event, msg); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to create order")
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"transaction_id": order.TransactionID,
	}).Info("order created, saga scheduled")
	return order, nil
}

// NotifyEnding сохраняет итоговое событие саги и обновляет статус заказа.
func (s *Service) NotifyEnding(ctx context.Context, event domain.SagaEvent) (domain.StoredEvent, error) {
	stored, err := s.events.Save(ctx, event)
	if err != nil {
		return domain.StoredEvent{}, err
	}

	status := domain.OrderStatusFail
	if event.Status == domain.SagaStatusSuccess {
		status = domain.OrderStatusSuccess
	}

	orderID := event.Key().OrderID
	logger := s.logger.WithFields(log.Fields{
		"order_id":       orderID,
		"transaction_id": event.TransactionID,
		"status":         status,
	})
	if err := s.orders.UpdateStatus(ctx, orderID, status); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("saga finished for unknown order")
			return stored, nil
		}
		return stored, err
	}

	logger.Info("saga finished, order status updated")
	return stored, nil
}

// FindByFilters возвращает последнее событие по orderId или transactionId.
func (s *Service) FindByFilters(ctx context.Context, filters domain.EventFilters) (domain.StoredEvent, error) {
	if filters.Empty() {
		return domain.StoredEvent{}, domain.ErrEventFilterRequired
	}
	return s.events.FindLast(ctx, filters)
}

// FindAll возвращает все сохранённые события, новые первыми.
func (s *Service) FindAll(ctx context.Context) ([]domain.StoredEvent, error) {
	return s.events.FindAll(ctx)
}

// GetOrder возвращает заказ по ID.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.Get(ctx, id)
}
