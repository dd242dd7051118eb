package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// OrderStore - in-memory хранилище order-service: заказы, события саги и outbox.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	events []domain.StoredEvent
	outbox *OutboxRepository
	now    func() time.Time
}

// NewOrderStore возвращает in-memory хранилище для локальной разработки и тестов.
func NewOrderStore(outbox *OutboxRepository) *OrderStore {
	if outbox == nil {
		outbox = NewOutboxRepository()
	}
	return &OrderStore{
		orders: make(map[string]domain.Order),
		outbox: outbox,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Outbox возвращает outbox, в который CreateOrder ставит стартовые события.
func (s *OrderStore) Outbox() *OutboxRepository {
	return s.outbox
}

// CreateOrder сохраняет заказ, начальное событие и сообщение outbox под одной блокировкой.
func (s *OrderStore) CreateOrder(_ context.Context, order domain.Order, event domain.SagaEvent, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}

	s.outbox.mu.Lock()
	s.outbox.enqueueLocked(msg)
	s.outbox.mu.Unlock()

	s.orders[order.ID] = cloneOrder(order)
	s.events = append(s.events, domain.StoredEvent{SagaEvent: event.Clone(), StoredAt: s.now()})
	return nil
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (s *OrderStore) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (s *OrderStore) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// UpdateStatus фиксирует итог саги для заказа.
func (s *OrderStore) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = s.now()
	s.orders[id] = order
	return nil
}

// Save добавляет версию события саги.
func (s *OrderStore) Save(_ context.Context, event domain.SagaEvent) (domain.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := domain.StoredEvent{SagaEvent: event.Clone(), StoredAt: s.now()}
	s.events = append(s.events, stored)
	return stored, nil
}

// FindLast возвращает последнюю сохранённую версию события по фильтрам.
func (s *OrderStore) FindLast(_ context.Context, filters domain.EventFilters) (domain.StoredEvent, error) {
	if filters.Empty() {
		return domain.StoredEvent{}, domain.ErrEventFilterRequired
	}
	orderID := strings.TrimSpace(filters.OrderID)
	transactionID := strings.TrimSpace(filters.TransactionID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if orderID != "" && ev.OrderID != orderID {
			continue
		}
		if transactionID != "" && ev.TransactionID != transactionID {
			continue
		}
		return cloneStored(ev), nil
	}
	return domain.StoredEvent{}, domain.ErrEventNotFound
}

// FindAll возвращает все события, новые первыми.
func (s *OrderStore) FindAll(_ context.Context) ([]domain.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StoredEvent, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		result = append(result, cloneStored(s.events[i]))
	}
	return result, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Products = append([]domain.OrderProduct(nil), src.Products...)
	return dst
}

func cloneStored(src domain.StoredEvent) domain.StoredEvent {
	return domain.StoredEvent{SagaEvent: src.SagaEvent.Clone(), StoredAt: src.StoredAt}
}

var (
	_ domain.OrderRepository = (*OrderStore)(nil)
	_ domain.EventRepository = (*OrderStore)(nil)
	_ domain.OrderUnitOfWork = (*OrderStore)(nil)
)
