package domain

import (
	"context"
	"time"
)

// LedgerChecker - проверка существования записи журнала участника по ключу идемпотентности.
type LedgerChecker interface {
	ExistsByOrderIDAndTransactionID(ctx context.Context, key TransactionKey) (bool, error)
}

// ProductRepository - справочник товаров участника проверки.
type ProductRepository interface {
	ExistsByCode(ctx context.Context, code string) (bool, error)
}

// ValidationRepository - журнал участника проверки товаров.
type ValidationRepository interface {
	LedgerChecker
	FindByOrderIDAndTransactionID(ctx context.Context, key TransactionKey) (Validation, error)
	// Create возвращает ErrDuplicateTransaction, если запись с таким ключом уже есть.
	Create(ctx context.Context, v Validation) (Validation, error)
	Update(ctx context.Context, v Validation) error
}

// PaymentRepository - журнал платёжного участника.
type PaymentRepository interface {
	LedgerChecker
	FindByOrderIDAndTransactionID(ctx context.Context, key TransactionKey) (Payment, error)
	// Create возвращает ErrDuplicateTransaction, если запись с таким ключом уже есть.
	Create(ctx context.Context, p Payment) (Payment, error)
	Update(ctx context.Context, p Payment) error
}

// InventoryRepository - остатки и журнал складского участника.
type InventoryRepository interface {
	LedgerChecker
	FindByProductCode(ctx context.Context, code string) (Inventory, error)
	FindOrderInventories(ctx context.Context, key TransactionKey) ([]OrderInventory, error)
	CreateOrderInventory(ctx context.Context, entry OrderInventory) (OrderInventory, error)
	UpdateAvailable(ctx context.Context, inventoryID string, available int) error
	// WithinTx выполняет fn атомарно: при ошибке ни запись журнала, ни остатки не меняются.
	WithinTx(ctx context.Context, fn func(tx InventoryRepository) error) error
}

// EventPublisher публикует событие саги в topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event SagaEvent) error
}

// OrderRepository хранит заказы order-service.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
}

// EventRepository хранит события саги, которые видит order-service.
type EventRepository interface {
	Save(ctx context.Context, event SagaEvent) (StoredEvent, error)
	FindLast(ctx context.Context, filters EventFilters) (StoredEvent, error)
	FindAll(ctx context.Context) ([]StoredEvent, error)
}

// OrderUnitOfWork сохраняет заказ, начальное событие и сообщение outbox атомарно.
type OrderUnitOfWork interface {
	CreateOrder(ctx context.Context, order Order, event SagaEvent, msg OutboxMessage) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository - очередь transactional outbox. Сообщение остаётся pending,
// пока worker не отметит его sent или failed.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	Pending(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	Stats(ctx context.Context) (OutboxStats, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
//
// Reserve занимает ключ в статусе processing. Живой ключ не перезаписывается:
// вернётся его запись вместе с ErrIdempotencyKeyAlreadyExists или
// ErrIdempotencyHashMismatch. Ключ с истёкшим TTL занимается заново.
type IdempotencyRepository interface {
	Reserve(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	Complete(ctx context.Context, key string, outcome IdempotencyOutcome) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
// Topic задаёт назначение; пустой Topic означает topic по умолчанию у паблишера.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       []byte
	// Attempts - сколько раз сообщение уже пытались опубликовать.
	Attempts  int
	CreatedAt time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// OldestPendingAge возвращает возраст самого старого pending-сообщения на момент now.
func (s OutboxStats) OldestPendingAge(now time.Time) time.Duration {
	if s.PendingCount == 0 || s.OldestPendingAt.IsZero() || now.Before(s.OldestPendingAt) {
		return 0
	}
	return now.Sub(s.OldestPendingAt)
}
