package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// OrderStore хранит заказы и события саги order-service.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore создаёт PostgreSQL-реализацию репозиториев order-service.
func NewOrderStore(store *Store) *OrderStore {
	return &OrderStore{db: store.DB()}
}

// CreateOrder сохраняет заказ, начальное событие и сообщение outbox в одной транзакции.
func (s *OrderStore) CreateOrder(ctx context.Context, order domain.Order, event domain.SagaEvent, msg domain.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := insertOrder(ctx, tx, order); err != nil {
			return err
		}
		if _, err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		_, err := insertOutbox(ctx, tx, msg)
		return err
	})
}

func (s *OrderStore) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return insertOrder(ctx, s.db, order)
}

func (s *OrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		order    domain.Order
		status   string
		products []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, products, status, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.TransactionID, &products, &status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, storageErr("select order", err)
	}
	if err := json.Unmarshal(products, &order.Products); err != nil {
		return domain.Order{}, fmt.Errorf("%w: decode order products: %v", domain.ErrSerialization, err)
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return storageErr("update order status", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

// Save добавляет версию события саги.
func (s *OrderStore) Save(ctx context.Context, event domain.SagaEvent) (domain.StoredEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return insertEvent(ctx, s.db, event)
}

// FindLast возвращает последнюю версию события по orderId и/или transactionId.
func (s *OrderStore) FindLast(ctx context.Context, filters domain.EventFilters) (domain.StoredEvent, error) {
	if filters.Empty() {
		return domain.StoredEvent{}, domain.ErrEventFilterRequired
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		body     []byte
		storedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT body, stored_at
		FROM saga_events
		WHERE ($1 = '' OR order_id = $1)
		  AND ($2 = '' OR transaction_id = $2)
		ORDER BY seq DESC
		LIMIT 1
	`, strings.TrimSpace(filters.OrderID), strings.TrimSpace(filters.TransactionID)).Scan(&body, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StoredEvent{}, domain.ErrEventNotFound
		}
		return domain.StoredEvent{}, storageErr("select saga event", err)
	}
	return decodeStored(body, storedAt)
}

// FindAll возвращает все события, новые первыми.
func (s *OrderStore) FindAll(ctx context.Context) ([]domain.StoredEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT body, stored_at FROM saga_events ORDER BY seq DESC`)
	if err != nil {
		return nil, storageErr("select saga events", err)
	}
	defer rows.Close()

	events := make([]domain.StoredEvent, 0)
	for rows.Next() {
		var (
			body     []byte
			storedAt time.Time
		)
		if err := rows.Scan(&body, &storedAt); err != nil {
			return nil, storageErr("scan saga event", err)
		}
		stored, err := decodeStored(body, storedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate saga events", err)
	}
	return events, nil
}

func insertOrder(ctx context.Context, q querier, order domain.Order) error {
	products, err := json.Marshal(order.Products)
	if err != nil {
		return fmt.Errorf("%w: encode order products: %v", domain.ErrSerialization, err)
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, transaction_id, products, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, order.ID, order.TransactionID, products, string(order.Status), order.CreatedAt, order.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return storageErr("insert order", err)
	}
	return nil
}

func insertEvent(ctx context.Context, q querier, event domain.SagaEvent) (domain.StoredEvent, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return domain.StoredEvent{}, fmt.Errorf("%w: encode saga event: %v", domain.ErrSerialization, err)
	}
	storedAt := time.Now().UTC()

	if _, err := q.ExecContext(ctx, `
		INSERT INTO saga_events (event_id, order_id, transaction_id, source, status, body, stored_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.ID, event.OrderID, event.TransactionID, string(event.Source), string(event.Status), body, storedAt); err != nil {
		return domain.StoredEvent{}, storageErr("insert saga event", err)
	}
	return domain.StoredEvent{SagaEvent: event.Clone(), StoredAt: storedAt}, nil
}

func decodeStored(body []byte, storedAt time.Time) (domain.StoredEvent, error) {
	var event domain.SagaEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.StoredEvent{}, fmt.Errorf("%w: decode saga event: %v", domain.ErrSerialization, err)
	}
	return domain.StoredEvent{SagaEvent: event, StoredAt: storedAt.UTC()}, nil
}

var (
	_ domain.OrderRepository = (*OrderStore)(nil)
	_ domain.EventRepository = (*OrderStore)(nil)
	_ domain.OrderUnitOfWork = (*OrderStore)(nil)
)
