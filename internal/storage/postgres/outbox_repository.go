package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const defaultOutboxBatch = 100

// Статусы строк outbox_messages.
const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

// OutboxRepository - transactional outbox в таблице outbox_messages.
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт outbox поверх открытого Store.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{db: store.DB()}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return insertOutbox(ctx, r.db, msg)
}

// insertOutbox пишет сообщение через q; OrderStore передаёт сюда свою транзакцию.
func insertOutbox(ctx context.Context, q querier, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Attempts = 0
	msg.CreatedAt = time.Now().UTC()

	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox_messages
			(id, aggregate_type, aggregate_id, event_type, topic, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Topic, msg.Payload, outboxPending, msg.CreatedAt)
	if err != nil {
		return domain.OutboxMessage{}, storageErr("enqueue outbox message", err)
	}
	return msg, nil
}

// Pending читает очередь без блокировок: в роли order-service работает один worker.
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, topic, payload, attempt_count, created_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, outboxPending, limit)
	if err != nil {
		return nil, storageErr("select pending outbox messages", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType,
			&msg.Topic, &msg.Payload, &msg.Attempts, &msg.CreatedAt)
		if err != nil {
			return nil, storageErr("scan outbox message", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("select pending outbox messages", err)
	}
	return batch, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, outboxSent, sql.NullString{})
}

// MarkFailed сохраняет причину в last_error для разбора оператором.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	var lastError sql.NullString
	if cause != nil {
		lastError = sql.NullString{String: cause.Error(), Valid: true}
	}
	return r.settle(ctx, id, outboxFailed, lastError)
}

func (r *OutboxRepository) settle(ctx context.Context, id, status string, lastError sql.NullString) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    last_error = COALESCE($3, last_error),
		    updated_at = NOW()
		WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		return storageErr("mark outbox message "+status, err)
	}
	return requireAffected(res, domain.ErrOutboxPublish)
}

func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			MIN(created_at) FILTER (WHERE status = $1)
		FROM outbox_messages
	`, outboxPending, outboxFailed).Scan(&stats.PendingCount, &stats.FailedCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, storageErr("outbox stats", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
