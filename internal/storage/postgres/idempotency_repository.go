package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	reserveAttempts       = 2
)

// Живой ключ не трогается; ключ с истёкшим TTL занимается заново вместе с телом ответа.
const reserveKeySQL = `
INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (key) DO UPDATE SET
    request_hash  = EXCLUDED.request_hash,
    response_body = NULL,
    http_status   = NULL,
    status        = EXCLUDED.status,
    ttl_at        = EXCLUDED.ttl_at,
    created_at    = EXCLUDED.created_at,
    updated_at    = EXCLUDED.updated_at
WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
RETURNING key`

// IdempotencyRepository хранит ответы POST /api/order в таблице idempotency_keys.
type IdempotencyRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх открытого Store.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:    store.DB(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) Reserve(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.clock()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Между конфликтом и чтением ключ может удалить cleanup; тогда пробуем ещё раз.
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var reserved string
		err := r.db.QueryRowContext(ctx, reserveKeySQL,
			key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now,
		).Scan(&reserved)
		if err == nil {
			return domain.IdempotencyRecord{
				Key:         key,
				RequestHash: requestHash,
				Status:      domain.IdempotencyStatusProcessing,
				TTLAt:       ttlAt,
				CreatedAt:   now,
				UpdatedAt:   now,
			}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, storageErr("reserve idempotency key", err)
		}

		held, err := r.get(ctx, key)
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			continue
		}
		if err != nil {
			return domain.IdempotencyRecord{}, err
		}
		if held.RequestHash != requestHash {
			return held, domain.ErrIdempotencyHashMismatch
		}
		return held, domain.ErrIdempotencyKeyAlreadyExists
	}
	return domain.IdempotencyRecord{}, fmt.Errorf("%w: idempotency key %s kept changing", domain.ErrStorage, key)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.get(ctx, key)
}

func (r *IdempotencyRepository) get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt32
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1
	`, key).Scan(
		&record.Key, &record.RequestHash, &record.ResponseBody, &httpStatus,
		&status, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, storageErr("get idempotency key", err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("%w: key %s has unknown status %q", domain.ErrStorage, key, status)
	}
	record.HTTPStatus = int(httpStatus.Int32)
	return record, nil
}

// Complete сохраняет итог запроса для воспроизведения повторов.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, outcome domain.IdempotencyOutcome) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if !outcome.Status.Final() {
		return fmt.Errorf("%w: %q", domain.ErrIdempotencyOutcomeNotFinal, outcome.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, http_status = $3, response_body = $4, updated_at = $5
		WHERE key = $1
	`, key, string(outcome.Status), outcome.HTTPStatus, outcome.ResponseBody, r.clock())
	if err != nil {
		return storageErr("complete idempotency key", err)
	}
	return requireAffected(res, domain.ErrIdempotencyKeyNotFound)
}

// DeleteExpired удаляет до limit ключей с TTL не позже before; limit<=0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.clock()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, before, batch)
	if err != nil {
		return 0, storageErr("delete expired idempotency keys", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete expired idempotency keys", err)
	}
	return int(deleted), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
