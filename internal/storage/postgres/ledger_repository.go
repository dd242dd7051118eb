package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// ProductCatalog - справочник товаров участника проверки.
type ProductCatalog struct {
	db *sql.DB
}

// NewProductCatalog создаёт PostgreSQL-реализацию ProductRepository.
func NewProductCatalog(store *Store) *ProductCatalog {
	return &ProductCatalog{db: store.DB()}
}

// ExistsByCode сообщает, есть ли товар в каталоге.
func (c *ProductCatalog) ExistsByCode(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE code = $1)`, code,
	).Scan(&exists); err != nil {
		return false, storageErr("select product", err)
	}
	return exists, nil
}

// ValidationRepository - журнал участника проверки товаров.
type ValidationRepository struct {
	db *sql.DB
}

// NewValidationRepository создаёт PostgreSQL-реализацию ValidationRepository.
func NewValidationRepository(store *Store) *ValidationRepository {
	return &ValidationRepository{db: store.DB()}
}

func (r *ValidationRepository) ExistsByOrderIDAndTransactionID(ctx context.Context, key domain.TransactionKey) (bool, error) {
	return ledgerExists(ctx, r.db, "validations", key)
}

func (r *ValidationRepository) FindByOrderIDAndTransactionID(ctx context.Context, key domain.TransactionKey) (domain.Validation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var v domain.Validation
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, transaction_id, success, created_at, updated_at
		FROM validations
		WHERE order_id = $1 AND transaction_id = $2
	`, key.OrderID, key.TransactionID).Scan(
		&v.ID, &v.OrderID, &v.TransactionID, &v.Success, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Validation{}, domain.ErrValidationNotFound
		}
		return domain.Validation{}, storageErr("select validation", err)
	}
	return v, nil
}

func (r *ValidationRepository) Create(ctx context.Context, v domain.Validation) (domain.Validation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO validations (id, order_id, transaction_id, success, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, v.ID, v.OrderID, v.TransactionID, v.Success, v.CreatedAt, v.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Validation{}, domain.ErrDuplicateTransaction
		}
		return domain.Validation{}, storageErr("insert validation", err)
	}
	return v, nil
}

func (r *ValidationRepository) Update(ctx context.Context, v domain.Validation) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE validations
		SET success = $3, updated_at = $4
		WHERE order_id = $1 AND transaction_id = $2
	`, v.OrderID, v.TransactionID, v.Success, time.Now().UTC())
	if err != nil {
		return storageErr("update validation", err)
	}
	return requireAffected(res, domain.ErrValidationNotFound)
}

// PaymentRepository - журнал платёжного участника.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) *PaymentRepository {
	return &PaymentRepository{db: store.DB()}
}

func (r *PaymentRepository) ExistsByOrderIDAndTransactionID(ctx context.Context, key domain.TransactionKey) (bool, error) {
	return ledgerExists(ctx, r.db, "payments", key)
}

func (r *PaymentRepository) FindByOrderIDAndTransactionID(ctx context.Context, key domain.TransactionKey) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		p      domain.Payment
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, transaction_id, total_items, total_amount, status, created_at, updated_at
		FROM payments
		WHERE order_id = $1 AND transaction_id = $2
	`, key.OrderID, key.TransactionID).Scan(
		&p.ID, &p.OrderID, &p.TransactionID, &p.TotalItems, &p.TotalAmount, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, storageErr("select payment", err)
	}
	p.Status = domain.PaymentStatus(status)
	return p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, transaction_id, total_items, total_amount, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		p.ID, p.OrderID, p.TransactionID, p.TotalItems, p.TotalAmount, string(p.Status), p.CreatedAt, p.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.Payment{}, domain.ErrDuplicateTransaction
		}
		return domain.Payment{}, storageErr("insert payment", err)
	}
	return p, nil
}

func (r *PaymentRepository) Update(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET total_items = $3, total_amount = $4, status = $5, updated_at = $6
		WHERE order_id = $1 AND transaction_id = $2
	`, p.OrderID, p.TransactionID, p.TotalItems, p.TotalAmount, string(p.Status), time.Now().UTC())
	if err != nil {
		return storageErr("update payment", err)
	}
	return requireAffected(res, domain.ErrPaymentNotFound)
}

// ledgerExists проверяет журнал table по ключу (order_id, transaction_id).
// table всегда задаётся константой внутри пакета.
func ledgerExists(ctx context.Context, q querier, table string, key domain.TransactionKey) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE order_id = $1 AND transaction_id = $2)`,
		key.OrderID, key.TransactionID,
	).Scan(&exists); err != nil {
		return false, storageErr("check "+table, err)
	}
	return exists, nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var (
	_ domain.ProductRepository    = (*ProductCatalog)(nil)
	_ domain.ValidationRepository = (*ValidationRepository)(nil)
	_ domain.PaymentRepository    = (*PaymentRepository)(nil)
)
