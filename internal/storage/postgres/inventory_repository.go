package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// InventoryRepository - остатки и журнал складского участника.
// Внутри WithinTx все запросы идут через одну *sql.Tx.
type InventoryRepository struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
func NewInventoryRepository(store *Store) *InventoryRepository {
	return &InventoryRepository{db: store.DB(), q: store.DB()}
}

func (r *InventoryRepository) ExistsByOrderIDAndTransactionID(ctx context.Context, key domain.TransactionKey) (bool, error) {
	return ledgerExists(ctx, r.q, "order_inventories", key)
}

// FindByProductCode читает остаток и блокирует строку до конца транзакции.
func (r *InventoryRepository) FindByProductCode(ctx context.Context, code string) (domain.Inventory, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var inv domain.Inventory
	err := r.q.QueryRowContext(ctx, `
		SELECT id, product_code, available, created_at, updated_at
		FROM inventories
		WHERE product_code = $1
		FOR UPDATE
	`, code).Scan(&inv.ID, &inv.ProductCode, &inv.Available, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Inventory{}, domain.ErrInventoryNotFound
		}
		return domain.Inventory{}, storageErr("select inventory", err)
	}
	return inv, nil
}

func (r *InventoryRepository) FindOrderInventories(ctx context.Context, key domain.TransactionKey) ([]domain.OrderInventory, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT oi.id, oi.inventory_id, i.product_code, oi.order_id, oi.transaction_id,
		       oi.order_quantity, oi.old_quantity, oi.new_quantity, oi.created_at, oi.updated_at
		FROM order_inventories oi
		JOIN inventories i ON i.id = oi.inventory_id
		WHERE oi.order_id = $1 AND oi.transaction_id = $2
		ORDER BY oi.created_at, oi.id
	`, key.OrderID, key.TransactionID)
	if err != nil {
		return nil, storageErr("select order inventories", err)
	}
	defer rows.Close()

	entries := make([]domain.OrderInventory, 0)
	for rows.Next() {
		var e domain.OrderInventory
		if err := rows.Scan(
			&e.ID, &e.InventoryID, &e.ProductCode, &e.OrderID, &e.TransactionID,
			&e.OrderQuantity, &e.OldQuantity, &e.NewQuantity, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, storageErr("scan order inventory", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate order inventories", err)
	}
	return entries, nil
}

func (r *InventoryRepository) CreateOrderInventory(ctx context.Context, entry domain.OrderInventory) (domain.OrderInventory, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO order_inventories (
			id, inventory_id, order_id, transaction_id,
			order_quantity, old_quantity, new_quantity, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		entry.ID, entry.InventoryID, entry.OrderID, entry.TransactionID,
		entry.OrderQuantity, entry.OldQuantity, entry.NewQuantity, entry.CreatedAt, entry.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.OrderInventory{}, domain.ErrDuplicateTransaction
		}
		return domain.OrderInventory{}, storageErr("insert order inventory", err)
	}
	return entry, nil
}

func (r *InventoryRepository) UpdateAvailable(ctx context.Context, inventoryID string, available int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE inventories SET available = $2, updated_at = $3 WHERE id = $1
	`, inventoryID, available, time.Now().UTC())
	if err != nil {
		return storageErr("update inventory", err)
	}
	return requireAffected(res, domain.ErrInventoryNotFound)
}

// WithinTx выполняет fn в одной транзакции. Вложенный вызов переиспользует текущую.
func (r *InventoryRepository) WithinTx(ctx context.Context, fn func(tx domain.InventoryRepository) error) error {
	if r.inTx {
		return fn(r)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&InventoryRepository{db: r.db, q: tx, inTx: true})
	})
}

// Seed создаёт или обновляет остаток товара.
func (r *InventoryRepository) Seed(ctx context.Context, code string, available int) (domain.Inventory, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var inv domain.Inventory
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO inventories (id, product_code, available, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (product_code) DO UPDATE SET available = EXCLUDED.available, updated_at = NOW()
		RETURNING id, product_code, available, created_at, updated_at
	`, uuid.NewString(), code, available).Scan(&inv.ID, &inv.ProductCode, &inv.Available, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return domain.Inventory{}, storageErr("seed inventory", err)
	}
	return inv, nil
}

var _ domain.InventoryRepository = (*InventoryRepository)(nil)
