package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// inventoryState - остатки и журнал склада; копируется целиком для транзакций.
type inventoryState struct {
	inventories map[string]domain.Inventory // по ID
	byCode      map[string]string           // код товара -> ID
	ledger      []domain.OrderInventory
}

func (s *inventoryState) clone() *inventoryState {
	next := &inventoryState{
		inventories: make(map[string]domain.Inventory, len(s.inventories)),
		byCode:      make(map[string]string, len(s.byCode)),
		ledger:      append([]domain.OrderInventory(nil), s.ledger...),
	}
	for k, v := range s.inventories {
		next.inventories[k] = v
	}
	for k, v := range s.byCode {
		next.byCode[k] = v
	}
	return next
}

func (s *inventoryState) exists(key domain.TransactionKey) bool {
	for _, entry := range s.ledger {
		if entry.Key() == key {
			return true
		}
	}
	return false
}

func (s *inventoryState) findByCode(code string) (domain.Inventory, error) {
	id, ok := s.byCode[code]
	if !ok {
		return domain.Inventory{}, domain.ErrInventoryNotFound
	}
	return s.inventories[id], nil
}

func (s *inventoryState) entries(key domain.TransactionKey) []domain.OrderInventory {
	var result []domain.OrderInventory
	for _, entry := range s.ledger {
		if entry.Key() == key {
			result = append(result, entry)
		}
	}
	return result
}

func (s *inventoryState) createEntry(entry domain.OrderInventory) (domain.OrderInventory, error) {
	for _, existing := range s.ledger {
		if existing.Key() == entry.Key() && existing.InventoryID == entry.InventoryID {
			return domain.OrderInventory{}, domain.ErrDuplicateTransaction
		}
	}
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt, entry.UpdatedAt = now, now
	s.ledger = append(s.ledger, entry)
	return entry, nil
}

func (s *inventoryState) updateAvailable(id string, available int) error {
	inv, ok := s.inventories[id]
	if !ok {
		return domain.ErrInventoryNotFound
	}
	inv.Available = available
	inv.UpdatedAt = time.Now().UTC()
	s.inventories[id] = inv
	return nil
}

// InventoryRepository - in-memory склад. WithinTx работает с копией состояния
// и подменяет его только при успешном завершении.
type InventoryRepository struct {
	mu    sync.RWMutex
	state *inventoryState
}

// NewInventoryRepository создаёт пустой склад.
func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{state: &inventoryState{
		inventories: make(map[string]domain.Inventory),
		byCode:      make(map[string]string),
	}}
}

// Seed добавляет или заменяет остаток товара.
func (r *InventoryRepository) Seed(code string, available int) domain.Inventory {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if id, ok := r.state.byCode[code]; ok {
		inv := r.state.inventories[id]
		inv.Available = available
		inv.UpdatedAt = now
		r.state.inventories[id] = inv
		return inv
	}
	inv := domain.Inventory{ID: uuid.NewString(), ProductCode: code, Available: available, CreatedAt: now, UpdatedAt: now}
	r.state.inventories[inv.ID] = inv
	r.state.byCode[code] = inv.ID
	return inv
}

func (r *InventoryRepository) ExistsByOrderIDAndTransactionID(_ context.Context, key domain.TransactionKey) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.exists(key), nil
}

func (r *InventoryRepository) FindByProductCode(_ context.Context, code string) (domain.Inventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.findByCode(code)
}

func (r *InventoryRepository) FindOrderInventories(_ context.Context, key domain.TransactionKey) ([]domain.OrderInventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.entries(key), nil
}

func (r *InventoryRepository) CreateOrderInventory(_ context.Context, entry domain.OrderInventory) (domain.OrderInventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.createEntry(entry)
}

func (r *InventoryRepository) UpdateAvailable(_ context.Context, inventoryID string, available int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.updateAvailable(inventoryID, available)
}

func (r *InventoryRepository) WithinTx(ctx context.Context, fn func(tx domain.InventoryRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	draft := r.state.clone()
	if err := fn(&inventoryTx{state: draft}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state = draft
	return nil
}

// LedgerSize возвращает число записей журнала.
func (r *InventoryRepository) LedgerSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.state.ledger)
}

// inventoryTx работает с черновиком состояния; блокировка удерживается WithinTx.
type inventoryTx struct {
	state *inventoryState
}

func (t *inventoryTx) ExistsByOrderIDAndTransactionID(_ context.Context, key domain.TransactionKey) (bool, error) {
	return t.state.exists(key), nil
}

func (t *inventoryTx) FindByProductCode(_ context.Context, code string) (domain.Inventory, error) {
	return t.state.findByCode(code)
}

func (t *inventoryTx) FindOrderInventories(_ context.Context, key domain.TransactionKey) ([]domain.OrderInventory, error) {
	return t.state.entries(key), nil
}

func (t *inventoryTx) CreateOrderInventory(_ context.Context, entry domain.OrderInventory) (domain.OrderInventory, error) {
	return t.state.createEntry(entry)
}

func (t *inventoryTx) UpdateAvailable(_ context.Context, inventoryID string, available int) error {
	return t.state.updateAvailable(inventoryID, available)
}

func (t *inventoryTx) WithinTx(_ context.Context, fn func(tx domain.InventoryRepository) error) error {
	return fn(t)
}

var (
	_ domain.InventoryRepository = (*InventoryRepository)(nil)
	_ domain.InventoryRepository = (*inventoryTx)(nil)
)
