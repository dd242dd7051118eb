package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// ProductCatalog - in-memory справочник товаров.
type ProductCatalog struct {
	mu    sync.RWMutex
	codes map[string]domain.CatalogProduct
}

// NewProductCatalog создаёт справочник с заданными кодами товаров.
func NewProductCatalog(codes ...string) *ProductCatalog {
	c := &ProductCatalog{codes: make(map[string]domain.CatalogProduct)}
	for _, code := range codes {
		c.Add(code)
	}
	return c
}

// Add добавляет товар в справочник.
func (c *ProductCatalog) Add(code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.codes[code]; ok {
		return
	}
	c.codes[code] = domain.CatalogProduct{ID: uuid.NewString(), Code: code, CreatedAt: time.Now().UTC()}
}

func (c *ProductCatalog) ExistsByCode(_ context.Context, code string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.codes[code]
	return ok, nil
}

// ValidationRepository - in-memory журнал проверок; ключ (order, transaction) уникален.
type ValidationRepository struct {
	mu    sync.RWMutex
	items map[domain.TransactionKey]domain.Validation
}

// NewValidationRepository создаёт пустой журнал проверок.
func NewValidationRepository() *ValidationRepository {
	return &ValidationRepository{items: make(map[domain.TransactionKey]domain.Validation)}
}

func (r *ValidationRepository) ExistsByOrderIDAndTransactionID(_ context.Context, key domain.TransactionKey) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[key]
	return ok, nil
}

func (r *ValidationRepository) FindByOrderIDAndTransactionID(_ context.Context, key domain.TransactionKey) (domain.Validation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[key]
	if !ok {
		return domain.Validation{}, domain.ErrValidationNotFound
	}
	return v, nil
}

func (r *ValidationRepository) Create(_ context.Context, v domain.Validation) (domain.Validation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[v.Key()]; ok {
		return domain.Validation{}, domain.ErrDuplicateTransaction
	}
	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt, v.UpdatedAt = now, now
	r.items[v.Key()] = v
	return v, nil
}

func (r *ValidationRepository) Update(_ context.Context, v domain.Validation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[v.Key()]; !ok {
		return domain.ErrValidationNotFound
	}
	v.UpdatedAt = time.Now().UTC()
	r.items[v.Key()] = v
	return nil
}

// Count возвращает число записей журнала.
func (r *ValidationRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// PaymentRepository - in-memory журнал платежей; ключ (order, transaction) уникален.
type PaymentRepository struct {
	mu    sync.RWMutex
	items map[domain.TransactionKey]domain.Payment
}

// NewPaymentRepository создаёт пустой журнал платежей.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{items: make(map[domain.TransactionKey]domain.Payment)}
}

func (r *PaymentRepository) ExistsByOrderIDAndTransactionID(_ context.Context, key domain.TransactionKey) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[key]
	return ok, nil
}

func (r *PaymentRepository) FindByOrderIDAndTransactionID(_ context.Context, key domain.TransactionKey) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[key]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (r *PaymentRepository) Create(_ context.Context, p domain.Payment) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[p.Key()]; ok {
		return domain.Payment{}, domain.ErrDuplicateTransaction
	}
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PaymentStatusPending
	}
	p.CreatedAt, p.UpdatedAt = now, now
	r.items[p.Key()] = p
	return p, nil
}

func (r *PaymentRepository) Update(_ context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[p.Key()]; !ok {
		return domain.ErrPaymentNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	r.items[p.Key()] = p
	return nil
}

// Count возвращает число записей журнала.
func (r *PaymentRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

var (
	_ domain.ProductRepository    = (*ProductCatalog)(nil)
	_ domain.ValidationRepository = (*ValidationRepository)(nil)
	_ domain.PaymentRepository    = (*PaymentRepository)(nil)
)
