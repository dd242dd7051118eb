package domain

import "time"

// Inventory - остаток товара на складе.
type Inventory struct {
	ID          string
	ProductCode string
	Available   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderInventory - запись журнала склада: сколько было, сколько списано и сколько осталось.
// Компенсация восстанавливает Available ровно до OldQuantity.
type OrderInventory struct {
	ID            string
	InventoryID   string
	ProductCode   string
	OrderID       string
	TransactionID string
	OrderQuantity int
	OldQuantity   int
	NewQuantity   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key возвращает ключ идемпотентности записи.
func (o OrderInventory) Key() TransactionKey {
	return TransactionKey{OrderID: o.OrderID, TransactionID: o.TransactionID}
}

// Deduct проверяет остаток и возвращает запись журнала для списания quantity.
func (i Inventory) Deduct(key TransactionKey, quantity int) (OrderInventory, error) {
	if quantity > i.Available {
		return OrderInventory{}, ErrOutOfStock
	}
	return OrderInventory{
		InventoryID:   i.ID,
		ProductCode:   i.ProductCode,
		OrderID:       key.OrderID,
		TransactionID: key.TransactionID,
		OrderQuantity: quantity,
		OldQuantity:   i.Available,
		NewQuantity:   i.Available - quantity,
	}, nil
}
