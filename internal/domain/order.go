package domain

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// OrderStatus описывает итог саги для заказа.
type OrderStatus string

const (
	// OrderStatusPending - сага запущена и ещё не завершилась.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusSuccess - все участники выполнили свои шаги.
	OrderStatusSuccess OrderStatus = "SUCCESS"
	// OrderStatusFail - сага завершилась компенсацией.
	OrderStatusFail OrderStatus = "FAIL"
)

// Product - позиция каталога в составе заказа.
type Product struct {
	Code      string  `json:"code"`
	UnitValue float64 `json:"unitValue"`
}

// Validate проверяет код и цену за единицу.
func (p Product) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Code, validation.Required),
		validation.Field(&p.UnitValue, validation.Min(0.0)),
	)
}

// OrderProduct - товар и его количество в заказе.
type OrderProduct struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Validate проверяет товар и неотрицательность количества.
func (p OrderProduct) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Product),
		validation.Field(&p.Quantity, validation.Min(0)),
	)
}

// OrderSnapshot - текущее представление заказа внутри события саги.
// Участники дополняют его (например, суммой и количеством), но не удаляют поля.
type OrderSnapshot struct {
	ID            string         `json:"id"`
	Products      []OrderProduct `json:"products"`
	CreatedAt     time.Time      `json:"createdAt"`
	TransactionID string         `json:"transactionId"`
	TotalAmount   float64        `json:"totalAmount"`
	TotalItems    int            `json:"totalItems"`
}

// Validate выполняет структурную проверку снимка до любых локальных эффектов.
func (o OrderSnapshot) Validate() error {
	if len(o.Products) == 0 {
		return ErrProductsRequired
	}
	if strings.TrimSpace(o.ID) == "" || strings.TrimSpace(o.TransactionID) == "" {
		return ErrOrderIdentityRequired
	}
	for _, p := range o.Products {
		if strings.TrimSpace(p.Product.Code) == "" {
			return ErrProductRequired
		}
	}
	if err := validation.Validate(o.Products); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProduct, err)
	}
	return nil
}

// SumAmount считает sum(quantity * unitValue) по всем товарам.
func (o OrderSnapshot) SumAmount() float64 {
	var total float64
	for _, p := range o.Products {
		total += float64(p.Quantity) * p.Product.UnitValue
	}
	return total
}

// SumItems считает общее количество единиц товара.
func (o OrderSnapshot) SumItems() int {
	var total int
	for _, p := range o.Products {
		total += p.Quantity
	}
	return total
}

// WithTotals возвращает копию снимка с заполненными итогами.
func (o OrderSnapshot) WithTotals(amount float64, items int) OrderSnapshot {
	next := o.Clone()
	next.TotalAmount = amount
	next.TotalItems = items
	return next
}

// Clone возвращает копию снимка с отдельным слайсом товаров.
func (o OrderSnapshot) Clone() OrderSnapshot {
	next := o
	if o.Products != nil {
		next.Products = append([]OrderProduct(nil), o.Products...)
	}
	return next
}

// Order - заказ, принятый order-service.
type Order struct {
	ID            string
	Products      []OrderProduct
	TransactionID string
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Snapshot возвращает представление заказа для события саги.
func (o Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		ID:            o.ID,
		Products:      append([]OrderProduct(nil), o.Products...),
		CreatedAt:     o.CreatedAt,
		TransactionID: o.TransactionID,
	}
}

// StoredEvent - итоговое событие саги, сохранённое order-service.
type StoredEvent struct {
	SagaEvent
	StoredAt time.Time `json:"storedAt"`
}

// EventFilters задаёт фильтр поиска событий.
type EventFilters struct {
	OrderID       string
	TransactionID string
}

// Empty сообщает, что ни один фильтр не задан.
func (f EventFilters) Empty() bool {
	return strings.TrimSpace(f.OrderID) == "" && strings.TrimSpace(f.TransactionID) == ""
}
