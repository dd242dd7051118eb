package domain

import "time"

// PaymentStatus описывает состояние записи платежа в журнале участника.
type PaymentStatus string

const (
	// PaymentStatusPending - намерение зафиксировано, сумма ещё не подтверждена.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusSuccess - платёж проведён.
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	// PaymentStatusRefund - платёж компенсирован.
	PaymentStatusRefund PaymentStatus = "REFUND"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSuccess, PaymentStatusRefund:
		return true
	default:
		return false
	}
}

// DefaultMinPaymentAmount - минимальная сумма платежа.
const DefaultMinPaymentAmount = 0.1

// Payment - запись журнала платёжного участника.
type Payment struct {
	ID            string
	OrderID       string
	TransactionID string
	TotalItems    int
	TotalAmount   float64
	Status        PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key возвращает ключ идемпотентности записи.
func (p Payment) Key() TransactionKey {
	return TransactionKey{OrderID: p.OrderID, TransactionID: p.TransactionID}
}

// Validation - запись журнала участника проверки товаров.
type Validation struct {
	ID            string
	OrderID       string
	TransactionID string
	Success       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key возвращает ключ идемпотентности записи.
func (v Validation) Key() TransactionKey {
	return TransactionKey{OrderID: v.OrderID, TransactionID: v.TransactionID}
}

// CatalogProduct - справочная запись товара.
type CatalogProduct struct {
	ID        string
	Code      string
	CreatedAt time.Time
}
