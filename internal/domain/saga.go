package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SagaStatus описывает результат последнего шага саги.
type SagaStatus string

const (
	// SagaStatusSuccess - участник успешно выполнил свой шаг.
	SagaStatusSuccess SagaStatus = "SUCCESS"
	// SagaStatusFail - участник получил запрос компенсации и выполнил (или попытался выполнить) откат.
	SagaStatusFail SagaStatus = "FAIL"
	// SagaStatusRollbackPending - участник не смог выполнить шаг, сага должна компенсировать предыдущие шаги.
	SagaStatusRollbackPending SagaStatus = "ROLLBACK_PENDING"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s SagaStatus) Valid() bool {
	switch s {
	case SagaStatusSuccess, SagaStatusFail, SagaStatusRollbackPending:
		return true
	default:
		return false
	}
}

// Source идентифицирует участника, который последним записал событие.
type Source string

const (
	SourceOrchestrator      Source = "ORCHESTRATOR"
	SourceProductValidation Source = "PRODUCT_VALIDATION_SERVICE"
	SourcePayment           Source = "PAYMENT_SERVICE"
	SourceInventory         Source = "INVENTORY_SERVICE"
)

// HistoryEntry - одна запись аудита на каждый вызов участника.
type HistoryEntry struct {
	Source    Source     `json:"source"`
	Status    SagaStatus `json:"status"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
}

// TransactionKey - ключ идемпотентности участника.
type TransactionKey struct {
	OrderID       string
	TransactionID string
}

func (k TransactionKey) String() string {
	return k.OrderID + "/" + k.TransactionID
}

// Complete сообщает, что заданы оба идентификатора.
func (k TransactionKey) Complete() bool {
	return k.OrderID != "" && k.TransactionID != ""
}

// SagaEvent - единица работы, которая передаётся между участниками.
// Значение неизменяемо: все методы возвращают новую версию события.
type SagaEvent struct {
	ID            string         `json:"id,omitempty"`
	TransactionID string         `json:"transactionId"`
	OrderID       string         `json:"orderId"`
	Payload       OrderSnapshot  `json:"payload"`
	Source        Source         `json:"source,omitempty"`
	Status        SagaStatus     `json:"status,omitempty"`
	History       []HistoryEntry `json:"eventHistory,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// NewSagaEvent создаёт начальное событие саги по снимку заказа.
func NewSagaEvent(order OrderSnapshot, now time.Time) SagaEvent {
	return SagaEvent{
		ID:            uuid.NewString(),
		TransactionID: order.TransactionID,
		OrderID:       order.ID,
		Payload:       order.Clone(),
		CreatedAt:     now.UTC(),
	}
}

// NewTransactionID формирует идентификатор вида "<epochMillis>-<uuid>".
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
}

// Key возвращает ключ идемпотентности; идентификатор заказа берётся из payload, если он там есть.
func (e SagaEvent) Key() TransactionKey {
	orderID := e.Payload.ID
	if orderID == "" {
		orderID = e.OrderID
	}
	return TransactionKey{OrderID: orderID, TransactionID: e.TransactionID}
}

// AddHistory - единственный способ изменить историю: новая запись всегда добавляется в конец копии.
func (e SagaEvent) AddHistory(entry HistoryEntry) SagaEvent {
	next := e.Clone()
	history := make([]HistoryEntry, len(e.History), len(e.History)+1)
	copy(history, e.History)
	next.History = append(history, entry)
	return next
}

// Transition меняет source и status и в том же шаге добавляет соответствующую запись истории.
func (e SagaEvent) Transition(source Source, status SagaStatus, message string, at time.Time) SagaEvent {
	next := e.AddHistory(HistoryEntry{
		Source:    source,
		Status:    status,
		Message:   message,
		CreatedAt: at.UTC(),
	})
	next.Source = source
	next.Status = status
	return next
}

// WithPayload заменяет снимок заказа. Вызывающий обязан добавить запись истории в том же шаге.
func (e SagaEvent) WithPayload(payload OrderSnapshot) SagaEvent {
	next := e.Clone()
	next.Payload = payload.Clone()
	return next
}

// Clone возвращает глубокую копию события.
func (e SagaEvent) Clone() SagaEvent {
	next := e
	next.Payload = e.Payload.Clone()
	if e.History != nil {
		next.History = append([]HistoryEntry(nil), e.History...)
	}
	return next
}

// LastHistory возвращает последнюю запись истории.
func (e SagaEvent) LastHistory() (HistoryEntry, bool) {
	if len(e.History) == 0 {
		return HistoryEntry{}, false
	}
	return e.History[len(e.History)-1], true
}
