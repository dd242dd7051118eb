package saga

import (
	"context"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Messages - тексты записей истории конкретного участника.
type Messages struct {
	// Success добавляется после успешного прямого шага.
	Success string
	// FailurePrefix предшествует тексту ошибки при отклонении шага.
	FailurePrefix string
	// Rollback добавляется после успешной компенсации.
	Rollback string
	// NothingToRollback добавляется, если для транзакции нет записи журнала.
	NothingToRollback string
	// RollbackFailurePrefix предшествует тексту ошибки неудачной компенсации.
	RollbackFailurePrefix string
}

// Effect - результат локального эффекта участника.
type Effect[L any] struct {
	// Ledger - запись журнала, созданная шагом.
	Ledger L
	// Payload, если задан, заменяет снимок заказа в событии, в том числе при ошибке шага.
	Payload *domain.OrderSnapshot
}

// Restoration - результат компенсации участника.
type Restoration struct {
	// Restored=false означает, что для транзакции нечего откатывать.
	Restored bool
	// Payload, если задан, заменяет снимок заказа в событии.
	Payload *domain.OrderSnapshot
}

// Participant - специализация участника саги. Общая механика (проверка
// идемпотентности, история, статусы, классификация ошибок) живёт в Runner.
type Participant[L any] interface {
	domain.LedgerChecker

	// Source - имя участника в событиях и истории.
	Source() domain.Source
	// Messages - тексты истории участника.
	Messages() Messages
	// Validate выполняет структурные и бизнес-проверки до любых изменений.
	Validate(ctx context.Context, event domain.SagaEvent) error
	// Execute фиксирует запись журнала и применяет локальный эффект.
	Execute(ctx context.Context, event domain.SagaEvent) (Effect[L], error)
	// MarkFailed помечает уже записанную запись журнала после отклонения шага.
	MarkFailed(ctx context.Context, event domain.SagaEvent, cause error) error
	// Compensate восстанавливает состояние по записи журнала.
	Compensate(ctx context.Context, event domain.SagaEvent) (Restoration, error)
}
