package saga

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Guard не даёт участнику применить эффект дважды для одной транзакции.
// Проверка существования дополняется уникальным ключом хранилища, который
// закрывает гонку между проверкой и вставкой.
type Guard struct {
	ledger domain.LedgerChecker
}

// NewGuard создаёт guard поверх журнала участника.
func NewGuard(ledger domain.LedgerChecker) *Guard {
	return &Guard{ledger: ledger}
}

// HasBeenProcessed сообщает, есть ли уже запись журнала для ключа.
func (g *Guard) HasBeenProcessed(ctx context.Context, key domain.TransactionKey) (bool, error) {
	exists, err := g.ledger.ExistsByOrderIDAndTransactionID(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check ledger %s: %w", key, err)
	}
	return exists, nil
}

// Check возвращает ErrDuplicateTransaction для уже обработанного ключа.
func (g *Guard) Check(ctx context.Context, key domain.TransactionKey) error {
	processed, err := g.HasBeenProcessed(ctx, key)
	if err != nil {
		return err
	}
	if processed {
		return domain.ErrDuplicateTransaction
	}
	return nil
}
