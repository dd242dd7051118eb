package inventory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

var messages = saga.Messages{
	Success:               "Inventory updated successfully!",
	FailurePrefix:         "Fail to update inventory: ",
	Rollback:              "Rollback executed for inventory!",
	NothingToRollback:     "Nothing to roll back for inventory!",
	RollbackFailurePrefix: "Rollback not executed for inventory: ",
}

// Participant списывает остатки по заказу и ведёт журнал списаний.
type Participant struct {
	inventories domain.InventoryRepository
}

// NewParticipant создаёт складского участника.
func NewParticipant(inventories domain.InventoryRepository) *Participant {
	return &Participant{inventories: inventories}
}

func (p *Participant) Source() domain.Source { return domain.SourceInventory }

func (p *Participant) Messages() saga.Messages { return messages }

func (p *Participant) ExistsByOrderIDAndTransactionID(ctx context.Context, key domain.TransactionKey) (bool, error) {
	return p.inventories.ExistsByOrderIDAndTransactionID(ctx, key)
}

func (p *Participant) Validate(_ context.Context, event domain.SagaEvent) error {
	return event.Payload.Validate()
}

// Execute в одной транзакции проверяет остаток каждого товара, пишет запись
// журнала и уменьшает остаток. Любая ошибка откатывает всё списание.
func (p *Participant) Execute(ctx context.Context, event domain.SagaEvent) (saga.Effect[[]domain.OrderInventory], error) {
	key := event.Key()
	var ledger []domain.OrderInventory

	err := p.inventories.WithinTx(ctx, func(tx domain.InventoryRepository) error {
		ledger = ledger[:0]
		for _, line := range mergeQuantities(event.Payload.Products) {
			inv, err := tx.FindByProductCode(ctx, line.code)
			if err != nil {
				return err
			}
			entry, err := inv.Deduct(key, line.quantity)
			if err != nil {
				return err
			}
			created, err := tx.CreateOrderInventory(ctx, entry)
			if err != nil {
				return err
			}
			if err := tx.UpdateAvailable(ctx, inv.ID, created.NewQuantity); err != nil {
				return err
			}
			ledger = append(ledger, created)
		}
		return nil
	})
	if err != nil {
		return saga.Effect[[]domain.OrderInventory]{}, err
	}
	return saga.Effect[[]domain.OrderInventory]{Ledger: ledger}, nil
}

// MarkFailed ничего не записывает: отклонённое списание не оставляет журнала.
func (p *Participant) MarkFailed(context.Context, domain.SagaEvent, error) error {
	return nil
}

// Compensate возвращает каждому остатку значение OldQuantity из журнала.
func (p *Participant) Compensate(ctx context.Context, event domain.SagaEvent) (saga.Restoration, error) {
	key := event.Key()
	restored := false

	err := p.inventories.WithinTx(ctx, func(tx domain.InventoryRepository) error {
		entries, err := tx.FindOrderInventories(ctx, key)
		if err != nil {
			return err
		}
		for i := len(entries) - 1; i >= 0; i-- {
			entry := entries[i]
			if err := tx.UpdateAvailable(ctx, entry.InventoryID, entry.OldQuantity); err != nil {
				return fmt.Errorf("restore %s: %w", entry.ProductCode, err)
			}
		}
		restored = len(entries) > 0
		return nil
	})
	if err != nil {
		return saga.Restoration{}, err
	}
	return saga.Restoration{Restored: restored}, nil
}

type orderLine struct {
	code     string
	quantity int
}

// mergeQuantities суммирует количества одинаковых товаров, сохраняя порядок первого появления.
func mergeQuantities(products []domain.OrderProduct) []orderLine {
	index := make(map[string]int, len(products))
	lines := make([]orderLine, 0, len(products))
	for _, item := range products {
		if i, ok := index[item.Product.Code]; ok {
			lines[i].quantity += item.Quantity
			continue
		}
		index[item.Product.Code] = len(lines)
		lines = append(lines, orderLine{code: item.Product.Code, quantity: item.Quantity})
	}
	return lines
}

var _ saga.Participant[[]domain.OrderInventory] = (*Participant)(nil)
