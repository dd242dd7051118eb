package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

var messages = saga.Messages{
	Success:               "Products are validated successfully!",
	FailurePrefix:         "Fail to validate products: ",
	Rollback:              "Rollback executed on product validation!",
	NothingToRollback:     "Nothing to roll back for product validation!",
	RollbackFailurePrefix: "Rollback not executed for product validation: ",
}

// Participant проверяет, что все товары заказа есть в каталоге, и ведёт журнал проверок.
type Participant struct {
	catalog     domain.ProductRepository
	validations domain.ValidationRepository
}

// NewParticipant создаёт участника проверки товаров.
func NewParticipant(catalog domain.ProductRepository, validations domain.ValidationRepository) *Participant {
	return &Participant{catalog: catalog, validations: validations}
}

func (p *Participant) Source() domain.Source { return domain.SourceProductValidation }

func (p *Participant) Messages() saga.Messages { return messages }

func (p *Participant) ExistsByOrderIDAndTransactionID(ctx context.Context, key domain.TransactionKey) (bool, error) {
	return p.validations.ExistsByOrderIDAndTransactionID(ctx, key)
}

// Validate проверяет структуру снимка и наличие каждого товара в каталоге.
func (p *Participant) Validate(ctx context.Context, event domain.SagaEvent) error {
	if err := event.Payload.Validate(); err != nil {
		return err
	}
	for _, item := range event.Payload.Products {
		exists, err := p.catalog.ExistsByCode(ctx, item.Product.Code)
		if err != nil {
			return fmt.Errorf("lookup product %s: %w", item.Product.Code, err)
		}
		if !exists {
			return domain.ErrProductNotFound
		}
	}
	return nil
}

// Execute записывает успешную проверку.
func (p *Participant) Execute(ctx context.Context, event domain.SagaEvent) (saga.Effect[domain.Validation], error) {
	key := event.Key()
	created, err := p.validations.Create(ctx, domain.Validation{
		OrderID:       key.OrderID,
		TransactionID: key.TransactionID,
		Success:       true,
	})
	if err != nil {
		return saga.Effect[domain.Validation]{}, err
	}
	return saga.Effect[domain.Validation]{Ledger: created}, nil
}

// MarkFailed фиксирует неуспешную проверку, если для транзакции ещё нет записи.
// Для дубликата запись принадлежит первой доставке и не трогается.
func (p *Participant) MarkFailed(ctx context.Context, event domain.SagaEvent, cause error) error {
	if domain.IsDuplicateTransaction(cause) {
		return nil
	}
	key := event.Key()
	if key.OrderID == "" || key.TransactionID == "" {
		return nil
	}
	_, err := p.validations.Create(ctx, domain.Validation{
		OrderID:       key.OrderID,
		TransactionID: key.TransactionID,
		Success:       false,
	})
	if domain.IsDuplicateTransaction(err) {
		return nil
	}
	return err
}

// Compensate помечает проверку как неуспешную. Если записи нет, сохраняет
// неуспешную запись, чтобы повторная доставка прямого шага была отклонена.
func (p *Participant) Compensate(ctx context.Context, event domain.SagaEvent) (saga.Restoration, error) {
	key := event.Key()
	existing, err := p.validations.FindByOrderIDAndTransactionID(ctx, key)
	switch {
	case errors.Is(err, domain.ErrValidationNotFound):
		if _, err := p.validations.Create(ctx, domain.Validation{
			OrderID:       key.OrderID,
			TransactionID: key.TransactionID,
			Success:       false,
		}); err != nil && !domain.IsDuplicateTransaction(err) {
			return saga.Restoration{}, err
		}
		return saga.Restoration{Restored: false}, nil
	case err != nil:
		return saga.Restoration{}, err
	}

	existing.Success = false
	if err := p.validations.Update(ctx, existing); err != nil {
		return saga.Restoration{}, err
	}
	return saga.Restoration{Restored: true}, nil
}

var _ saga.Participant[domain.Validation] = (*Participant)(nil)
