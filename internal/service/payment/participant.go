package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

var messages = saga.Messages{
	Success:               "Payment realized successfully!",
	FailurePrefix:         "Fail to realized payment: ",
	Rollback:              "Rollback executed for payment!",
	NothingToRollback:     "Nothing to roll back for payment!",
	RollbackFailurePrefix: "Rollback not executed for payment: ",
}

// Participant проводит платёж по сумме заказа и ведёт журнал платежей.
type Participant struct {
	payments  domain.PaymentRepository
	minAmount float64
}

// Option настраивает платёжного участника.
type Option func(*Participant)

// WithMinAmount задаёт минимальную сумму платежа.
func WithMinAmount(amount float64) Option {
	return func(p *Participant) {
		if amount > 0 {
			p.minAmount = amount
		}
	}
}

// NewParticipant создаёт платёжного участника.
func NewParticipant(payments domain.PaymentRepository, opts ...Option) *Participant {
	p := &Participant{payments: payments, minAmount: domain.DefaultMinPaymentAmount}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Participant) Source() domain.Source { return domain.SourcePayment }

func (p *Participant) Messages() saga.Messages { return messages }

func (p *Participant) ExistsByOrderIDAndTransactionID(ctx context.Context, key domain.TransactionKey) (bool, error) {
	return p.payments.ExistsByOrderIDAndTransactionID(ctx, key)
}

func (p *Participant) Validate(_ context.Context, event domain.SagaEvent) error {
	return event.Payload.Validate()
}

// Execute сначала фиксирует платёж в статусе PENDING с итогами заказа, затем
// проверяет минимальную сумму и только после этого переводит его в SUCCESS.
// Итоги попадают в снимок заказа и при отказе.
func (p *Participant) Execute(ctx context.Context, event domain.SagaEvent) (saga.Effect[domain.Payment], error) {
	key := event.Key()
	amount := event.Payload.SumAmount()
	items := event.Payload.SumItems()

	pending, err := p.payments.Create(ctx, domain.Payment{
		OrderID:       key.OrderID,
		TransactionID: key.TransactionID,
		TotalAmount:   amount,
		TotalItems:    items,
		Status:        domain.PaymentStatusPending,
	})
	if err != nil {
		return saga.Effect[domain.Payment]{}, err
	}

	enriched := event.Payload.WithTotals(amount, items)
	effect := saga.Effect[domain.Payment]{Ledger: pending, Payload: &enriched}

	if amount < p.minAmount {
		return effect, fmt.Errorf("%w %v", domain.ErrAmountBelowMinimum, p.minAmount)
	}

	pending.Status = domain.PaymentStatusSuccess
	if err := p.payments.Update(ctx, pending); err != nil {
		return effect, err
	}
	effect.Ledger = pending
	return effect, nil
}

// MarkFailed ничего не меняет: отклонённый платёж остаётся в PENDING.
func (p *Participant) MarkFailed(context.Context, domain.SagaEvent, error) error {
	return nil
}

// Compensate переводит платёж в REFUND.
func (p *Participant) Compensate(ctx context.Context, event domain.SagaEvent) (saga.Restoration, error) {
	existing, err := p.payments.FindByOrderIDAndTransactionID(ctx, event.Key())
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound):
		return saga.Restoration{Restored: false}, nil
	case err != nil:
		return saga.Restoration{}, err
	}

	existing.Status = domain.PaymentStatusRefund
	if err := p.payments.Update(ctx, existing); err != nil {
		return saga.Restoration{}, err
	}

	enriched := event.Payload.WithTotals(existing.TotalAmount, existing.TotalItems)
	return saga.Restoration{Restored: true, Payload: &enriched}, nil
}

var _ saga.Participant[domain.Payment] = (*Participant)(nil)
