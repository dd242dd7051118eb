package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func newEvent(codes ...string) domain.SagaEvent {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	products := make([]domain.OrderProduct, 0, len(codes))
	for _, code := range codes {
		products = append(products, domain.OrderProduct{
			Product:  domain.Product{Code: code, UnitValue: 10},
			Quantity: 1,
		})
	}
	snapshot := domain.OrderSnapshot{ID: "order-1", TransactionID: "tx-1", Products: products, CreatedAt: now}
	return domain.NewSagaEvent(snapshot, now).
		Transition(domain.SourceOrchestrator, domain.SagaStatusSuccess, "Saga started!", now)
}

func newRunner() (*saga.Runner[domain.Validation], *memory.ValidationRepository) {
	validations := memory.NewValidationRepository()
	catalog := memory.NewProductCatalog("COMIC_BOOKS", "BOOKS")
	return saga.NewRunner[domain.Validation](NewParticipant(catalog, validations)), validations
}

func TestForwardValidatesKnownProducts(t *testing.T) {
	runner, validations := newRunner()

	result := runner.Forward(context.Background(), newEvent("COMIC_BOOKS", "BOOKS"))

	require.Equal(t, saga.StateSucceeded, result.State)
	assert.True(t, result.Ledger.Success)
	assert.Equal(t, domain.SagaStatusSuccess, result.Event.Status)
	last, _ := result.Event.LastHistory()
	assert.Equal(t, "Products are validated successfully!", last.Message)
	assert.Equal(t, 1, validations.Count())
}

func TestForwardRejectsUnknownProduct(t *testing.T) {
	runner, validations := newRunner()

	result := runner.Forward(context.Background(), newEvent("COMIC_BOOKS", "MUSIC"))

	assert.True(t, saga.IsRejected(result, domain.ErrProductNotFound))
	assert.Equal(t, domain.SagaStatusRollbackPending, result.Event.Status)
	last, _ := result.Event.LastHistory()
	assert.Equal(t, "Fail to validate products: Product does not exist in database!", last.Message)

	stored, err := validations.FindByOrderIDAndTransactionID(context.Background(), result.Event.Key())
	require.NoError(t, err)
	assert.False(t, stored.Success)
}

func TestForwardRejectsEmptyProducts(t *testing.T) {
	runner, validations := newRunner()

	result := runner.Forward(context.Background(), newEvent())

	assert.True(t, saga.IsRejected(result, domain.ErrProductsRequired))
	assert.Equal(t, 1, validations.Count())
}

func TestForwardDuplicateKeepsSingleLedgerEntry(t *testing.T) {
	runner, validations := newRunner()
	event := newEvent("BOOKS")

	first := runner.Forward(context.Background(), event)
	second := runner.Forward(context.Background(), event)

	require.Equal(t, saga.StateSucceeded, first.State)
	assert.True(t, saga.IsRejected(second, domain.ErrDuplicateTransaction))
	assert.Equal(t, 1, validations.Count())

	stored, err := validations.FindByOrderIDAndTransactionID(context.Background(), event.Key())
	require.NoError(t, err)
	assert.True(t, stored.Success, "duplicate delivery must not overwrite the first result")
}

func TestCompensate(t *testing.T) {
	t.Run("existing validation is marked failed", func(t *testing.T) {
		runner, validations := newRunner()
		forwarded := runner.Forward(context.Background(), newEvent("BOOKS"))

		result := runner.Compensate(context.Background(), forwarded.Event)

		assert.Equal(t, saga.KindCompensated, result.Outcome.Kind)
		assert.Equal(t, domain.SagaStatusFail, result.Event.Status)
		last, _ := result.Event.LastHistory()
		assert.Equal(t, "Rollback executed on product validation!", last.Message)

		stored, err := validations.FindByOrderIDAndTransactionID(context.Background(), forwarded.Event.Key())
		require.NoError(t, err)
		assert.False(t, stored.Success)
	})

	t.Run("missing validation records a failed entry", func(t *testing.T) {
		runner, validations := newRunner()

		result := runner.Compensate(context.Background(), newEvent("BOOKS"))

		assert.Equal(t, saga.KindNothingToCompensate, result.Outcome.Kind)
		assert.Equal(t, 1, validations.Count())

		again := runner.Forward(context.Background(), newEvent("BOOKS"))
		assert.True(t, saga.IsRejected(again, domain.ErrDuplicateTransaction))
	})
}
