package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func newIntegrationOrder(id string) (domain.Order, domain.SagaEvent) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	order := domain.Order{
		ID:            id,
		TransactionID: "tx-" + id,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Products: []domain.OrderProduct{{
			Product:  domain.Product{Code: "COMIC_BOOKS", UnitValue: 15.5},
			Quantity: 2,
		}},
	}
	return order, domain.NewSagaEvent(order.Snapshot(), now)
}

func TestOrderStore_PostgresCreateOrderWritesOutbox(t *testing.T) {
	store := integrationStore(t)
	orders := NewOrderStore(store)
	outbox := NewOutboxRepository(store)
	ctx := context.Background()

	order, event := newIntegrationOrder("order-pg-1")
	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     "SagaStarted",
		Topic:         "start-saga",
		Payload:       []byte(`{"orderId":"order-pg-1"}`),
	}

	require.NoError(t, orders.CreateOrder(ctx, order, event, msg))

	got, err := orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TransactionID, got.TransactionID)
	assert.Equal(t, order.Products, got.Products)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	pending, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "start-saga", pending[0].Topic)

	err = orders.CreateOrder(ctx, order, event, msg)
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyExists)

	pending, err = outbox.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "failed create must not leave outbox rows")
}

func TestOrderStore_PostgresEventsAndStatus(t *testing.T) {
	store := integrationStore(t)
	orders := NewOrderStore(store)
	ctx := context.Background()

	order, event := newIntegrationOrder("order-pg-2")
	require.NoError(t, orders.Create(ctx, order))

	first, err := orders.Save(ctx, event)
	require.NoError(t, err)
	assert.False(t, first.StoredAt.IsZero())

	finished := event.Transition(domain.SourceOrchestrator, domain.SagaStatusSuccess, "Saga finished successfully!", time.Now().UTC())
	_, err = orders.Save(ctx, finished)
	require.NoError(t, err)

	last, err := orders.FindLast(ctx, domain.EventFilters{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.SagaStatusSuccess, last.Status)
	require.Len(t, last.History, 1)
	assert.Equal(t, "Saga finished successfully!", last.History[0].Message)

	byTx, err := orders.FindLast(ctx, domain.EventFilters{TransactionID: order.TransactionID})
	require.NoError(t, err)
	assert.Equal(t, last.ID, byTx.ID)

	_, err = orders.FindLast(ctx, domain.EventFilters{OrderID: "missing"})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
	_, err = orders.FindLast(ctx, domain.EventFilters{})
	assert.ErrorIs(t, err, domain.ErrEventFilterRequired)

	all, err := orders.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.SagaStatusSuccess, all[0].Status)

	require.NoError(t, orders.UpdateStatus(ctx, order.ID, domain.OrderStatusSuccess))
	got, err := orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSuccess, got.Status)

	if err := orders.UpdateStatus(ctx, "missing", domain.OrderStatusFail); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
