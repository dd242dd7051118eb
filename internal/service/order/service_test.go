package order

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.OrderStore) {
	t.Helper()
	store := memory.NewOrderStore(memory.NewOutboxRepository())
	clock := func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }
	return NewService(store, store, store, WithClock(clock)), store
}

func sampleProducts() []domain.OrderProduct {
	return []domain.OrderProduct{
		{Product: domain.Product{Code: "COMIC_BOOKS", UnitValue: 15.5}, Quantity: 3},
		{Product: domain.Product{Code: "BOOKS", UnitValue: 9.9}, Quantity: 1},
	}
}

func TestCreateOrderSchedulesSagaStart(t *testing.T) {
	svc, store := newService(t)

	order, err := svc.CreateOrder(context.Background(), sampleProducts())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Regexp(t, `^\d+-[0-9a-f-]{36}$`, order.TransactionID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)

	pending, err := store.Outbox().Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, DefaultStartTopic, pending[0].Topic)
	assert.Equal(t, order.ID, pending[0].AggregateID)

	var event domain.SagaEvent
	require.NoError(t, json.Unmarshal(pending[0].Payload, &event))
	assert.Equal(t, order.ID, event.OrderID)
	assert.Equal(t, order.TransactionID, event.TransactionID)
	assert.Len(t, event.Payload.Products, 2)
	assert.Empty(t, event.History)

	initial, err := svc.FindByFilters(context.Background(), domain.EventFilters{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, event.ID, initial.ID)
}

func TestCreateOrderRejectsEmptyProducts(t *testing.T) {
	svc, store := newService(t)

	_, err := svc.CreateOrder(context.Background(), nil)

	require.ErrorIs(t, err, domain.ErrProductsRequired)
	stats, err := store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestNotifyEndingUpdatesOrderStatus(t *testing.T) {
	tests := []struct {
		name   string
		status domain.SagaStatus
		want   domain.OrderStatus
	}{
		{"success", domain.SagaStatusSuccess, domain.OrderStatusSuccess},
		{"fail", domain.SagaStatusFail, domain.OrderStatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t)
			order, err := svc.CreateOrder(context.Background(), sampleProducts())
			require.NoError(t, err)

			final := domain.NewSagaEvent(order.Snapshot(), time.Now()).
				Transition(domain.SourceOrchestrator, tt.status, "Saga finished", time.Now())

			stored, err := svc.NotifyEnding(context.Background(), final)
			require.NoError(t, err)
			assert.Equal(t, tt.status, stored.Status)

			got, err := svc.GetOrder(context.Background(), order.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)

			last, err := svc.FindByFilters(context.Background(), domain.EventFilters{TransactionID: order.TransactionID})
			require.NoError(t, err)
			assert.Equal(t, tt.status, last.Status)
		})
	}
}

func TestNotifyEndingForUnknownOrderStillStoresEvent(t *testing.T) {
	svc, _ := newService(t)
	snapshot := domain.OrderSnapshot{ID: "missing", TransactionID: "tx", Products: sampleProducts()}

	_, err := svc.NotifyEnding(context.Background(), domain.NewSagaEvent(snapshot, time.Now()))
	require.NoError(t, err)

	all, err := svc.FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFindByFiltersRequiresFilter(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.FindByFilters(context.Background(), domain.EventFilters{})
	assert.ErrorIs(t, err, domain.ErrEventFilterRequired)

	_, err = svc.FindByFilters(context.Background(), domain.EventFilters{OrderID: "nope"})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}
