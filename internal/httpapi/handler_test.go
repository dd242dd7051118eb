package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/order"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

const orderBody = `{"products":[{"product":{"code":"COMIC_BOOKS","unitValue":15.5},"quantity":2}]}`

type testAPI struct {
	router  http.Handler
	store   *memory.OrderStore
	service *order.Service
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	store := memory.NewOrderStore(memory.NewOutboxRepository())
	clock := func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	svc := order.NewService(store, store, store, order.WithClock(clock))
	keeper := idempotency.NewKeeper(memory.NewIdempotencyRepository())
	return testAPI{
		router:  NewRouter(NewHandler(svc, keeper, nil)),
		store:   store,
		service: svc,
	}
}

func (a testAPI) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/order", orderBody, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.NotEmpty(t, resp.TransactionID)
	assert.Equal(t, domain.OrderStatusPending, resp.Status)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "COMIC_BOOKS", resp.Products[0].Product.Code)

	pending, err := api.store.Outbox().Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCreateOrderValidation(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty products", `{"products":[]}`, http.StatusBadRequest},
		{"missing product code", `{"products":[{"product":{"unitValue":1},"quantity":1}]}`, http.StatusBadRequest},
		{"broken json", `{"products":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/order", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	api := newTestAPI(t)
	headers := map[string]string{"Idempotency-Key": "order-key-1"}

	first := api.do(t, http.MethodPost, "/api/order", orderBody, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := api.do(t, http.MethodPost, "/api/order", orderBody, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	pending, err := api.store.Outbox().Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "replayed request must not start another saga")

	other := api.do(t, http.MethodPost, "/api/order", `{"products":[{"product":{"code":"BOOKS","unitValue":1},"quantity":1}]}`, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, other.Code)
}

func TestFindEvents(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	created, err := api.service.CreateOrder(ctx, []domain.OrderProduct{{
		Product:  domain.Product{Code: "MOVIES", UnitValue: 5},
		Quantity: 1,
	}})
	require.NoError(t, err)

	byOrder := api.do(t, http.MethodGet, "/api/event?orderId="+created.ID, "", nil)
	require.Equal(t, http.StatusOK, byOrder.Code)
	var event domain.StoredEvent
	require.NoError(t, json.Unmarshal(byOrder.Body.Bytes(), &event))
	assert.Equal(t, created.TransactionID, event.TransactionID)

	byTx := api.do(t, http.MethodGet, "/api/event?transactionId="+created.TransactionID, "", nil)
	assert.Equal(t, http.StatusOK, byTx.Code)

	missing := api.do(t, http.MethodGet, "/api/event?orderId=unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	noFilter := api.do(t, http.MethodGet, "/api/event", "", nil)
	assert.Equal(t, http.StatusBadRequest, noFilter.Code)

	all := api.do(t, http.MethodGet, "/api/event/all", "", nil)
	require.Equal(t, http.StatusOK, all.Code)
	var events []domain.StoredEvent
	require.NoError(t, json.Unmarshal(all.Body.Bytes(), &events))
	assert.Len(t, events, 1)
}

func TestGetOrder(t *testing.T) {
	api := newTestAPI(t)

	created, err := api.service.CreateOrder(context.Background(), []domain.OrderProduct{{
		Product:  domain.Product{Code: "MUSIC", UnitValue: 3},
		Quantity: 2,
	}})
	require.NoError(t, err)

	rec := api.do(t, http.MethodGet, "/api/order/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.ID)

	missing := api.do(t, http.MethodGet, "/api/order/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

type failingOrders struct{ OrderService }

func (failingOrders) FindAll(context.Context) ([]domain.StoredEvent, error) {
	return nil, errors.Join(domain.ErrStorage, errors.New("connection refused"))
}

func TestStorageFailureIsInternalError(t *testing.T) {
	router := NewRouter(NewHandler(failingOrders{}, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/event/all", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}
