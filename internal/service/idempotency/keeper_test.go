package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func TestKeeper_ReplaysStoredResponse(t *testing.T) {
	t.Parallel()

	keeper := NewKeeper(memory.NewIdempotencyRepository())
	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusOK, Body: []byte(`{"id":"order-1"}`)}
	}

	first, err := keeper.Do(context.Background(), "key-1", []byte(`{"products":[]}`), handler)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := keeper.Do(context.Background(), "key-1", []byte(`{"products":[]}`), handler)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.JSONEq(t, `{"id":"order-1"}`, string(second.Body))
	assert.Equal(t, 1, calls)
}

func TestKeeper_RejectsDifferentBody(t *testing.T) {
	t.Parallel()

	keeper := NewKeeper(memory.NewIdempotencyRepository())
	handler := func(context.Context) Response { return Response{Status: http.StatusOK} }

	_, err := keeper.Do(context.Background(), "key-2", []byte(`a`), handler)
	require.NoError(t, err)

	_, err = keeper.Do(context.Background(), "key-2", []byte(`b`), handler)
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestKeeper_ReplaysFailure(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	keeper := NewKeeper(repo)
	handler := func(context.Context) Response {
		return Response{Status: http.StatusBadRequest, Body: []byte(`{"error":"products must not be empty"}`)}
	}

	_, err := keeper.Do(context.Background(), "key-3", nil, handler)
	require.NoError(t, err)

	record, err := repo.Get(context.Background(), "key-3")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)

	replayed, err := keeper.Do(context.Background(), "key-3", nil, handler)
	require.NoError(t, err)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, http.StatusBadRequest, replayed.Status)
}

func TestKeeper_InProgress(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	_, err := repo.Reserve(context.Background(), "key-4", domain.HashRequest([]byte("x")), time.Now().Add(time.Hour))
	require.NoError(t, err)

	keeper := NewKeeper(repo)
	_, err = keeper.Do(context.Background(), "key-4", []byte("x"), func(context.Context) Response {
		t.Fatal("handler must not run for in-flight key")
		return Response{}
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestKeeper_WithoutKeyOrRepo(t *testing.T) {
	t.Parallel()

	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusOK}
	}

	_, err := NewKeeper(memory.NewIdempotencyRepository()).Do(context.Background(), "  ", nil, handler)
	require.NoError(t, err)
	_, err = NewKeeper(nil).Do(context.Background(), "key", nil, handler)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

// unreachableRepo отвечает на Reserve ошибкой хранилища.
type unreachableRepo struct {
	*memory.IdempotencyRepository
	reserveErr error
}

func (r *unreachableRepo) Reserve(context.Context, string, string, time.Time) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, r.reserveErr
}

func TestKeeper_StorageFailure(t *testing.T) {
	t.Parallel()

	repo := &unreachableRepo{IdempotencyRepository: memory.NewIdempotencyRepository(), reserveErr: errors.New("connection reset")}
	calls := 0
	_, err := NewKeeper(repo).Do(context.Background(), "key-5", nil, func(context.Context) Response {
		calls++
		return Response{Status: http.StatusOK}
	})

	require.Error(t, err)
	assert.True(t, domain.IsStorageError(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Zero(t, calls, "request must not run without a reserved key")
}
