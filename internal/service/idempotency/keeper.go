package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// DefaultTTL - срок хранения ответа по Idempotency-Key.
const DefaultTTL = 24 * time.Hour

// ErrRequestInProgress возвращается, пока первый запрос с тем же ключом не завершён.
var ErrRequestInProgress = errors.New("request with the same idempotency key is already processing")

// Response - ответ, который сохраняется и воспроизводится для повторов.
type Response struct {
	Status   int
	Body     []byte
	Replayed bool
}

// KeeperOption настраивает Keeper.
type KeeperOption func(*Keeper)

// WithTTL задаёт срок хранения ключа.
func WithTTL(ttl time.Duration) KeeperOption {
	return func(k *Keeper) {
		if ttl > 0 {
			k.ttl = ttl
		}
	}
}

// WithKeeperLogger задаёт logger.
func WithKeeperLogger(logger *log.Entry) KeeperOption {
	return func(k *Keeper) { k.logger = logger }
}

// WithKeeperClock задаёт источник времени.
func WithKeeperClock(clock func() time.Time) KeeperOption {
	return func(k *Keeper) { k.clock = clock }
}

// Keeper выполняет запрос не больше одного раза на Idempotency-Key и
// воспроизводит сохранённый ответ для повторов с тем же телом.
type Keeper struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	clock  func() time.Time
}

// NewKeeper создаёт Keeper. nil repo отключает идемпотентность.
func NewKeeper(repo domain.IdempotencyRepository, options ...KeeperOption) *Keeper {
	k := &Keeper{
		repo:  repo,
		ttl:   DefaultTTL,
		clock: time.Now,
	}
	for _, option := range options {
		option(k)
	}
	if k.logger == nil {
		k.logger = log.WithField("component", "idempotency-keeper")
	}
	return k
}

// Do выполняет fn для нового ключа и сохраняет ответ. Пустой ключ означает
// обычный запрос без идемпотентности.
func (k *Keeper) Do(ctx context.Context, key string, body []byte, fn func(context.Context) Response) (Response, error) {
	key = strings.TrimSpace(key)
	if k == nil || k.repo == nil || key == "" {
		return fn(ctx), nil
	}

	record, err := k.repo.Reserve(ctx, key, domain.HashRequest(body), k.clock().UTC().Add(k.ttl))
	if err != nil {
		return k.replay(key, record, err)
	}

	resp := fn(ctx)
	k.store(ctx, key, resp)
	return resp, nil
}

func (k *Keeper) replay(key string, record domain.IdempotencyRecord, createErr error) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			return Response{}, ErrRequestInProgress
		}
		if !record.Status.Final() {
			return Response{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
		status := record.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return Response{Status: status, Body: record.ResponseBody, Replayed: true}, nil
	default:
		k.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Response{}, fmt.Errorf("%w: create idempotency record: %v", domain.ErrStorage, createErr)
	}
}

// store не зависит от отмены запроса: клиент мог уйти, а ответ нужен повторам.
func (k *Keeper) store(ctx context.Context, key string, resp Response) {
	outcome := domain.NewIdempotencyOutcome(resp.Status, resp.Body)
	if err := k.repo.Complete(context.WithoutCancel(ctx), key, outcome); err != nil {
		k.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
