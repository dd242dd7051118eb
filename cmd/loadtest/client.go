package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/httpapi"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

var errSagaPending = errors.New("saga is still pending")

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected http status %d", e.code) }

// resultCode сворачивает ошибку вызова в код для отчёта.
func resultCode(err error) string {
	var se *statusError
	switch {
	case err == nil:
		return codeOK
	case errors.As(err, &se):
		return strconv.Itoa(se.code)
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, errSagaPending):
		return "PENDING"
	default:
		return "ERROR"
	}
}

// orderClient - клиент HTTP API order-service, пишущий каждый вызов в recorder.
type orderClient struct {
	baseURL string
	http    *http.Client
}

func newOrderClient(baseURL string, httpClient *http.Client) *orderClient {
	return &orderClient{baseURL: baseURL, http: httpClient}
}

// exchange выполняет запрос и декодирует ответ; возвращает признак replay.
func (c *orderClient) exchange(ctx context.Context, rec *recorder, op, method, path string, header http.Header, body any, want int, out any) (bool, error) {
	started := time.Now()
	replayed, err := c.roundTrip(ctx, method, path, header, body, want, out)
	rec.observe(op, time.Since(started), resultCode(err))
	return replayed, err
}

func (c *orderClient) roundTrip(ctx context.Context, method, path string, header http.Header, body any, want int, out any) (bool, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return false, err
	}
	for name, values := range header {
		req.Header[name] = values
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, &statusError{code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.Header.Get(replayedHeader) == "true", nil
}

func (c *orderClient) createOrder(ctx context.Context, rec *recorder, req httpapi.CreateOrderRequest, key string) (httpapi.OrderResponse, bool, error) {
	var out httpapi.OrderResponse
	header := http.Header{}
	header.Set(idempotencyHeader, key)
	replayed, err := c.exchange(ctx, rec, opCreate, http.MethodPost, "/api/order", header, req, http.StatusCreated, &out)
	return out, replayed, err
}

func (c *orderClient) getOrder(ctx context.Context, rec *recorder, id string) (httpapi.OrderResponse, error) {
	var out httpapi.OrderResponse
	_, err := c.exchange(ctx, rec, opGet, http.MethodGet, "/api/order/"+id, nil, nil, http.StatusOK, &out)
	return out, err
}

// awaitOutcome опрашивает заказ, пока сага не завершится. 5xx и PENDING повторяются.
func (c *orderClient) awaitOutcome(ctx context.Context, rec *recorder, id string, timeout, interval time.Duration) (domain.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return retry.DoWithData(
		func() (domain.OrderStatus, error) {
			order, err := c.getOrder(ctx, rec, id)
			switch {
			case err != nil:
				return "", err
			case order.Status == domain.OrderStatusPending:
				return "", errSagaPending
			default:
				return order.Status, nil
			}
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var se *statusError
			return errors.Is(err, errSagaPending) || (errors.As(err, &se) && se.code >= http.StatusInternalServerError)
		}),
	)
}
