package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxBodyBytes         = 1 << 20
)

// OrderService - операции order-service, доступные по HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, products []domain.OrderProduct) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	FindByFilters(ctx context.Context, filters domain.EventFilters) (domain.StoredEvent, error)
	FindAll(ctx context.Context) ([]domain.StoredEvent, error)
}

// Handler обслуживает HTTP API order-service.
type Handler struct {
	orders OrderService
	keeper *idempotency.Keeper
	logger *log.Entry
}

// NewHandler создаёт Handler. keeper может быть nil: тогда Idempotency-Key игнорируется.
func NewHandler(orders OrderService, keeper *idempotency.Keeper, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{orders: orders, keeper: keeper, logger: logger}
}

// CreateOrder принимает заказ и запускает сагу.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	resp, err := h.keeper.Do(r.Context(), r.Header.Get(idempotencyKeyHeader), body, func(ctx context.Context) idempotency.Response {
		return h.createOrder(ctx, body)
	})
	if err != nil {
		h.writeIdempotencyError(w, err)
		return
	}

	if resp.Replayed {
		w.Header().Set(replayedHeader, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (h *Handler) createOrder(ctx context.Context, body []byte) idempotency.Response {
	var req CreateOrderRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&req); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid_json", err.Error())
	}

	order, err := h.orders.CreateOrder(ctx, req.Products)
	if err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("create order failed")
		}
		return errorResponse(status, code, err.Error())
	}
	return jsonResponse(http.StatusCreated, toOrderResponse(order))
}

// GetOrder возвращает заказ и его статус.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// FindByFilters возвращает последнее событие по orderId и/или transactionId.
func (h *Handler) FindByFilters(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	event, err := h.orders.FindByFilters(r.Context(), domain.EventFilters{
		OrderID:       strings.TrimSpace(query.Get("orderId")),
		TransactionID: strings.TrimSpace(query.Get("transactionId")),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// FindAll возвращает все события, новые первыми.
func (h *Handler) FindAll(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.FindAll(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []domain.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	writeError(w, status, code, err.Error())
}

func (h *Handler) writeIdempotencyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", err.Error())
	case errors.Is(err, idempotency.ErrRequestInProgress):
		writeError(w, http.StatusConflict, "request_in_progress", err.Error())
	default:
		h.logger.WithError(err).Error("idempotency check failed")
		writeError(w, http.StatusInternalServerError, "idempotency_unavailable", "failed to initialize idempotent request")
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrEventNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrOrderAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrProductsRequired),
		errors.Is(err, domain.ErrProductRequired),
		errors.Is(err, domain.ErrInvalidProduct),
		errors.Is(err, domain.ErrOrderIdentityRequired),
		errors.Is(err, domain.ErrEventFilterRequired):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func jsonResponse(status int, v any) idempotency.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "encode_failed", err.Error())
	}
	return idempotency.Response{Status: status, Body: body}
}

func errorResponse(status int, code, msg string) idempotency.Response {
	body, _ := json.Marshal(ErrorResponse{Error: code, Message: msg})
	return idempotency.Response{Status: status, Body: body}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
