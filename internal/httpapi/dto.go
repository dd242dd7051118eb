package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// CreateOrderRequest - тело POST /api/order.
type CreateOrderRequest struct {
	Products []domain.OrderProduct `json:"products"`
}

// OrderResponse - заказ в ответах API.
type OrderResponse struct {
	ID            string                `json:"id"`
	Products      []domain.OrderProduct `json:"products"`
	TransactionID string                `json:"transactionId"`
	Status        domain.OrderStatus    `json:"status"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// ErrorResponse - тело ответа с ошибкой.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func toOrderResponse(order domain.Order) OrderResponse {
	products := order.Products
	if products == nil {
		products = []domain.OrderProduct{}
	}
	return OrderResponse{
		ID:            order.ID,
		Products:      products,
		TransactionID: order.TransactionID,
		Status:        order.Status,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}
