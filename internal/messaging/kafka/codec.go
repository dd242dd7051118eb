package kafka

import (
	"bytes"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Encode сериализует событие саги в JSON.
func Encode(event domain.SagaEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: encode saga event: %v", domain.ErrSerialization, err)
	}
	return data, nil
}

// ToJSON возвращает JSON события; при ошибке пишет лог и возвращает пустую строку.
func ToJSON(event domain.SagaEvent) string {
	data, err := Encode(event)
	if err != nil {
		log.WithField("component", "saga-codec").WithError(err).WithFields(log.Fields{
			"order_id":       event.OrderID,
			"transaction_id": event.TransactionID,
		}).Error("failed to encode saga event")
		return ""
	}
	return string(data)
}

// ToEvent разбирает JSON в событие саги. Ошибка всегда оборачивает ErrSerialization.
func ToEvent(data []byte) (domain.SagaEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.SagaEvent{}, fmt.Errorf("%w: empty saga event", domain.ErrSerialization)
	}
	var event domain.SagaEvent
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return domain.SagaEvent{}, fmt.Errorf("%w: decode saga event: %v", domain.ErrSerialization, err)
	}
	return event, nil
}
