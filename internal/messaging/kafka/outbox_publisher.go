package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// OutboxPublisher переносит outbox-сообщения в Kafka без перекодирования payload:
// в топиках саги лежит само событие.
type OutboxPublisher struct {
	producer *Producer
	fallback string
}

// NewOutboxPublisher создаёт паблишер; fallback - topic для сообщений без Topic.
func NewOutboxPublisher(producer *Producer, fallback string) *OutboxPublisher {
	if fallback == "" {
		fallback = TopicStartSaga
	}
	return &OutboxPublisher{producer: producer, fallback: fallback}
}

// Publish ключует сообщение по агрегату, чтобы события одного заказа шли в одну партицию.
func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher has no producer")
	}

	topic := msg.Topic
	if topic == "" {
		topic = p.fallback
	}
	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	return p.producer.PublishRaw(ctx, topic, key, msg.Payload, outboxHeaders(msg))
}

func outboxHeaders(msg domain.OutboxMessage) []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, 2)
	if msg.ID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderOutboxID), Value: []byte(msg.ID)})
	}
	if msg.EventType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(msg.EventType)})
	}
	return headers
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
