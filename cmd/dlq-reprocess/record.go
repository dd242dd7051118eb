package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
)

// errNotReplayable - запись DLQ без исходного сообщения.
var errNotReplayable = errors.New("dlq record carries no original value")

// dlqEnvelope покрывает записи обоих писателей DLQ. У consumer'а original_value -
// строка с исходным сообщением, у outbox worker'а - сам JSON события и outbox_id.
type dlqEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateID   string          `json:"aggregate_id"`
	OriginalTopic string          `json:"original_topic"`
	OriginalValue json.RawMessage `json:"original_value"`
}

// replayRecord - восстановленное сообщение, готовое к повторной публикации.
type replayRecord struct {
	topic   string
	key     string
	value   []byte
	orderID string
}

// decodeRecord восстанавливает исходное событие саги. Значение, которое не является
// событием саги, возвращает ошибку: его повторная публикация снова ушла бы в DLQ.
func decodeRecord(data []byte) (replayRecord, error) {
	var env dlqEnvelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.OriginalValue) == 0 {
		return replayRecord{}, errNotReplayable
	}

	var rec replayRecord
	if env.OutboxID != "" {
		value, err := outboxPayload(env.OriginalValue)
		if err != nil {
			return replayRecord{}, err
		}
		rec = replayRecord{topic: env.OriginalTopic, key: firstSet(env.AggregateID, env.OutboxID), value: value}
	} else {
		msg, err := kafka.ParseDLQMessage(data)
		if err != nil {
			return replayRecord{}, err
		}
		rec = replayRecord{topic: msg.OriginalTopic, key: msg.OriginalKey, value: []byte(msg.OriginalValue)}
	}

	event, err := kafka.ToEvent(rec.value)
	if err != nil {
		return replayRecord{}, err
	}
	if event.OrderID == "" && event.TransactionID == "" {
		return replayRecord{}, errors.New("original value has no saga identity")
	}
	rec.orderID = event.OrderID
	rec.key = firstSet(rec.key, event.TransactionID, event.OrderID)
	return rec, nil
}

// outboxPayload разворачивает не-JSON payload, который outbox worker сохраняет строкой.
func outboxPayload(raw json.RawMessage) ([]byte, error) {
	var quoted string
	if json.Unmarshal(raw, &quoted) == nil {
		return []byte(quoted), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("outbox dlq record has malformed original value")
	}
	return raw, nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
