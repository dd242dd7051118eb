package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestOutboxPublisher_PublishesPayloadAsIs(t *testing.T) {
	payload := []byte(`{"orderId":"order-123","transactionId":"tx-1"}`)

	mock := mocks.NewSyncProducer(t, nil)
	var sent *sarama.ProducerMessage
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent = msg
		return nil
	})
	publisher := NewOutboxPublisher(NewProducerFromSync(mock), "")

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     "SagaStarted",
		Payload:       payload,
	})
	require.NoError(t, err)
	require.NoError(t, mock.Close())

	require.NotNil(t, sent)
	assert.Equal(t, TopicStartSaga, sent.Topic, "empty topic falls back to start-saga")
	key, err := sent.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "order-123", string(key))
	value, err := sent.Value.Encode()
	require.NoError(t, err)
	assert.Equal(t, payload, value)
	assert.Equal(t, "outbox-1", headerValue(sent, HeaderOutboxID))
	assert.Equal(t, "SagaStarted", headerValue(sent, HeaderEventType))
}

func TestOutboxPublisher_KeyFallsBackToID(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		assert.Equal(t, "outbox-2", string(key))
		assert.Equal(t, TopicDeadLetterQueue, msg.Topic)
		assert.Empty(t, headerValue(msg, HeaderEventType))
		return nil
	})
	publisher := NewOutboxPublisher(NewProducerFromSync(mock), TopicDeadLetterQueue)

	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2", Payload: []byte(`{}`)}))
	require.NoError(t, mock.Close())
}

func TestOutboxPublisher_ProducerError(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	publisher := NewOutboxPublisher(NewProducerFromSync(mock, WithProducerRetry(RetryConfig{MaxAttempts: 1})), TopicStartSaga)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3", Payload: []byte(`{}`)})
	assert.Error(t, err)
	require.NoError(t, mock.Close())
}

func TestOutboxPublisher_WithoutProducer(t *testing.T) {
	err := NewOutboxPublisher(nil, TopicStartSaga).Publish(context.Background(), domain.OutboxMessage{ID: "outbox-4"})
	assert.Error(t, err)
}
