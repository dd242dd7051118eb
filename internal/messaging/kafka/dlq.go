package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// DLQMessage - сообщение, отправленное в Dead Letter Queue.
type DLQMessage struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// NewDLQMessage собирает DLQ-запись для исходного сообщения.
func NewDLQMessage(message *sarama.ConsumerMessage, processingErr error, retryCount int, now time.Time) DLQMessage {
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return DLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      errMsg,
		FailedAt:          now.UTC(),
		RetryCount:        retryCount,
	}
}

// ParseDLQMessage разбирает DLQ-запись.
func ParseDLQMessage(data []byte) (DLQMessage, error) {
	var msg DLQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return DLQMessage{}, fmt.Errorf("failed to unmarshal dlq message: %w", err)
	}
	if msg.OriginalTopic == "" {
		return DLQMessage{}, fmt.Errorf("dlq message has no original topic")
	}
	return msg, nil
}

// Headers возвращает заголовки для DLQ-сообщения.
func (m DLQMessage) Headers() []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(m.RetryCount))},
		{Key: []byte(HeaderOriginalTopic), Value: []byte(m.OriginalTopic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(m.ErrorMessage)},
		{Key: []byte(HeaderFailedAt), Value: []byte(m.FailedAt.Format(time.RFC3339))},
	}
}

// deadLetter отправляет сообщения в DLQ topic; nil-значение отключает DLQ.
type deadLetter struct {
	producer *Producer
	topic    string
}

func (d *deadLetter) enabled() bool {
	return d != nil && d.producer != nil
}

func (d *deadLetter) send(ctx context.Context, message *sarama.ConsumerMessage, cause error, retryCount int) error {
	if !d.enabled() {
		return fmt.Errorf("dead letter queue is not configured")
	}
	topic := d.topic
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	record := NewDLQMessage(message, cause, retryCount, time.Now())
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message: %w", err)
	}
	return d.producer.PublishRaw(ctx, topic, string(message.Key), data, record.Headers())
}

func retryCountOf(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == HeaderRetryCount {
			count, err := strconv.Atoi(string(header.Value))
			if err == nil {
				return count
			}
		}
	}
	return 0
}
