package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer с политикой повторов из конфигурации.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}

	retry := kafka.DefaultRetryConfig()
	retry.MaxAttempts = cfg.PublishAttempts
	producer, err := kafka.NewProducer(brokers,
		kafka.WithProducerRetry(retry),
		kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")),
	)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// startConsumer подписывает handler на topics в группе groupID. Нечитаемые
// после ConsumerMaxRetries попыток сообщения уходят в DLQ через producer.
func startConsumer(ctx context.Context, cfg Config, groupID string, topics []string, handler kafka.MessageHandler, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.Brokers(),
		GroupID:    groupID,
		Topics:     topics,
		MaxRetries: cfg.ConsumerMaxRetries,
	}, handler,
		kafka.WithConsumerDeadLetter(producer),
		kafka.WithConsumerLogger(logger.WithFields(log.Fields{"component": "kafka-consumer", "group": groupID})),
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}
	logger.WithFields(log.Fields{
		"group":  groupID,
		"topics": topics,
	}).Info("kafka consumer subscribed")
	return consumer, nil
}

// closeKafka останавливает consumer и затем producer; nil допустимы.
func closeKafka(consumer *kafka.Consumer, producer *kafka.Producer, logger *log.Entry) {
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
