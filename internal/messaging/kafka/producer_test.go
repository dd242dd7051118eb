package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func sampleEvent() domain.SagaEvent {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	snapshot := domain.OrderSnapshot{
		ID:            "order-123",
		TransactionID: "1714554000000-tx",
		CreatedAt:     now,
		Products: []domain.OrderProduct{{
			Product:  domain.Product{Code: "COMIC_BOOKS", UnitValue: 15.5},
			Quantity: 2,
		}},
	}
	return domain.NewSagaEvent(snapshot, now).
		Transition(domain.SourceOrchestrator, domain.SagaStatusSuccess, "Saga started!", now)
}

func TestProducer_Publish(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	event := sampleEvent()

	producer := NewProducerFromSync(mockProducer, WithProducerLogger(log.WithField("component", "kafka-producer-test")))

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != event.TransactionID {
			t.Errorf("expected key %q, got %q", event.TransactionID, key)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		decoded, err := ToEvent(value)
		if err != nil {
			return err
		}
		if len(decoded.History) != 1 || decoded.History[0].Message != "Saga started!" {
			t.Errorf("unexpected history %+v", decoded.History)
		}
		return nil
	})

	if err := producer.Publish(context.Background(), TopicProductValidationSuccess, event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishRetriesTransientErrors(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	mockProducer.ExpectSendMessageAndSucceed()

	producer := NewProducerFromSync(mockProducer, WithProducerRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}))

	if err := producer.Publish(context.Background(), TopicOrchestrator, sampleEvent()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	event := sampleEvent().
		Transition(domain.SourceProductValidation, domain.SagaStatusSuccess, "Products are validated successfully!", time.Date(2026, 5, 1, 9, 0, 1, 0, time.UTC)).
		Transition(domain.SourcePayment, domain.SagaStatusRollbackPending, "Fail to realized payment: The minimum amount available is 0.1", time.Date(2026, 5, 1, 9, 0, 2, 0, time.UTC))

	decoded, err := ToEvent([]byte(ToJSON(event)))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(decoded.History))
	}
	for i := range event.History {
		if !decoded.History[i].CreatedAt.Equal(event.History[i].CreatedAt) ||
			decoded.History[i].Message != event.History[i].Message ||
			decoded.History[i].Source != event.History[i].Source ||
			decoded.History[i].Status != event.History[i].Status {
			t.Fatalf("history entry %d differs: %+v vs %+v", i, decoded.History[i], event.History[i])
		}
	}
	if decoded.Status != domain.SagaStatusRollbackPending || decoded.Source != domain.SourcePayment {
		t.Fatalf("unexpected status/source %s/%s", decoded.Status, decoded.Source)
	}
}

func TestCodecWireFormat(t *testing.T) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(ToJSON(sampleEvent())), &raw); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for _, key := range []string{"id", "transactionId", "orderId", "payload", "source", "status", "eventHistory", "createdAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	payload := raw["payload"].(map[string]any)
	products := payload["products"].([]any)
	product := products[0].(map[string]any)["product"].(map[string]any)
	if product["code"] != "COMIC_BOOKS" || product["unitValue"] != 15.5 {
		t.Errorf("unexpected product encoding %v", product)
	}
}

func TestToEventErrors(t *testing.T) {
	for _, input := range []string{"", "null", "{", `{"eventHistory":"x"}`} {
		if _, err := ToEvent([]byte(input)); err == nil || domain.ClassifyError(err) != domain.ErrorClassSerialization {
			t.Errorf("expected serialization error for %q, got %v", input, err)
		}
	}
}
