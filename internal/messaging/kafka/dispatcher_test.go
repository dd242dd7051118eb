package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

type sentEvent struct {
	topic string
	event domain.SagaEvent
}

type memoryPublisher struct {
	mu   sync.Mutex
	sent []sentEvent
	err  error
	// failures - сколько первых вызовов вернут ошибку.
	failures int
	calls    int
}

func (p *memoryPublisher) Publish(_ context.Context, topic string, event domain.SagaEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	if p.calls <= p.failures {
		return errors.New("leader not available")
	}
	p.sent = append(p.sent, sentEvent{topic: topic, event: event})
	return nil
}

type stubHandler struct {
	forward    int
	compensate int
}

func (h *stubHandler) Source() domain.Source { return domain.SourcePayment }

func (h *stubHandler) HandleForward(_ context.Context, event domain.SagaEvent) domain.SagaEvent {
	h.forward++
	return event.Transition(domain.SourcePayment, domain.SagaStatusSuccess, "Payment realized successfully!", time.Now())
}

func (h *stubHandler) HandleCompensation(_ context.Context, event domain.SagaEvent) domain.SagaEvent {
	h.compensate++
	return event.Transition(domain.SourcePayment, domain.SagaStatusFail, "Rollback executed for payment!", time.Now())
}

func messageFor(t *testing.T, topic string, event domain.SagaEvent) *sarama.ConsumerMessage {
	t.Helper()
	data, err := Encode(event)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: topic, Key: []byte(event.TransactionID), Value: data}
}

func TestParticipantDispatcherRoutesByTopic(t *testing.T) {
	defer goleak.VerifyNone(t)

	handler := &stubHandler{}
	publisher := &memoryPublisher{}
	dispatcher := NewParticipantDispatcher(handler, publisher, DefaultTopics())

	assert.ElementsMatch(t, []string{TopicPaymentSuccess, TopicPaymentFail}, dispatcher.Topics())

	require.NoError(t, dispatcher.Handle(context.Background(), messageFor(t, TopicPaymentSuccess, sampleEvent())))
	require.NoError(t, dispatcher.Handle(context.Background(), messageFor(t, TopicPaymentFail, sampleEvent())))

	assert.Equal(t, 1, handler.forward)
	assert.Equal(t, 1, handler.compensate)
	require.Len(t, publisher.sent, 2)
	for _, sent := range publisher.sent {
		assert.Equal(t, TopicOrchestrator, sent.topic)
		assert.Len(t, sent.event.History, 2)
	}
	assert.Equal(t, domain.SagaStatusSuccess, publisher.sent[0].event.Status)
	assert.Equal(t, domain.SagaStatusFail, publisher.sent[1].event.Status)
}

func TestParticipantDispatcherIntentForUnknownTopic(t *testing.T) {
	dispatcher := NewParticipantDispatcher(&stubHandler{}, &memoryPublisher{}, DefaultTopics())

	assert.Equal(t, IntentCompensate, dispatcher.IntentFor("legacy", domain.SagaStatusFail))
	assert.Equal(t, IntentForward, dispatcher.IntentFor("legacy", domain.SagaStatusSuccess))
	assert.Equal(t, IntentForward, dispatcher.IntentFor(TopicPaymentSuccess, domain.SagaStatusFail))
}

func TestParticipantDispatcherDropsUndecodableMessage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSagaMetricsWithRegisterer(reg)
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			t.Errorf("expected dlq topic, got %s", msg.Topic)
		}
		return nil
	})

	handler := &stubHandler{}
	publisher := &memoryPublisher{}
	dispatcher := NewParticipantDispatcher(handler, publisher, DefaultTopics(),
		WithDispatcherMetrics(m),
		WithDispatcherLogger(log.WithField("test", "dispatcher")),
		WithDeadLetter(NewProducerFromSync(mockProducer, WithProducerLogger(log.WithField("test", "dlq"))), TopicDeadLetterQueue),
	)

	err := dispatcher.Handle(context.Background(), &sarama.ConsumerMessage{Topic: TopicPaymentSuccess, Value: []byte("{not json")})

	require.NoError(t, err, "undecodable message must be acknowledged")
	assert.Zero(t, handler.forward)
	assert.Empty(t, publisher.sent)
	require.NoError(t, mockProducer.Close())

	families, err := reg.Gather()
	require.NoError(t, err)
	var dropped float64
	for _, family := range families {
		if family.GetName() == "saga_dispatch_dropped_total" {
			dropped = family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, dropped)
}

func TestParticipantDispatcherReturnsPublishError(t *testing.T) {
	handler := &stubHandler{}
	publisher := &memoryPublisher{err: errors.New("broker down")}
	dispatcher := NewParticipantDispatcher(handler, publisher, DefaultTopics(),
		WithPublishRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}))

	err := dispatcher.Handle(context.Background(), messageFor(t, TopicPaymentSuccess, sampleEvent()))

	assert.EqualError(t, err, "broker down")
	assert.Equal(t, 3, publisher.calls)
	assert.Equal(t, 1, handler.forward)
}

func TestParticipantDispatcherPublishRetriesUntilCancelled(t *testing.T) {
	handler := &stubHandler{}
	publisher := &memoryPublisher{err: errors.New("broker down")}
	dispatcher := NewParticipantDispatcher(handler, publisher, DefaultTopics(),
		WithPublishRetry(RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Error(t, dispatcher.Handle(ctx, messageFor(t, TopicPaymentSuccess, sampleEvent())))
	assert.Greater(t, publisher.calls, 1)
	assert.Equal(t, 1, handler.forward)
}

// Повтор публикации отправляет уже вычисленный результат, шаг участника не повторяется.
func TestParticipantDispatcherRepublishesSameResult(t *testing.T) {
	handler := &stubHandler{}
	publisher := &memoryPublisher{failures: 1}
	dispatcher := NewParticipantDispatcher(handler, publisher, DefaultTopics(),
		WithPublishRetry(RetryConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	c := newConsumer(newFakeGroup(), ConsumerConfig{Topics: dispatcher.Topics(), MaxRetries: 3, RetryDelay: time.Millisecond}, dispatcher.Handle)

	outcome := c.process(context.Background(), messageFor(t, TopicPaymentSuccess, sampleEvent()))

	assert.Equal(t, outcomeHandled, outcome)
	assert.Equal(t, 1, handler.forward)
	assert.Equal(t, 2, publisher.calls)
	require.Len(t, publisher.sent, 1)
	assert.Equal(t, domain.SagaStatusSuccess, publisher.sent[0].event.Status)
	assert.Equal(t, domain.SourcePayment, publisher.sent[0].event.Source)
}

func TestOrchestratorDispatcher(t *testing.T) {
	publisher := &memoryPublisher{}
	topics := DefaultTopics()
	orchestrator := saga.NewOrchestrator(publisher, topics)
	dispatcher := NewOrchestratorDispatcher(orchestrator, topics)

	assert.ElementsMatch(t, []string{TopicStartSaga, TopicOrchestrator, TopicFinishSuccess, TopicFinishFail}, dispatcher.Topics())

	initial := domain.NewSagaEvent(sampleEvent().Payload, time.Now())
	require.NoError(t, dispatcher.Handle(context.Background(), messageFor(t, TopicStartSaga, initial)))

	inventoryDone := sampleEvent().Transition(domain.SourceInventory, domain.SagaStatusSuccess, "Inventory updated successfully!", time.Now())
	require.NoError(t, dispatcher.Handle(context.Background(), messageFor(t, TopicOrchestrator, inventoryDone)))

	paymentFailed := sampleEvent().Transition(domain.SourcePayment, domain.SagaStatusRollbackPending, "Fail to realized payment: x", time.Now())
	require.NoError(t, dispatcher.Handle(context.Background(), messageFor(t, TopicOrchestrator, paymentFailed)))

	require.NoError(t, dispatcher.Handle(context.Background(), messageFor(t, TopicFinishFail, paymentFailed)))

	require.Len(t, publisher.sent, 4)
	assert.Equal(t, TopicProductValidationSuccess, publisher.sent[0].topic)
	assert.Equal(t, TopicFinishSuccess, publisher.sent[1].topic)
	assert.Equal(t, TopicPaymentFail, publisher.sent[2].topic)
	assert.Equal(t, TopicNotifyEnding, publisher.sent[3].topic)

	last, _ := publisher.sent[3].event.LastHistory()
	assert.Equal(t, "Saga finished with errors!", last.Message)
}

type recordingNotifier struct {
	events []domain.SagaEvent
}

func (n *recordingNotifier) NotifyEnding(_ context.Context, event domain.SagaEvent) (domain.StoredEvent, error) {
	n.events = append(n.events, event)
	return domain.StoredEvent{SagaEvent: event, StoredAt: time.Now()}, nil
}

func TestNotifyDispatcher(t *testing.T) {
	notifier := &recordingNotifier{}
	dispatcher := NewNotifyDispatcher(notifier, DefaultTopics())

	assert.Equal(t, []string{TopicNotifyEnding}, dispatcher.Topics())
	require.NoError(t, dispatcher.Handle(context.Background(), messageFor(t, TopicNotifyEnding, sampleEvent())))
	require.NoError(t, dispatcher.Handle(context.Background(), &sarama.ConsumerMessage{Topic: TopicNotifyEnding, Value: []byte("")}))

	assert.Len(t, notifier.events, 1)
}

func TestTopicsForRoute(t *testing.T) {
	topics := DefaultTopics()

	assert.Equal(t, TopicInventorySuccess, topics.ForRoute(domain.NextRoute(domain.SourcePayment, domain.SagaStatusSuccess)))
	assert.Equal(t, TopicInventoryFail, topics.ForRoute(domain.NextRoute(domain.SourceInventory, domain.SagaStatusRollbackPending)))
	assert.Equal(t, TopicProductValidationFail, topics.ForRoute(domain.NextRoute(domain.SourcePayment, domain.SagaStatusFail)))
	assert.Equal(t, TopicFinishFail, topics.ForRoute(domain.NextRoute(domain.SourceProductValidation, domain.SagaStatusFail)))
	assert.Equal(t, TopicFinishFail, topics.ForRoute(domain.NextRoute("UNKNOWN", domain.SagaStatusSuccess)))
	assert.Len(t, topics.All(), 12)
}
