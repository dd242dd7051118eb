package kafka

import (
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Топики саги.
const (
	TopicStartSaga       = "start-saga"
	TopicOrchestrator    = "orchestrator"
	TopicFinishSuccess   = "finish-success"
	TopicFinishFail      = "finish-fail"
	TopicNotifyEnding    = "notify-ending"
	TopicDeadLetterQueue = "saga-dlq"

	TopicProductValidationSuccess = "product-validation-success"
	TopicProductValidationFail    = "product-validation-fail"
	TopicPaymentSuccess           = "payment-success"
	TopicPaymentFail              = "payment-fail"
	TopicInventorySuccess         = "inventory-success"
	TopicInventoryFail            = "inventory-fail"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderReplayedFrom  = "x-replayed-from"
)

// ParticipantTopics - пара топиков участника: прямой шаг и компенсация.
type ParticipantTopics struct {
	Forward    string
	Compensate string
}

// Topics - таблица топиков саги. Маршрут оркестратора превращается в топик только здесь.
type Topics struct {
	Start         string
	Orchestrator  string
	FinishSuccess string
	FinishFail    string
	Notify        string
	DeadLetter    string
	Participants  map[domain.Source]ParticipantTopics
}

// DefaultTopics возвращает стандартные имена топиков.
func DefaultTopics() Topics {
	return Topics{
		Start:         TopicStartSaga,
		Orchestrator:  TopicOrchestrator,
		FinishSuccess: TopicFinishSuccess,
		FinishFail:    TopicFinishFail,
		Notify:        TopicNotifyEnding,
		DeadLetter:    TopicDeadLetterQueue,
		Participants: map[domain.Source]ParticipantTopics{
			domain.SourceProductValidation: {Forward: TopicProductValidationSuccess, Compensate: TopicProductValidationFail},
			domain.SourcePayment:           {Forward: TopicPaymentSuccess, Compensate: TopicPaymentFail},
			domain.SourceInventory:         {Forward: TopicInventorySuccess, Compensate: TopicInventoryFail},
		},
	}
}

// ForRoute возвращает топик для маршрута саги.
func (t Topics) ForRoute(route domain.Route) string {
	switch route.Kind {
	case domain.RouteForward:
		return t.Participants[route.Target()].Forward
	case domain.RouteCompensate:
		return t.Participants[route.Target()].Compensate
	default:
		if route.Outcome == domain.SagaOutcomeSuccess {
			return t.FinishSuccess
		}
		return t.FinishFail
	}
}

// NotifyEnding возвращает топик уведомления order-service.
func (t Topics) NotifyEnding() string {
	return t.Notify
}

// For возвращает топики участника.
func (t Topics) For(source domain.Source) ParticipantTopics {
	return t.Participants[source]
}

// OrchestratorInbound - топики, которые слушает оркестратор.
func (t Topics) OrchestratorInbound() []string {
	return []string{t.Start, t.Orchestrator, t.FinishSuccess, t.FinishFail}
}

// All возвращает все топики саги, включая DLQ.
func (t Topics) All() []string {
	all := []string{t.Start, t.Orchestrator, t.FinishSuccess, t.FinishFail, t.Notify, t.DeadLetter}
	for _, source := range domain.StepOrder {
		if pt, ok := t.Participants[source]; ok {
			all = append(all, pt.Forward, pt.Compensate)
		}
	}
	return all
}
