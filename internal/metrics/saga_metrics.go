package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики участников саги, диспетчера и оркестратора.
type SagaMetrics struct {
	// Результаты шагов участников
	forwardTotal      *prometheus.CounterVec
	compensationTotal *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec

	// Время выполнения шагов
	stepDuration *prometheus.HistogramVec

	// Диспетчер и маршрутизация
	droppedTotal  *prometheus.CounterVec
	routesTotal   *prometheus.CounterVec
	finishedTotal *prometheus.CounterVec
}

// NewSagaMetrics создаёт метрики в регистре по умолчанию.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики в заданном регистре.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		forwardTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "saga_participant_forward_total",
			Help: "Total number of forward steps grouped by participant and result",
		}, []string{"source", "result"}),
		compensationTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "saga_participant_compensation_total",
			Help: "Total number of compensations grouped by participant and outcome",
		}, []string{"source", "outcome"}),
		errorsTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "saga_participant_errors_total",
			Help: "Total number of caught participant errors grouped by class",
		}, []string{"source", "class"}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "saga_participant_step_duration_seconds",
			Help:    "Duration of participant steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"source", "step"}),
		droppedTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "saga_dispatch_dropped_total",
			Help: "Total number of inbound messages dropped by the dispatcher",
		}, []string{"reason"}),
		routesTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "saga_orchestrator_routes_total",
			Help: "Total number of routing decisions grouped by route kind",
		}, []string{"kind"}),
		finishedTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "saga_finished_total",
			Help: "Total number of finished sagas grouped by outcome",
		}, []string{"outcome"}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordForward учитывает результат прямого шага (succeeded/rejected).
func (m *SagaMetrics) RecordForward(source, result string) {
	if m == nil {
		return
	}
	m.forwardTotal.WithLabelValues(source, result).Inc()
}

// RecordCompensation учитывает исход компенсации.
func (m *SagaMetrics) RecordCompensation(source, outcome string) {
	if m == nil {
		return
	}
	m.compensationTotal.WithLabelValues(source, outcome).Inc()
}

// RecordError учитывает перехваченную ошибку участника по категории.
func (m *SagaMetrics) RecordError(source, class string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(source, class).Inc()
}

// RecordStepDuration записывает время выполнения шага участника.
func (m *SagaMetrics) RecordStepDuration(source, step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(source, step).Observe(duration.Seconds())
}

// RecordDropped учитывает сообщение, отброшенное диспетчером.
func (m *SagaMetrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

// RecordRoute учитывает решение маршрутизации.
func (m *SagaMetrics) RecordRoute(kind string) {
	if m == nil {
		return
	}
	m.routesTotal.WithLabelValues(kind).Inc()
}

// RecordFinished учитывает завершённую сагу.
func (m *SagaMetrics) RecordFinished(outcome string) {
	if m == nil {
		return
	}
	m.finishedTotal.WithLabelValues(outcome).Inc()
}
