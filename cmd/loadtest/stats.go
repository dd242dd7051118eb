package main

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	opScenario = "scenario"
	opCreate   = "CreateOrder"
	opGet      = "GetOrder"

	codeOK = "OK"
)

const (
	callsMetric    = "loadtest_calls_total"
	latencyMetric  = "loadtest_latency_ms"
	outcomesMetric = "loadtest_saga_outcomes_total"
)

var latencyObjectives = map[float64]float64{0.5: 0.01, 0.95: 0.005, 0.99: 0.001}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	SagaOutcomes      map[string]int64        `json:"saga_outcomes,omitempty"`
	Methods           map[string]methodReport `json:"methods"`
}

type span struct{ min, max float64 }

// recorder копит результаты вызовов в собственном prometheus-реестре;
// квантили латентности берутся из Summary, min/max считаются отдельно.
type recorder struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	latency  *prometheus.SummaryVec
	outcomes *prometheus.CounterVec

	mu    sync.Mutex
	spans map[string]span
}

func newRecorder() *recorder {
	r := &recorder{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: callsMetric,
			Help: "Load test calls by operation and result code.",
		}, []string{"op", "code"}),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       latencyMetric,
			Help:       "Load test call latency in milliseconds.",
			Objectives: latencyObjectives,
			MaxAge:     24 * time.Hour,
		}, []string{"op"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: outcomesMetric,
			Help: "Final saga statuses observed in create-await mode.",
		}, []string{"status"}),
		spans: make(map[string]span),
	}
	r.registry.MustRegister(r.calls, r.latency, r.outcomes)
	return r
}

func (r *recorder) observe(op string, took time.Duration, code string) {
	ms := float64(took.Microseconds()) / 1000
	r.calls.WithLabelValues(op, code).Inc()
	r.latency.WithLabelValues(op).Observe(ms)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spans[op]
	if !ok {
		s = span{min: ms, max: ms}
	}
	s.min, s.max = math.Min(s.min, ms), math.Max(s.max, ms)
	r.spans[op] = s
}

func (r *recorder) outcome(status string) {
	r.outcomes.WithLabelValues(status).Inc()
}

// report собирает отчёт из реестра.
func (r *recorder) report(startedAt time.Time, elapsed time.Duration) (report, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return report{}, err
	}

	r.mu.Lock()
	spans := make(map[string]span, len(r.spans))
	for op, s := range r.spans {
		spans[op] = s
	}
	r.mu.Unlock()

	methods := make(map[string]*methodReport)
	method := func(op string) *methodReport {
		m, ok := methods[op]
		if !ok {
			m = &methodReport{Codes: make(map[string]int64)}
			methods[op] = m
		}
		return m
	}

	out := report{StartedAt: startedAt.UTC(), DurationSeconds: elapsed.Seconds()}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch family.GetName() {
			case callsMetric:
				m := method(labelOf(metric, "op"))
				code := labelOf(metric, "code")
				n := int64(metric.GetCounter().GetValue())
				m.Calls += n
				m.Codes[code] += n
				if code == codeOK {
					m.Success += n
				} else {
					m.Failed += n
				}
			case latencyMetric:
				op := labelOf(metric, "op")
				method(op).LatencyMs = summarize(metric.GetSummary(), spans[op])
			case outcomesMetric:
				if out.SagaOutcomes == nil {
					out.SagaOutcomes = make(map[string]int64)
				}
				out.SagaOutcomes[labelOf(metric, "status")] = int64(metric.GetCounter().GetValue())
			}
		}
	}

	out.Methods = make(map[string]methodReport, len(methods))
	for op, m := range methods {
		m.ErrorRate = ratio(m.Failed, m.Calls)
		out.Methods[op] = *m
	}
	if scenario, ok := out.Methods[opScenario]; ok {
		out.TotalScenarios = scenario.Calls
		out.SuccessScenarios = scenario.Success
		out.FailedScenarios = scenario.Failed
		out.ErrorRate = scenario.ErrorRate
		out.ScenarioLatencyMs = scenario.LatencyMs
	}
	if elapsed > 0 {
		out.RPS = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out, nil
}

func summarize(s *dto.Summary, bounds span) latencySummary {
	if s.GetSampleCount() == 0 {
		return latencySummary{}
	}
	out := latencySummary{
		Min: bounds.min,
		Max: bounds.max,
		Avg: s.GetSampleSum() / float64(s.GetSampleCount()),
	}
	for _, q := range s.GetQuantile() {
		v := q.GetValue()
		if math.IsNaN(v) {
			v = 0
		}
		switch q.GetQuantile() {
		case 0.5:
			out.P50 = v
		case 0.95:
			out.P95 = v
		case 0.99:
			out.P99 = v
		}
	}
	return out
}

func labelOf(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
