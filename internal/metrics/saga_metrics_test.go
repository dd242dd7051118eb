package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewSagaMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSagaMetricsWithRegisterer(reg)

	if metrics.forwardTotal == nil || metrics.compensationTotal == nil || metrics.errorsTotal == nil {
		t.Fatal("participant counters should not be nil")
	}
	if metrics.stepDuration == nil {
		t.Fatal("stepDuration histogram vec should not be nil")
	}
	if metrics.droppedTotal == nil || metrics.routesTotal == nil || metrics.finishedTotal == nil {
		t.Fatal("dispatch counters should not be nil")
	}
}

func TestNewSagaMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewSagaMetricsWithRegisterer(reg)
	second := NewSagaMetricsWithRegisterer(reg)

	first.RecordForward("PAYMENT_SERVICE", "succeeded")
	second.RecordForward("PAYMENT_SERVICE", "succeeded")

	if got := counterValue(t, first.forwardTotal, "PAYMENT_SERVICE", "succeeded"); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestRecordParticipantMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSagaMetricsWithRegisterer(reg)

	metrics.RecordForward("INVENTORY_SERVICE", "rejected")
	metrics.RecordCompensation("INVENTORY_SERVICE", "compensated")
	metrics.RecordError("INVENTORY_SERVICE", "storage")
	metrics.RecordError("INVENTORY_SERVICE", "storage")
	metrics.RecordDropped("decode")
	metrics.RecordRoute("compensate")
	metrics.RecordFinished("FAIL")
	metrics.RecordStepDuration("INVENTORY_SERVICE", "forward", 15*time.Millisecond)

	if got := counterValue(t, metrics.forwardTotal, "INVENTORY_SERVICE", "rejected"); got != 1 {
		t.Fatalf("expected forward counter 1, got %v", got)
	}
	if got := counterValue(t, metrics.errorsTotal, "INVENTORY_SERVICE", "storage"); got != 2 {
		t.Fatalf("expected error counter 2, got %v", got)
	}
	if got := counterValue(t, metrics.droppedTotal, "decode"); got != 1 {
		t.Fatalf("expected dropped counter 1, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "saga_participant_step_duration_seconds" {
			found = true
			if got := family.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
				t.Fatalf("expected 1 histogram sample, got %d", got)
			}
		}
	}
	if !found {
		t.Fatal("step duration histogram was not gathered")
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var metrics *SagaMetrics
	metrics.RecordForward("x", "y")
	metrics.RecordCompensation("x", "y")
	metrics.RecordError("x", "y")
	metrics.RecordStepDuration("x", "y", time.Second)
	metrics.RecordDropped("x")
	metrics.RecordRoute("x")
	metrics.RecordFinished("x")
}
