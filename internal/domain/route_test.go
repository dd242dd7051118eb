package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestNextRoute(t *testing.T) {
	tests := []struct {
		name   string
		source domain.Source
		status domain.SagaStatus
		want   domain.Route
	}{
		{"saga started", domain.SourceOrchestrator, domain.SagaStatusSuccess, domain.Forward(domain.SourceProductValidation)},
		{"orchestrator fail", domain.SourceOrchestrator, domain.SagaStatusFail, domain.Terminal(domain.SagaOutcomeFailed)},
		{"validation ok", domain.SourceProductValidation, domain.SagaStatusSuccess, domain.Forward(domain.SourcePayment)},
		{"validation rejected", domain.SourceProductValidation, domain.SagaStatusRollbackPending,
			domain.Compensate([]domain.Source{domain.SourceProductValidation})},
		{"validation rolled back", domain.SourceProductValidation, domain.SagaStatusFail, domain.Terminal(domain.SagaOutcomeFailed)},
		{"payment ok", domain.SourcePayment, domain.SagaStatusSuccess, domain.Forward(domain.SourceInventory)},
		{"payment rejected", domain.SourcePayment, domain.SagaStatusRollbackPending,
			domain.Compensate([]domain.Source{domain.SourcePayment, domain.SourceProductValidation})},
		{"payment rolled back", domain.SourcePayment, domain.SagaStatusFail,
			domain.Compensate([]domain.Source{domain.SourceProductValidation})},
		{"inventory ok", domain.SourceInventory, domain.SagaStatusSuccess, domain.Terminal(domain.SagaOutcomeSuccess)},
		{"inventory rejected", domain.SourceInventory, domain.SagaStatusRollbackPending,
			domain.Compensate([]domain.Source{domain.SourceInventory, domain.SourcePayment, domain.SourceProductValidation})},
		{"inventory rolled back", domain.SourceInventory, domain.SagaStatusFail,
			domain.Compensate([]domain.Source{domain.SourcePayment, domain.SourceProductValidation})},
		{"unknown source", domain.Source("SHIPPING"), domain.SagaStatusSuccess, domain.Terminal(domain.SagaOutcomeFailed)},
		{"unknown status", domain.SourcePayment, domain.SagaStatus("LOST"), domain.Terminal(domain.SagaOutcomeFailed)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.NextRoute(tt.source, tt.status))
		})
	}
}

func TestRouteTarget(t *testing.T) {
	assert.Equal(t, domain.SourcePayment, domain.Forward(domain.SourcePayment).Target())
	assert.Equal(t, domain.SourceInventory,
		domain.Compensate([]domain.Source{domain.SourceInventory, domain.SourcePayment}).Target())
	assert.Empty(t, domain.Terminal(domain.SagaOutcomeSuccess).Target())
}
