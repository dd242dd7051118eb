package domain

// RouteKind - вариант маршрута саги.
type RouteKind string

const (
	RouteForward    RouteKind = "forward"
	RouteCompensate RouteKind = "compensate"
	RouteTerminal   RouteKind = "terminal"
)

// SagaOutcome - итог завершённой саги.
type SagaOutcome string

const (
	SagaOutcomeSuccess SagaOutcome = "SUCCESS"
	SagaOutcomeFailed  SagaOutcome = "FAIL"
)

// StepOrder - статический порядок шагов саги.
var StepOrder = []Source{
	SourceOrchestrator,
	SourceProductValidation,
	SourcePayment,
	SourceInventory,
}

// Route - следующий переход саги: Forward(next), Compensate(pending) или Terminal(outcome).
type Route struct {
	Kind    RouteKind
	Next    Source
	Pending []Source
	Outcome SagaOutcome
}

// Forward - передать событие следующему участнику.
func Forward(next Source) Route {
	return Route{Kind: RouteForward, Next: next}
}

// Compensate - откатить участников в порядке pending; первым идёт pending[0].
func Compensate(pending []Source) Route {
	return Route{Kind: RouteCompensate, Pending: append([]Source(nil), pending...)}
}

// Terminal - сага завершена.
func Terminal(outcome SagaOutcome) Route {
	return Route{Kind: RouteTerminal, Outcome: outcome}
}

// Target возвращает участника, которому адресовано событие; для Terminal пусто.
func (r Route) Target() Source {
	switch r.Kind {
	case RouteForward:
		return r.Next
	case RouteCompensate:
		if len(r.Pending) > 0 {
			return r.Pending[0]
		}
	}
	return ""
}

// NextRoute вычисляет маршрут по участнику, записавшему событие, и его статусу.
//
// SUCCESS на шаге i ведёт к шагу i+1 (или к успешному завершению после последнего шага).
// ROLLBACK_PENDING на шаге i компенсирует шаги i..1: сам участник откатывает
// уже записанную запись журнала первым. FAIL на шаге i продолжает компенсацию с шага i-1.
func NextRoute(source Source, status SagaStatus) Route {
	idx := stepIndex(source)
	if idx < 0 {
		return Terminal(SagaOutcomeFailed)
	}

	switch status {
	case SagaStatusSuccess:
		if idx+1 < len(StepOrder) {
			return Forward(StepOrder[idx+1])
		}
		return Terminal(SagaOutcomeSuccess)
	case SagaStatusRollbackPending:
		return compensateFrom(idx)
	case SagaStatusFail:
		return compensateFrom(idx - 1)
	default:
		return Terminal(SagaOutcomeFailed)
	}
}

func compensateFrom(idx int) Route {
	pending := make([]Source, 0, len(StepOrder))
	for i := idx; i >= 1; i-- {
		pending = append(pending, StepOrder[i])
	}
	if len(pending) == 0 {
		return Terminal(SagaOutcomeFailed)
	}
	return Compensate(pending)
}

func stepIndex(source Source) int {
	for i, s := range StepOrder {
		if s == source {
			return i
		}
	}
	return -1
}
