package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

// State - состояние прямого шага участника.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateValidating State = "VALIDATING"
	StateExecuting  State = "EXECUTING"
	StateSucceeded  State = "SUCCEEDED"
	StateRejected   State = "REJECTED"
)

// CompensationKind - исход компенсации.
type CompensationKind string

const (
	KindCompensated         CompensationKind = "compensated"
	KindNothingToCompensate CompensationKind = "nothing_to_compensate"
	KindCompensationFailed  CompensationKind = "compensation_failed"
)

// CompensationOutcome - типизированный исход компенсации; Reason заполнен только для неудачи.
type CompensationOutcome struct {
	Kind   CompensationKind
	Reason string
}

func Compensated() CompensationOutcome { return CompensationOutcome{Kind: KindCompensated} }

func NothingToCompensate() CompensationOutcome {
	return CompensationOutcome{Kind: KindNothingToCompensate}
}

func CompensationFailed(reason string) CompensationOutcome {
	return CompensationOutcome{Kind: KindCompensationFailed, Reason: reason}
}

// ForwardResult - итог прямого шага. Event всегда заполнен и готов к публикации.
type ForwardResult[L any] struct {
	Event  domain.SagaEvent
	State  State
	Ledger L
	Err    error
}

// CompensationResult - итог компенсации. Event всегда заполнен и готов к публикации.
type CompensationResult struct {
	Event   domain.SagaEvent
	Outcome CompensationOutcome
}

// Handler - участник с точки зрения диспетчера: прямой шаг и компенсация.
type Handler interface {
	Source() domain.Source
	HandleForward(ctx context.Context, event domain.SagaEvent) domain.SagaEvent
	HandleCompensation(ctx context.Context, event domain.SagaEvent) domain.SagaEvent
}

// RunnerOption настраивает Runner.
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	logger  *log.Entry
	metrics *metrics.SagaMetrics
	clock   func() time.Time
}

// WithLogger задаёт logger участника.
func WithLogger(logger *log.Entry) RunnerOption {
	return func(o *runnerOptions) { o.logger = logger }
}

// WithMetrics задаёт метрики участника.
func WithMetrics(m *metrics.SagaMetrics) RunnerOption {
	return func(o *runnerOptions) { o.metrics = m }
}

// WithClock задаёт источник времени для записей истории.
func WithClock(clock func() time.Time) RunnerOption {
	return func(o *runnerOptions) { o.clock = clock }
}

// Runner исполняет машину состояний участника: RECEIVED → VALIDATING →
// (EXECUTING → SUCCEEDED) | REJECTED, и компенсацию. Ни одна ошибка участника
// не выходит наружу: каждая превращается в статус и одну запись истории.
type Runner[L any] struct {
	participant Participant[L]
	guard       *Guard
	logger      *log.Entry
	metrics     *metrics.SagaMetrics
	clock       func() time.Time
}

// NewRunner создаёт Runner для участника.
func NewRunner[L any](participant Participant[L], options ...RunnerOption) *Runner[L] {
	opts := runnerOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.logger == nil {
		opts.logger = log.WithField("component", "saga-participant")
	}
	if opts.clock == nil {
		opts.clock = time.Now
	}

	return &Runner[L]{
		participant: participant,
		guard:       NewGuard(participant),
		logger:      opts.logger.WithField("source", participant.Source()),
		metrics:     opts.metrics,
		clock:       opts.clock,
	}
}

// Source возвращает имя участника.
func (r *Runner[L]) Source() domain.Source {
	return r.participant.Source()
}

// Forward выполняет прямой шаг участника.
func (r *Runner[L]) Forward(ctx context.Context, event domain.SagaEvent) ForwardResult[L] {
	started := r.clock()
	source := string(r.participant.Source())
	defer func() {
		r.metrics.RecordStepDuration(source, "forward", r.clock().Sub(started))
	}()

	result := ForwardResult[L]{Event: event, State: StateReceived}
	key := event.Key()

	result.State = StateValidating
	if !key.Complete() {
		return r.reject(ctx, result, domain.ErrOrderIdentityRequired)
	}
	if err := r.guard.Check(ctx, key); err != nil {
		return r.reject(ctx, result, err)
	}
	if err := r.safeValidate(ctx, event); err != nil {
		return r.reject(ctx, result, err)
	}

	result.State = StateExecuting
	effect, err := r.safeExecute(ctx, event)
	if effect.Payload != nil {
		result.Event = result.Event.WithPayload(*effect.Payload)
	}
	if err != nil {
		return r.reject(ctx, result, err)
	}

	result.State = StateSucceeded
	result.Ledger = effect.Ledger
	result.Event = result.Event.Transition(r.participant.Source(), domain.SagaStatusSuccess, r.participant.Messages().Success, r.clock())
	r.metrics.RecordForward(source, "succeeded")
	r.logger.WithFields(log.Fields{
		"order_id":       key.OrderID,
		"transaction_id": key.TransactionID,
	}).Info("saga step succeeded")
	return result
}

func (r *Runner[L]) reject(ctx context.Context, result ForwardResult[L], cause error) ForwardResult[L] {
	source := r.participant.Source()
	key := result.Event.Key()
	class := domain.ClassifyError(cause)

	// Журнал пишется только под полным ключом.
	if key.Complete() {
		if err := r.safeMarkFailed(ctx, result.Event, cause); err != nil {
			r.logger.WithError(err).WithFields(log.Fields{
				"order_id":       key.OrderID,
				"transaction_id": key.TransactionID,
			}).Warn("failed to mark ledger entry after rejected step")
		}
	}

	result.State = StateRejected
	result.Err = cause
	result.Event = result.Event.Transition(source, domain.SagaStatusRollbackPending,
		r.participant.Messages().FailurePrefix+cause.Error(), r.clock())

	r.metrics.RecordForward(string(source), "rejected")
	r.metrics.RecordError(string(source), string(class))

	entry := r.logger.WithError(cause).WithFields(log.Fields{
		"order_id":       key.OrderID,
		"transaction_id": key.TransactionID,
		"error_class":    class,
	})
	if class == domain.ErrorClassStorage {
		entry.Error("saga step failed on storage, rollback requested")
	} else {
		entry.Warn("saga step rejected, rollback requested")
	}
	return result
}

// Compensate выполняет компенсацию участника. Событие всегда получает статус FAIL
// и ровно одну запись истории с исходом компенсации.
func (r *Runner[L]) Compensate(ctx context.Context, event domain.SagaEvent) (result CompensationResult) {
	started := r.clock()
	source := r.participant.Source()
	messages := r.participant.Messages()
	key := event.Key()
	defer func() {
		r.metrics.RecordStepDuration(string(source), "compensate", r.clock().Sub(started))
		r.metrics.RecordCompensation(string(source), string(result.Outcome.Kind))
	}()

	restoration, err := r.safeCompensate(ctx, event)
	if restoration.Payload != nil {
		event = event.WithPayload(*restoration.Payload)
	}

	logger := r.logger.WithFields(log.Fields{
		"order_id":       key.OrderID,
		"transaction_id": key.TransactionID,
	})

	switch {
	case err != nil:
		r.metrics.RecordError(string(source), string(domain.ClassifyError(err)))
		logger.WithError(err).Error("compensation not executed")
		return CompensationResult{
			Event:   event.Transition(source, domain.SagaStatusFail, messages.RollbackFailurePrefix+err.Error(), r.clock()),
			Outcome: CompensationFailed(err.Error()),
		}
	case !restoration.Restored:
		logger.Info("nothing to compensate")
		return CompensationResult{
			Event:   event.Transition(source, domain.SagaStatusFail, messages.NothingToRollback, r.clock()),
			Outcome: NothingToCompensate(),
		}
	default:
		logger.Info("compensation executed")
		return CompensationResult{
			Event:   event.Transition(source, domain.SagaStatusFail, messages.Rollback, r.clock()),
			Outcome: Compensated(),
		}
	}
}

// recoverStep превращает панику участника в ошибку шага.
func recoverStep(stage string, err *error) {
	if rec := recover(); rec != nil {
		*err = fmt.Errorf("%s panicked: %v", stage, rec)
	}
}

func (r *Runner[L]) safeValidate(ctx context.Context, event domain.SagaEvent) (err error) {
	defer recoverStep("validation", &err)
	return r.participant.Validate(ctx, event)
}

func (r *Runner[L]) safeExecute(ctx context.Context, event domain.SagaEvent) (effect Effect[L], err error) {
	defer recoverStep("step", &err)
	return r.participant.Execute(ctx, event)
}

func (r *Runner[L]) safeMarkFailed(ctx context.Context, event domain.SagaEvent, cause error) (err error) {
	defer recoverStep("mark failed", &err)
	return r.participant.MarkFailed(ctx, event, cause)
}

func (r *Runner[L]) safeCompensate(ctx context.Context, event domain.SagaEvent) (restoration Restoration, err error) {
	defer recoverStep("compensation", &err)
	return r.participant.Compensate(ctx, event)
}

// HandleForward реализует Handler.
func (r *Runner[L]) HandleForward(ctx context.Context, event domain.SagaEvent) domain.SagaEvent {
	return r.Forward(ctx, event).Event
}

// HandleCompensation реализует Handler.
func (r *Runner[L]) HandleCompensation(ctx context.Context, event domain.SagaEvent) domain.SagaEvent {
	return r.Compensate(ctx, event).Event
}

// IsRejected сообщает, что результат прямого шага - отказ с заданной причиной.
func IsRejected[L any](result ForwardResult[L], target error) bool {
	return result.State == StateRejected && errors.Is(result.Err, target)
}

var _ Handler = (*Runner[struct{}])(nil)
