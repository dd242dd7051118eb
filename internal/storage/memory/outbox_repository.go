package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const defaultOutboxBatch = 100

type outboxState int

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

type outboxEntry struct {
	msg       domain.OutboxMessage
	state     outboxState
	seq       uint64
	lastError string
}

// OutboxRepository - transactional outbox в памяти; порядок выдачи совпадает с порядком Enqueue.
type OutboxRepository struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*outboxEntry
	clock   func() time.Time
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enqueueLocked(msg), nil
}

// enqueueLocked вызывается и из OrderStore под его транзакционной блокировкой.
func (r *OutboxRepository) enqueueLocked(msg domain.OutboxMessage) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	msg.Attempts = 0
	msg.CreatedAt = r.clock()

	r.seq++
	r.entries[msg.ID] = &outboxEntry{msg: msg, state: outboxPending, seq: r.seq}
	return msg
}

// Pending не меняет состояние сообщений: повторный вызов до MarkSent вернёт их снова.
func (r *OutboxRepository) Pending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.queueLocked()
	if len(queue) > limit {
		queue = queue[:limit]
	}
	batch := make([]domain.OutboxMessage, len(queue))
	for i, entry := range queue {
		batch[i] = entry.msg
		batch[i].Payload = append([]byte(nil), entry.msg.Payload...)
	}
	return batch, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent, nil)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string, cause error) error {
	return r.settle(id, outboxFailed, cause)
}

func (r *OutboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		switch entry.state {
		case outboxPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || entry.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = entry.msg.CreatedAt
			}
		case outboxFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

// LastError возвращает причину, сохранённую MarkFailed.
func (r *OutboxRepository) LastError(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.state != outboxFailed {
		return "", false
	}
	return entry.lastError, true
}

func (r *OutboxRepository) settle(id string, state outboxState, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	entry.state = state
	entry.msg.Attempts++
	if cause != nil {
		entry.lastError = cause.Error()
	}
	return nil
}

func (r *OutboxRepository) queueLocked() []*outboxEntry {
	queue := make([]*outboxEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.state == outboxPending {
			queue = append(queue, entry)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].seq < queue[j].seq })
	return queue
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
