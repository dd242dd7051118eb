package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// IdempotencyStatus - стадия обработки запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s.Final()
}

// Final: ответ сохранён и повтор запроса получит его без повторной обработки.
func (s IdempotencyStatus) Final() bool {
	switch s {
	case IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// IdempotencyRecord - сохранённый ответ POST /api/order.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       IdempotencyStatus
	HTTPStatus   int
	ResponseBody []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// TTLAt - момент, после которого ключ может быть занят заново или удалён.
	TTLAt time.Time
}

// Expired: запись без TTL не истекает, с TTL истекает ровно в TTLAt.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	if r.TTLAt.IsZero() {
		return false
	}
	return !now.Before(r.TTLAt)
}

// IdempotencyOutcome - то, чем завершается зарезервированный ключ.
type IdempotencyOutcome struct {
	Status       IdempotencyStatus
	HTTPStatus   int
	ResponseBody []byte
}

// NewIdempotencyOutcome: ответы с кодом от 400 сохраняются как failed.
func NewIdempotencyOutcome(httpStatus int, body []byte) IdempotencyOutcome {
	out := IdempotencyOutcome{Status: IdempotencyStatusDone, HTTPStatus: httpStatus, ResponseBody: body}
	if httpStatus >= http.StatusBadRequest {
		out.Status = IdempotencyStatusFailed
	}
	return out
}

// HashRequest - hex SHA-256 тела запроса; один ключ с другим телом отклоняется.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
