package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if (IdempotencyRecord{}).Expired(now) {
		t.Fatal("record without ttl must not expire")
	}
	if !(IdempotencyRecord{TTLAt: now}).Expired(now) {
		t.Fatal("record must expire exactly at ttl")
	}
	if (IdempotencyRecord{TTLAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatal("record must not expire before ttl")
	}
}

func TestHashRequestStable(t *testing.T) {
	a := HashRequest([]byte(`{"products":[]}`))
	b := HashRequest([]byte(`{"products":[]}`))
	c := HashRequest([]byte(`{"products":[{}]}`))

	if a != b {
		t.Fatal("same body must produce same hash")
	}
	if a == c {
		t.Fatal("different bodies must produce different hashes")
	}
}

func TestNewIdempotencyOutcome(t *testing.T) {
	testCases := []struct {
		httpStatus int
		want       IdempotencyStatus
	}{
		{httpStatus: 201, want: IdempotencyStatusDone},
		{httpStatus: 200, want: IdempotencyStatusDone},
		{httpStatus: 400, want: IdempotencyStatusFailed},
		{httpStatus: 503, want: IdempotencyStatusFailed},
	}

	for _, tc := range testCases {
		outcome := NewIdempotencyOutcome(tc.httpStatus, []byte("{}"))
		if outcome.Status != tc.want {
			t.Errorf("status for %d: got %s, want %s", tc.httpStatus, outcome.Status, tc.want)
		}
		if !outcome.Status.Final() {
			t.Errorf("outcome for %d must be final", tc.httpStatus)
		}
	}

	if IdempotencyStatusProcessing.Final() {
		t.Error("processing must not be final")
	}
}
