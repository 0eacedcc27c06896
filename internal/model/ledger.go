package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an idempotency record.
//
// Transitions are monotonic: Pending -> Completed or Pending -> Failed.
// A record is never moved back to Pending and never changes after it has
// left Pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.Terminal()
}

// IdempotencyRecord is the stored claim for one idempotency key.
type IdempotencyRecord struct {
	Key           string
	OperationName string
	Status        Status
	PayloadHash   string
	Result        []byte // opaque, usually JSON
	Error         string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	CompletedAt   time.Time // zero while pending
}

// NewPendingRecord builds the record inserted by a claim attempt.
// Returns an error if ttl is not positive, since expiresAt must lie strictly
// in the future at creation.
func NewPendingRecord(key, operation, payloadHash string, now time.Time, ttl time.Duration) (IdempotencyRecord, error) {
	if key == "" {
		return IdempotencyRecord{}, fmt.Errorf("idempotency key is empty")
	}
	if ttl <= 0 {
		return IdempotencyRecord{}, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	return IdempotencyRecord{
		Key:           key,
		OperationName: operation,
		Status:        StatusPending,
		PayloadHash:   payloadHash,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}, nil
}

// Expired reports whether the record's TTL has elapsed at now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
