package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/safeguard/internal/model"
	"github.com/roach88/safeguard/internal/store"
)

var (
	// ErrRecordNotFound is returned by Backend.Get when no record exists.
	ErrRecordNotFound = errors.New("ledger: record not found")

	// ErrNotPending is returned by Backend.Finalize when the caller no
	// longer holds a pending claim on the key.
	ErrNotPending = errors.New("ledger: record not pending under this claim")
)

// Backend is the durable keyed store behind a Ledger.
//
// Claim must be an atomic conditional insert: of any number of concurrent
// claims for the same key, at most one returns true.
type Backend interface {
	Claim(ctx context.Context, rec model.IdempotencyRecord) (bool, error)
	Get(ctx context.Context, key string) (model.IdempotencyRecord, error)

	// Finalize moves the pending record created at claimedAt to status.
	Finalize(ctx context.Context, key string, claimedAt time.Time, status model.Status, result []byte, errMsg string, at time.Time) error

	// DeleteExpired removes key only if its TTL elapsed at now.
	DeleteExpired(ctx context.Context, key string, now time.Time) (bool, error)

	// Reap removes expired records and completed records older than retention.
	Reap(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// SQLiteBackend adapts *store.Store to Backend.
type SQLiteBackend struct {
	st *store.Store
}

// NewSQLiteBackend wraps st.
func NewSQLiteBackend(st *store.Store) *SQLiteBackend {
	return &SQLiteBackend{st: st}
}

func (b *SQLiteBackend) Claim(ctx context.Context, rec model.IdempotencyRecord) (bool, error) {
	return b.st.ClaimRecord(ctx, rec)
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (model.IdempotencyRecord, error) {
	rec, err := b.st.GetRecord(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return model.IdempotencyRecord{}, ErrRecordNotFound
	}
	return rec, err
}

func (b *SQLiteBackend) Finalize(ctx context.Context, key string, claimedAt time.Time, status model.Status, result []byte, errMsg string, at time.Time) error {
	err := b.st.FinalizeRecord(ctx, key, claimedAt, status, result, errMsg, at)
	if errors.Is(err, store.ErrNotPending) {
		return ErrNotPending
	}
	return err
}

func (b *SQLiteBackend) DeleteExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	return b.st.DeleteExpiredRecord(ctx, key, now)
}

func (b *SQLiteBackend) Reap(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	return b.st.ReapRecords(ctx, now, retention)
}
