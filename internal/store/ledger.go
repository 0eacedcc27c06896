package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/safeguard/internal/model"
)

// ErrNotPending is returned by FinalizeRecord when the record is no longer
// pending under the caller's claim (already finalized, reaped or re-claimed).
var ErrNotPending = errors.New("store: record not pending under this claim")

// ClaimRecord attempts to insert a pending idempotency record.
// Uses ON CONFLICT(key) DO NOTHING; claimed is true only for the single
// caller whose insert affected a row.
func (s *Store) ClaimRecord(ctx context.Context, rec model.IdempotencyRecord) (claimed bool, err error) {
	if rec.Status != model.StatusPending {
		return false, fmt.Errorf("claim record: status must be pending, got %q", rec.Status)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records
		(key, operation_name, status, payload_hash, result, error, created_at, expires_at, completed_at)
		VALUES (?, ?, ?, ?, NULL, '', ?, ?, NULL)
		ON CONFLICT(key) DO NOTHING
	`,
		rec.Key,
		rec.OperationName,
		string(rec.Status),
		rec.PayloadHash,
		toNanos(rec.CreatedAt),
		toNanos(rec.ExpiresAt),
	)
	if err != nil {
		return false, fmt.Errorf("claim record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim record: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// GetRecord returns the record for key, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, key string) (model.IdempotencyRecord, error) {
	var (
		rec         model.IdempotencyRecord
		status      string
		result      []byte
		createdAt   int64
		expiresAt   int64
		completedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, operation_name, status, payload_hash, result, error, created_at, expires_at, completed_at
		FROM idempotency_records
		WHERE key = ?
	`, key).Scan(
		&rec.Key,
		&rec.OperationName,
		&status,
		&rec.PayloadHash,
		&result,
		&rec.Error,
		&createdAt,
		&expiresAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IdempotencyRecord{}, ErrNotFound
	}
	if err != nil {
		return model.IdempotencyRecord{}, fmt.Errorf("get record: %w", err)
	}

	rec.Status = model.Status(status)
	rec.Result = result
	rec.CreatedAt = fromNanos(createdAt)
	rec.ExpiresAt = fromNanos(expiresAt)
	if completedAt.Valid {
		rec.CompletedAt = fromNanos(completedAt.Int64)
	}
	return rec, nil
}

// FinalizeRecord moves the caller's pending claim to a terminal status.
// claimedAt must be the CreatedAt of the record the caller inserted.
// Returns ErrNotPending if the row is no longer pending under that claim.
func (s *Store) FinalizeRecord(
	ctx context.Context,
	key string,
	claimedAt time.Time,
	status model.Status,
	result []byte,
	errMsg string,
	completedAt time.Time,
) error {
	if !model.StatusPending.CanTransition(status) {
		return fmt.Errorf("finalize record: invalid target status %q", status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status = ?, result = ?, error = ?, completed_at = ?
		WHERE key = ? AND status = 'pending' AND created_at = ?
	`,
		string(status),
		result,
		errMsg,
		toNanos(completedAt),
		key,
		toNanos(claimedAt),
	)
	if err != nil {
		return fmt.Errorf("finalize record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize record: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// DeleteExpiredRecord removes key only if its TTL has elapsed at now.
// Returns whether a row was deleted.
func (s *Store) DeleteExpiredRecord(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE key = ? AND expires_at <= ?
	`, key, toNanos(now))
	if err != nil {
		return false, fmt.Errorf("delete expired record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete expired record: rows affected: %w", err)
	}
	return n > 0, nil
}

// ReapRecords deletes every expired record and every completed record whose
// completion is older than retention. Returns the number of rows removed.
func (s *Store) ReapRecords(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE expires_at <= ?
		   OR (status = 'completed' AND completed_at IS NOT NULL AND completed_at <= ?)
	`, toNanos(now), toNanos(now.Add(-retention)))
	if err != nil {
		return 0, fmt.Errorf("reap records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap records: rows affected: %w", err)
	}
	return n, nil
}
