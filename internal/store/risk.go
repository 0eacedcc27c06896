package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/safeguard/internal/model"
)

const dateLayout = "2006-01-02"

// SaveRiskSnapshot upserts the single risk_state row.
func (s *Store) SaveRiskSnapshot(ctx context.Context, snap model.RiskSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_state
		(id, daily_loss, last_reset, breaker_open, breaker_reason, breaker_opened_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_loss = excluded.daily_loss,
			last_reset = excluded.last_reset,
			breaker_open = excluded.breaker_open,
			breaker_reason = excluded.breaker_reason,
			breaker_opened_at = excluded.breaker_opened_at,
			updated_at = excluded.updated_at
	`,
		snap.DailyLoss.String(),
		snap.LastReset.Format(dateLayout),
		snap.BreakerOpen,
		snap.BreakerReason,
		nullableNanos(snap.BreakerOpenedAt),
		toNanos(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save risk snapshot: %w", err)
	}
	return nil
}

// LoadRiskSnapshot returns the persisted risk state, or ErrNotFound when the
// process has never saved one. LastReset is returned as UTC midnight; callers
// re-anchor it to their configured time zone.
func (s *Store) LoadRiskSnapshot(ctx context.Context) (model.RiskSnapshot, error) {
	var (
		snap      model.RiskSnapshot
		loss      string
		lastReset string
		openedAt  sql.NullInt64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_loss, last_reset, breaker_open, breaker_reason, breaker_opened_at, updated_at
		FROM risk_state WHERE id = 1
	`).Scan(&loss, &lastReset, &snap.BreakerOpen, &snap.BreakerReason, &openedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RiskSnapshot{}, ErrNotFound
	}
	if err != nil {
		return model.RiskSnapshot{}, fmt.Errorf("load risk snapshot: %w", err)
	}

	snap.DailyLoss, err = decimal.NewFromString(loss)
	if err != nil {
		return model.RiskSnapshot{}, fmt.Errorf("load risk snapshot: daily_loss: %w", err)
	}
	snap.LastReset, err = parseDate(lastReset)
	if err != nil {
		return model.RiskSnapshot{}, fmt.Errorf("load risk snapshot: last_reset: %w", err)
	}
	if openedAt.Valid {
		snap.BreakerOpenedAt = fromNanos(openedAt.Int64)
	}
	snap.UpdatedAt = fromNanos(updatedAt)
	return snap, nil
}
