package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/safeguard/internal/model"
)

// AppendAudit inserts an audit entry.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - a re-delivered entry
// with the same ID is silently ignored.
func (s *Store) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	detail := "{}"
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("append audit: marshal detail: %w", err)
		}
		detail = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, ts, component, actor, action, subject_id, decision, diff_hash, success, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		toNanos(e.Timestamp),
		e.Component,
		e.Actor,
		e.Action,
		e.SubjectID,
		e.Decision,
		e.DiffHash,
		e.Success,
		detail,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// QueryAudit returns entries matching f ordered by ts ASC, seq ASC.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) QueryAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toNanos(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, toNanos(f.Until))
	}

	query := `SELECT id, ts, component, actor, action, subject_id, decision, diff_hash, success, detail FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC, seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var (
			e      model.AuditEntry
			ts     int64
			detail string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Component, &e.Actor, &e.Action, &e.SubjectID, &e.Decision, &e.DiffHash, &e.Success, &detail); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Timestamp = fromNanos(ts)
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("scan audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return entries, nil
}
