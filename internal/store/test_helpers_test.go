package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/safeguard/internal/model"
)

var testNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a pending record with minimal required fields.
func createTestRecord(t *testing.T, key string, now time.Time, ttl time.Duration) model.IdempotencyRecord {
	t.Helper()
	rec, err := model.NewPendingRecord(key, "place_order", "hash-"+key, now, ttl)
	if err != nil {
		t.Fatalf("NewPendingRecord() failed: %v", err)
	}
	return rec
}

// createTestEntry creates an audit entry with minimal required fields.
func createTestEntry(id, actor, action string, ts time.Time) model.AuditEntry {
	return model.AuditEntry{
		ID:        id,
		Timestamp: ts,
		Component: "test",
		Actor:     actor,
		Action:    action,
		SubjectID: "subject-" + id,
		Decision:  "allow",
		Success:   true,
	}
}
