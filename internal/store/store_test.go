package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesFileAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safeguard.db")

	for range 3 {
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
	_, err := os.Stat(path)
	require.NoError(t, err)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	for _, table := range []string{"idempotency_records", "audit_entries", "risk_state"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestOpen_UnwritableDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "safeguard.db"))
	assert.Error(t, err)
}

func TestClose_ZeroStore(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestPing(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.Ping(t.Context()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(t.Context()))
}

func TestPragmasApplied(t *testing.T) {
	s := createTestStore(t)
	for _, p := range pragmas {
		t.Run(p.name, func(t *testing.T) {
			assert.NoError(t, s.checkPragma(p.name, p.reported))
		})
	}
}

func TestSchemaColumns(t *testing.T) {
	s := createTestStore(t)

	assert.Subset(t, tableColumns(t, s.db, "idempotency_records"), []string{
		"key", "operation_name", "status", "payload_hash", "result",
		"error", "created_at", "expires_at", "completed_at",
	})
	assert.Subset(t, tableColumns(t, s.db, "audit_entries"), []string{
		"seq", "id", "ts", "component", "actor", "action",
		"subject_id", "decision", "diff_hash", "success", "detail",
	})
	assert.Subset(t, tableColumns(t, s.db, "risk_state"), []string{
		"daily_loss", "last_reset", "breaker_open", "breaker_reason", "breaker_opened_at",
	})
}

func TestSchemaConstraints(t *testing.T) {
	s := createTestStore(t)

	tests := map[string]string{
		"unknown status": `INSERT INTO idempotency_records (key, operation_name, status, created_at, expires_at)
			VALUES ('a', 'op', 'bogus', 1, 2)`,
		"expiry not after creation": `INSERT INTO idempotency_records (key, operation_name, status, created_at, expires_at)
			VALUES ('b', 'op', 'pending', 5, 5)`,
		"second risk row": `INSERT INTO risk_state (id, daily_loss, last_reset, breaker_open, updated_at)
			VALUES (2, '0', '2026-01-01', 0, 1)`,
	}
	for name, stmt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.db.Exec(stmt)
			assert.Error(t, err)
		})
	}
}

func TestMigrate_FreshDatabaseIsCurrent(t *testing.T) {
	s := createTestStore(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestMigrate_UpgradesVersionZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Subset(t, indexNames(t, s.db, "audit_entries"), []string{"idx_audit_actor_ts", "idx_audit_action_ts"})
	assert.Contains(t, indexNames(t, s.db, "idempotency_records"), "idx_idem_expires")
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	return queryNames(t, db, "SELECT name FROM pragma_table_info(?)", table)
}

func indexNames(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	return queryNames(t, db, "SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
}

func queryNames(t *testing.T, db *sql.DB, query, arg string) []string {
	t.Helper()
	rows, err := db.Query(query, arg)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}
