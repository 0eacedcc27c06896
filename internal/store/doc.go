// Package store provides SQLite-backed durable storage for the execution
// safety control plane.
//
// The store holds:
//   - Idempotency records: one row per idempotency key
//   - Audit entries: append-only decision log
//   - Risk snapshot: single-row breaker and daily-loss state
//
// # Critical Patterns
//
// Claim-by-constraint:
//   - idempotency_records.key is the PRIMARY KEY
//   - Claims use INSERT ... ON CONFLICT(key) DO NOTHING and inspect
//     RowsAffected; exactly one writer across all processes sharing the
//     database file observes rows_affected = 1
//   - No application-level lock participates in the claim
//
// Monotonic finalize:
//   - Finalize only matches rows WHERE status = 'pending' AND created_at = ?
//     so a record leaves pending at most once, and a stale winner whose
//     record was reaped and re-claimed cannot overwrite the new claim
//
// Deterministic audit reads:
//   - All audit queries use ORDER BY ts ASC, seq ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Timestamps are stored as INTEGER unix nanoseconds (UTC).
package store
