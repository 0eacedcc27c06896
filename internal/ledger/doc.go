// Package ledger implements the idempotency ledger: at-most-once execution
// of a named operation under a caller-supplied key.
//
// Uniqueness is enforced by the backend's atomic conditional write (SQLite
// INSERT ... ON CONFLICT DO NOTHING or Redis SET NX), never by an in-process
// lock, so the guarantee holds across processes sharing the same backend.
//
// Lifecycle of a key:
//
//	claim (pending) ──► completed   result replayed to duplicates
//	                └─► failed      reason string returned to duplicates
//
// A record whose TTL has elapsed may be removed and re-claimed; the Reaper
// deletes expired records and completed records past the retention window.
package ledger
