// Package model defines the records shared by the storage layer, the
// idempotency ledger and the audit trail.
//
// # Identity
//
// Payload hashes and audit diff hashes are computed over canonical JSON
// (sorted keys, NFC-normalized strings, no HTML escaping) with SHA-256 and
// domain separation, so that the same logical payload always produces the
// same hash regardless of field order on the wire.
package model
