package model

import "time"

// AuditEntry is one append-only record of a gate decision.
// Entries are immutable once written.
type AuditEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	SubjectID string            `json:"subject_id"`
	Decision  string            `json:"decision"`
	DiffHash  string            `json:"diff_hash,omitempty"`
	Success   bool              `json:"success"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// AuditFilter selects entries on the read side. Zero fields match anything.
// Since is inclusive, Until is exclusive.
type AuditFilter struct {
	Actor  string
	Action string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Match reports whether e satisfies every set field of f (Limit excluded).
func (f AuditFilter) Match(e AuditEntry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
