package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashes.
// Version suffix enables future algorithm migration.
const (
	DomainPayload = "safeguard/payload/v1"
	DomainDiff    = "safeguard/diff/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash hashes an operation payload for idempotency-key reuse checks.
// A nil payload hashes to the empty string, which never conflicts.
func PayloadHash(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	var (
		canonical []byte
		err       error
	)
	if raw, ok := payload.([]byte); ok {
		if len(raw) == 0 {
			return "", nil
		}
		canonical, err = CanonicalizeJSON(raw)
	} else {
		canonical, err = MarshalCanonical(payload)
	}
	if err != nil {
		return "", fmt.Errorf("PayloadHash: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// DiffHash hashes the subject of an audit entry (the action, the state
// change, the metrics snapshot) so the entry can be tied to exact inputs.
func DiffHash(subject any) (string, error) {
	canonical, err := MarshalCanonical(subject)
	if err != nil {
		return "", fmt.Errorf("DiffHash: %w", err)
	}
	return hashWithDomain(DomainDiff, canonical), nil
}

// DiffHashOrEmpty is like DiffHash but returns "" on error. Audit hashing is
// best-effort and must never fail the caller.
func DiffHashOrEmpty(subject any) string {
	h, err := DiffHash(subject)
	if err != nil {
		return ""
	}
	return h
}
