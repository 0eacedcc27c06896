package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/roach88/safeguard/internal/model"
	"github.com/roach88/safeguard/internal/store"
)

// Sink persists audit entries.
type Sink interface {
	Append(ctx context.Context, e model.AuditEntry) error
}

// Reader is the query side of the trail.
type Reader interface {
	Query(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error)
}

// SinkReader is a sink that can also be queried.
type SinkReader interface {
	Sink
	Reader
}

// StoreSink writes entries to the SQLite audit_entries table.
type StoreSink struct {
	st *store.Store
}

// NewStoreSink wraps st.
func NewStoreSink(st *store.Store) *StoreSink {
	return &StoreSink{st: st}
}

func (s *StoreSink) Append(ctx context.Context, e model.AuditEntry) error {
	return s.st.AppendAudit(ctx, e)
}

func (s *StoreSink) Query(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	return s.st.QueryAudit(ctx, f)
}

// FileSink appends entries as line-delimited JSON.
//
// Thread-safety: FileSink serializes writers with an internal mutex.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFileSink opens (creating if needed) path for appending.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Append(_ context.Context, e model.AuditEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("audit file %s is closed", s.path)
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Query scans the file from the start. Entries are returned in append order.
func (s *FileSink) Query(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer r.Close()

	out := []model.AuditEntry{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e model.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode audit line: %w", err)
		}
		if !f.Match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return out, nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// MemorySink keeps entries in memory.
//
// Thread-safety: MemorySink is safe for concurrent use via internal mutex.
type MemorySink struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes subsequent appends return err. Pass nil to recover.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemorySink) Append(_ context.Context, e model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemorySink) Query(_ context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.AuditEntry{}
	for _, e := range s.entries {
		if !f.Match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Entries returns a copy of everything appended so far.
func (s *MemorySink) Entries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
