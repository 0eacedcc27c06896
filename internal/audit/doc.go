// Package audit is the append-only decision trail shared by the ledger, the
// risk gate and the canary controller.
//
// Writes go through a Recorder, which never blocks and never fails its
// caller: entries are queued on a bounded buffer and written by a background
// goroutine. When the buffer is full or the sink errors, the entry is logged
// locally and counted, and the caller's primary operation continues.
//
// Sinks:
//   - StoreSink: audit_entries table in the SQLite store
//   - FileSink:  line-delimited JSON file
//   - MemorySink: in-process slice for tests and dry runs
package audit
