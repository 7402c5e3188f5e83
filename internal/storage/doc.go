// Package storage mirrors samples into a queryable store.
//
// Drivers:
//   - "jsonl": bounded NDJSON file, compacted when it grows too large
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//
// The per-network text logs stay the primary record; a failing store only
// produces warnings.
package storage
