// Package storage persists the collector's state: schedules, the report log,
// settings and the consent audit trail.
//
// Drivers:
//   - "memory": process-local, lost on restart (default)
//   - "file": JSON snapshot plus append-only JSON Lines journals
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
