// Package storage persists the local reminder table, the subscriber list and
// an append-only audit trail (send history and operator actions).
//
// Drivers:
//   - "file": JSON documents replaced atomically (tmp + rename), JSONL audit
//   - "sqlite": single SQLite database file (build tag sqlite)
package storage
