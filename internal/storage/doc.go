// Package storage keeps the pull history.
//
// Drivers:
//   - "none" (or empty): no store; Open returns nil.
//   - "file": append-only JSON Lines next to the configured path.
//   - "sqlite": a SQLite database migrated with goose on open.
//
// History is informational. Cooldown state is never persisted.
package storage
