// Package history persists finished pipeline runs in SQLite.
//
// The store is a ledger, not a queue: the controller records each run once it
// reaches a terminal state and the CLI and daemon read it back. The database
// lives at config.HistoryPath and is opened through sqlitestore, so it shares
// the WAL pragmas, schema versioning, and busy retry of the translation cache.
package history
