// Package store provides SQLite-backed run history.
//
// Every finished run can be saved with SaveRun and listed later with
// ListRuns. A saved run keeps:
//   - Runs: run ID, suite, start time, duration, overall status and exit code
//   - Level statistics: the non-zero node counters per level and status
//   - Failures: collected failure messages, in collection order
//   - Skipped batches: batches skipped by batch fail-fast, in order
//
// Saving is idempotent: a run ID that is already stored is left unchanged.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: 5-second wait for locks
//   - foreign_keys=ON: Child rows are removed with their run
//
// # Schema
//
// See schema.sql. Incremental migrations are tracked with PRAGMA user_version.
package store
