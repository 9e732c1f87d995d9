// Package store provides SQLite-backed storage for e2e shark results.
//
// A run groups every test executed by one invocation of the harness:
//   - runs: run id, start/finish time, a YAML snapshot of the configuration
//     and the pass/fail tallies
//   - test_results: one row per test with its failure kind, phase and message
//   - phase_outcomes: the test's ledger, one row per phase in pipeline order
//
// Results are written as each test finishes, so a run interrupted midway
// still reports what completed. Recording the same test twice within a run
// is a no-op.
//
// # Database Configuration
//
//   - WAL mode: report can read while a run is writing
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Times are stored as RFC 3339 UTC text and phase times as seconds.
package store
