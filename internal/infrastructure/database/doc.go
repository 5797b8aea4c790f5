// Package database provides SQLite connection management for SinricBridge.
//
// It wraps database/sql with:
//   - Connection setup (WAL mode, busy timeout, foreign keys)
//   - Embedded schema migrations applied at startup
//   - Health checks for the supervision loop
//
// SQLite is the local persistence layer for last-observed device state and
// the state change history. The daemon is the only writer; the pool is
// limited to a single connection accordingly.
package database
