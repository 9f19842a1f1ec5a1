// Package store persists complaints and their credential images in a single
// SQLite file opened in WAL mode.
//
// Open applies the connection pragmas, Migrate creates tables and adds columns
// introduced after the first release, and RepairIntegrity converts state that
// cannot have survived a restart (claimed rows, dangling image references,
// blank or duplicated SKUs) into a consistent shape. Every read-then-write
// sequence elsewhere in the module goes through WithTx so the decision and the
// write commit atomically; writers that hit SQLITE_BUSY are retried with
// exponential backoff.
//
// The database is the single source of truth. Callers must not cache rows
// across operations.
package store
