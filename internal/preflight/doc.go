// Package preflight provides readiness checks for the directories, binaries
// and backends convertd depends on.
//
// The daemon logs a snapshot at startup; `convertctl doctor` renders the same
// results as a table and exits non-zero when a required check fails.
package preflight
