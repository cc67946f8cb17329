// Package daemon coordinates the long-running convertd process.
//
// It wires configuration, the queue backend, the artifact store, the HTTP
// server, the worker pool and the reaper into one lifecycle with flock-based
// locking to prevent two instances of the same role sharing a state
// directory. Components run under an errgroup: the first one to fail stops
// the rest.
//
// Keep orchestration here. Conversion, storage and status logic live in their
// own packages; the daemon only decides which of them run for a role.
package daemon
