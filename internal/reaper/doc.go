// Package reaper evicts artifacts older than the configured TTL and prunes
// finished queue records.
//
// Passes run on a cron schedule independent of requests. A file lock in the
// state directory keeps concurrent reapers (several daemons sharing one
// artifact directory, or a manual `convertctl reap`) from racing; the loser
// skips its pass.
package reaper
