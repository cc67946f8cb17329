// Package services defines shared utilities consumed by the intake, worker,
// and HTTP layers.
//
// Key responsibilities:
//   - Context helpers that stamp job ids, checkpoint names, and request
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and the mapping from
//     those markers to HTTP status codes.
package services
