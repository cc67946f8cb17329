// Package intake validates untrusted uploads before any conversion work is
// scheduled.
//
// The Gate runs its checks in a fixed order and stops at the first failure:
// filename denylist, filename sanitization, executable and script signatures,
// sniffed content type, then category consistency and the per-category size
// ceiling. ScreenFilename is exposed separately so the HTTP layer can reject a
// bad name before reading the request body.
package intake
