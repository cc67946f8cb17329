// Package status derives the caller-visible state of a conversion job from
// the artifact store and the queue. Nothing is cached; every call reads both
// sources again.
package status
