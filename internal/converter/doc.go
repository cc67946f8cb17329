// Package converter performs the byte-level format conversions behind a single
// Converter interface.
//
// Images are re-encoded in process. Audio and video go through ffmpeg, and
// documents through soffice and pdftoppm. Every failure is returned as a
// *Error whose Kind tells callers what went wrong without parsing text, and
// every call honours the deadline carried by its context.
package converter
