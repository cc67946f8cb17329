// Package textutil provides filename sanitization for untrusted upload names.
package textutil
