package intake

import (
	"fmt"

	"convertd/internal/services"
)

// Kind classifies why an upload was refused.
type Kind string

const (
	KindBadFilename     Kind = "bad_filename"
	KindMalicious       Kind = "malicious_content"
	KindUnsupportedType Kind = "unsupported_type"
	KindContentMismatch Kind = "content_mismatch"
	KindTooLarge        Kind = "too_large"
	KindEmpty           Kind = "empty"
)

// ValidationError is returned for every refused upload. Message is safe to show
// to the client.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == KindTooLarge {
		return services.ErrTooLarge
	}
	return services.ErrValidation
}

func reject(kind Kind, format string, args ...any) error {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
