package converter

import (
	"context"
	"errors"
	"fmt"

	"convertd/internal/formats"
	"convertd/internal/services"
)

// ErrorKind classifies a conversion failure.
type ErrorKind string

const (
	KindUnsupportedTarget ErrorKind = "unsupported_target"
	KindDecode            ErrorKind = "decode"
	KindEncode            ErrorKind = "encode"
	KindBackend           ErrorKind = "backend"
	KindTimeout           ErrorKind = "timeout"
)

// Error is returned by every Converter.
type Error struct {
	Kind     ErrorKind
	Category formats.Category
	Target   string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the cause together with the service marker for the kind.
func (e *Error) Unwrap() []error {
	marker := services.ErrExternalTool
	if e.Kind == KindTimeout {
		marker = services.ErrTimeout
	}
	if e.Err == nil {
		return []error{marker}
	}
	return []error{e.Err, marker}
}

// AsError reports whether err carries a *Error.
func AsError(err error) (*Error, bool) {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}

func newError(kind ErrorKind, category formats.Category, target, message string, err error) *Error {
	return &Error{Kind: kind, Category: category, Target: target, Message: message, Err: err}
}

func unsupported(category formats.Category, target string) *Error {
	return newError(KindUnsupportedTarget, category, target,
		fmt.Sprintf("cannot convert %s to %s", category, target), nil)
}

// contextError converts a cancelled or expired context into a *Error, or
// returns nil if ctx is still live.
func contextError(ctx context.Context, category formats.Category, target string) *Error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, category, target, "conversion deadline exceeded", err)
	}
	return newError(KindBackend, category, target, "conversion cancelled", err)
}
