package errors

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Builder decorates a cause before it is marked. Mark must be the last call.
type Builder struct {
	err error
}

// New starts a chain from a fresh message.
func New(msg string) *Builder {
	return &Builder{err: errors.New(msg)}
}

// Newf starts a chain from a formatted message.
func Newf(format string, args ...any) *Builder {
	return &Builder{err: errors.Newf(format, args...)}
}

// WithError starts a chain from an existing error.
func WithError(err error) *Builder {
	return &Builder{err: err}
}

// WithMessage prefixes the internal message.
func (b *Builder) WithMessage(msg string) *Builder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

// WithHint attaches the message shown to end users.
func (b *Builder) WithHint(hint string) *Builder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

// WithHintf is WithHint with formatting.
func (b *Builder) WithHintf(format string, args ...any) *Builder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails attaches structured details safe for logs and reports.
func (b *Builder) WithReportableDetails(details map[string]any) *Builder {
	marshaled, err := json.Marshal(details)
	if err != nil {
		return b
	}
	b.err = errors.WithDetail(b.err, string(marshaled))
	return b
}

// Mark tags the chain with a sentinel and returns the finished error.
func (b *Builder) Mark(reference *Error) error {
	return errors.Mark(b.err, reference)
}

// Error returns the chain without marking it.
func (b *Builder) Error() error {
	return b.err
}
