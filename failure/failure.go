// Package failure classifies errors raised by the codec, message layer,
// watchlist and session manager.
//
// Callers use errors.Is(err, failure.ErrXxx) for typed assertions rather
// than string matching. The underlying cause stays in the chain for
// inspection via errors.As.
package failure

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure classification.
var (
	// ErrBufferTooSmall indicates the encode buffer ran out of space.
	// Recoverable: grow the buffer and encode the whole message again.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrDecodeFailure indicates malformed or truncated wire data.
	// The message is abandoned; there is no resynchronization.
	ErrDecodeFailure = errors.New("decode failure")

	// ErrInvalidUsage indicates API misuse detected at the call site.
	ErrInvalidUsage = errors.New("invalid usage")

	// ErrInvalidHandle indicates an operation against an unknown or closed handle.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrConnectionLost indicates a channel went down. Triggers recovery.
	ErrConnectionLost = errors.New("connection lost")

	// ErrLoginDenied indicates the provider refused the login stream.
	ErrLoginDenied = errors.New("login denied")

	// ErrServiceUnavailable indicates no channel currently offers the service.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Error wraps an underlying error with a classification.
type Error struct {
	// Kind is the sentinel used for classification (e.g. ErrDecodeFailure).
	Kind error
	// Op is the operation that failed (e.g. "decode field entry").
	Op string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Wrap classifies err under kind. Returns nil if err is nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Decode returns a decode failure for op with a formatted detail.
func Decode(op, format string, args ...any) error {
	return &Error{Kind: ErrDecodeFailure, Op: op, Err: fmt.Errorf(format, args...)}
}

// Usage returns an invalid usage error for op with a formatted detail.
func Usage(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidUsage, Op: op, Err: fmt.Errorf(format, args...)}
}

// TooSmall returns a buffer-too-small error for op.
func TooSmall(op string, need, have int) error {
	return &Error{Kind: ErrBufferTooSmall, Op: op, Err: fmt.Errorf("need %d bytes, %d remaining", need, have)}
}

// IsRecoverable reports whether err belongs to a class the core retries
// on its own: a larger buffer, a reconnect or a service coming back.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrBufferTooSmall) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrServiceUnavailable)
}
