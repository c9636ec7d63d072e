package journal

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage failure classification.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrNetwork          = errors.New("network error")
	ErrStorage          = errors.New("storage error")
)

// StorageError wraps a dataset failure with its classification.
type StorageError struct {
	Kind error
	// Op is "write", "read" or "init".
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("journal %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool { return errors.Is(e.Kind, target) }

func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classify(err), Op: op, Err: err}
}

// classify maps an error from a store to a sentinel. Stores report most
// failures only through their message, so patterns are matched on it.
func classify(err error) error {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}
	s := strings.ToLower(err.Error())
	switch {
	case containsAny(s, "permission denied", "eacces", "accessdenied", "forbidden", "403"):
		return ErrPermissionDenied
	case containsAny(s, "no such file", "does not exist", "not found", "nosuchkey", "404"):
		return ErrNotFound
	case containsAny(s, "no space left", "disk full", "quota exceeded"):
		return ErrDiskFull
	case containsAny(s, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout
	case containsAny(s, "slowdown", "rate exceeded", "throttl", "429"):
		return ErrThrottled
	case containsAny(s, "nocredentialproviders", "credentials", "invalidaccesskeyid", "expiredtoken", "401"):
		return ErrAuth
	case containsAny(s, "connection refused", "no route to host", "network unreachable", "dial tcp"):
		return ErrNetwork
	}
	return ErrStorage
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
