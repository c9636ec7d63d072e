package failure

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestError_IsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"decode", Decode("decode map", "entry %d truncated", 3), ErrDecodeFailure},
		{"usage", Usage("submit", "missing key"), ErrInvalidUsage},
		{"too small", TooSmall("encode uint", 8, 2), ErrBufferTooSmall},
		{"wrapped", Wrap(ErrConnectionLost, "read frame", io.ErrUnexpectedEOF), ErrConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.kind)
			}
			outer := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(outer, tt.kind) {
				t.Errorf("classification lost through fmt wrapping: %v", outer)
			}
		})
	}
}

func TestError_UnwrapCause(t *testing.T) {
	err := Wrap(ErrConnectionLost, "read frame", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("cause not reachable through Unwrap")
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatal("errors.As failed")
	}
	if fe.Op != "read frame" {
		t.Errorf("Op = %q, want %q", fe.Op, "read frame")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(ErrDecodeFailure, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(TooSmall("op", 1, 0)) {
		t.Error("buffer too small should be recoverable")
	}
	if !IsRecoverable(Wrap(ErrServiceUnavailable, "route", errors.New("no channel"))) {
		t.Error("service unavailable should be recoverable")
	}
	if IsRecoverable(Decode("op", "bad")) {
		t.Error("decode failure should not be recoverable")
	}
	if IsRecoverable(Wrap(ErrLoginDenied, "login", errors.New("denied"))) {
		t.Error("login denied should not be recoverable")
	}
}
