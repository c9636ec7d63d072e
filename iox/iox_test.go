package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyCloser struct {
	io.Reader
	closed bool
}

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDrainClose(t *testing.T) {
	r := strings.NewReader(strings.Repeat("x", 100))
	s := &spyCloser{Reader: r}
	DrainClose(s, 60)
	if !s.closed {
		t.Fatal("Close was not called")
	}
	if got := r.Len(); got != 40 {
		t.Errorf("unread = %d, want %d", got, 40)
	}
}
