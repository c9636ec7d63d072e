package codec

import (
	"errors"
	"testing"

	"github.com/pithecene-io/sluice/failure"
)

func TestRmtesCache_FullReplace(t *testing.T) {
	var c RmtesCache
	mustOK(t, "Apply", c.Apply([]byte("HELLO WORLD")))
	mustOK(t, "Apply", c.Apply([]byte("BYE")))
	if c.String() != "BYE" {
		t.Errorf("cache = %q, want BYE", c.String())
	}
}

func TestRmtesCache_PartialUpdate(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		update  string
		want    string
	}{
		{"cursor move overwrite", "HELLO WORLD", "\x1b[6`THERE", "HELLO THERE"},
		{"repeat previous", "ABCDEFGH", "\x1b[2`X\x1b[3b", "ABXXXXGH"},
		{"extend past end", "AB", "\x1b[4`Z", "AB  Z"},
		{"multiple commands", "0123456789", "\x1b[0`a\x1b[9`z", "a12345678z"},
		{"charset escape kept", "abc", "\x1b[1`\x1b%0", "a\x1b%0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := RmtesCache{Data: []byte(tt.initial)}
			if !HasPartialUpdate([]byte(tt.update)) {
				t.Fatalf("HasPartialUpdate(%q) = false", tt.update)
			}
			mustOK(t, "Apply", c.Apply([]byte(tt.update)))
			if c.String() != tt.want {
				t.Errorf("cache = %q, want %q", c.String(), tt.want)
			}
		})
	}
}

func TestRmtesCache_MalformedLeavesCache(t *testing.T) {
	c := RmtesCache{Data: []byte("KEEP")}
	for _, bad := range []string{"\x1b[12", "\x1b[3q", "\x1b[5b"} {
		err := c.Apply([]byte(bad))
		if !errors.Is(err, failure.ErrDecodeFailure) {
			t.Errorf("Apply(%q) error = %v, want ErrDecodeFailure", bad, err)
		}
		if c.String() != "KEEP" {
			t.Errorf("cache = %q after failed apply, want KEEP", c.String())
		}
	}
}
