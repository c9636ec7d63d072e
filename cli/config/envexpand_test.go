package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")
	t.Setenv("TEST_EMPTY", "")
	t.Setenv("USER_A", "alice")
	t.Setenv("USER_B", "bob")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set var", "value: ${TEST_VAR}", "value: hello"},
		{"unset var", "value: ${UNSET_VAR_12345}", "value: "},
		{"default when unset", "value: ${UNSET_VAR_12345:-fallback}", "value: fallback"},
		{"default ignored when set", "value: ${TEST_VAR:-fallback}", "value: hello"},
		{"default when empty", "value: ${TEST_EMPTY:-fallback}", "value: fallback"},
		{"required and set", "value: ${TEST_VAR:?needed}", "value: hello"},
		{"multiple", "${USER_A}:${USER_B}", "alice:bob"},
		{"no vars", "no variables here", "no variables here"},
		{"bare dollar", "cost: $5", "cost: $5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_RequiredMissing(t *testing.T) {
	t.Setenv("TEST_EMPTY", "")
	_, err := ExpandEnv("a: ${UNSET_VAR_12345:?set the feed address}\nb: ${TEST_EMPTY:?}\n")
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	for _, want := range []string{"UNSET_VAR_12345: set the feed address", "TEST_EMPTY: required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should contain %q", err, want)
		}
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("FEED_USER", "admin")
	t.Setenv("FEED_ADDR", "feed:14002")

	input := `session:
  login:
    user: ${FEED_USER}
channels:
  - address: ${FEED_ADDR}`

	want := `session:
  login:
    user: admin
channels:
  - address: feed:14002`

	got, err := ExpandEnv(input)
	if err != nil {
		t.Fatalf("ExpandEnv failed: %v", err)
	}
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
