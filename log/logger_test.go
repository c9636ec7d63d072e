package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_SessionContext(t *testing.T) {
	var buf bytes.Buffer
	l := newLoggerWithWriter(Context{SessionID: "s-1", Role: "consumer", Component: "channel"}, &buf)
	l.Info("channel up", map[string]any{"channel": "primary"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for key, want := range map[string]string{
		"session_id": "s-1",
		"role":       "consumer",
		"component":  "channel",
		"level":      "info",
		"message":    "channel up",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
	fields, _ := entry["fields"].(map[string]any)
	if fields["channel"] != "primary" {
		t.Errorf("fields = %v", entry["fields"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestLogger_WithOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Context{SessionID: "s-2", Role: "provider"}).WithOutput(&buf)
	l.Sugar().Warnf("ping timeout after %ds", 30)
	if !strings.Contains(buf.String(), "ping timeout after 30s") {
		t.Errorf("output = %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"session_id":"s-2"`) {
		t.Errorf("output lost session context: %q", buf.String())
	}
}

func TestNop_Discards(t *testing.T) {
	l := Nop()
	l.Error("dropped", nil)
	l.WithComponent("journal").Debug("dropped", nil)
}
