package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("consumer", "tcp", "fs", "session-001")

	c.IncChannelUp()
	c.IncChannelDown()
	c.IncReconnect()
	c.IncReconnect()
	c.IncPingTimeout()
	c.IncHandshakeFailure()
	c.RecordIn("Refresh", 100)
	c.RecordIn("Update", 40)
	c.RecordIn("Update", 60)
	c.RecordOut(25)
	c.IncDecodeErrors()
	c.IncStreamOpened()
	c.IncStreamClosed()
	c.AddStreamsRecovered(3)
	c.IncLateDropped()
	c.IncPostSent()
	c.IncAck()
	c.IncNak()
	c.IncPostTimeout()
	c.IncJournalWriteSuccess()
	c.IncJournalWriteFailure()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()

	if s.ChannelsUp != 1 || s.ChannelsDown != 1 {
		t.Errorf("channels = %d/%d, want 1/1", s.ChannelsUp, s.ChannelsDown)
	}
	if s.Reconnects != 2 {
		t.Errorf("Reconnects = %d, want 2", s.Reconnects)
	}
	if s.PingTimeouts != 1 || s.HandshakeFailures != 1 {
		t.Errorf("PingTimeouts/HandshakeFailures = %d/%d, want 1/1", s.PingTimeouts, s.HandshakeFailures)
	}
	if s.MsgsIn != 3 || s.BytesIn != 200 {
		t.Errorf("in = %d msgs %d bytes, want 3/200", s.MsgsIn, s.BytesIn)
	}
	if s.MsgsInByClass["Update"] != 2 {
		t.Errorf("MsgsInByClass[Update] = %d, want 2", s.MsgsInByClass["Update"])
	}
	if s.MsgsOut != 1 || s.BytesOut != 25 {
		t.Errorf("out = %d msgs %d bytes, want 1/25", s.MsgsOut, s.BytesOut)
	}
	if s.StreamsRecovered != 3 {
		t.Errorf("StreamsRecovered = %d, want 3", s.StreamsRecovered)
	}
	if s.PostsSent != 1 || s.AcksReceived != 1 || s.NaksReceived != 1 || s.PostTimeouts != 1 {
		t.Errorf("posting = %+v", s)
	}
	if s.JournalWriteSuccess != 1 || s.JournalWriteFailure != 1 || s.AdapterPublishFailure != 1 {
		t.Errorf("journal/adapter = %+v", s)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("provider", "websocket", "s3", "session-42").Snapshot()

	if s.Role != "provider" {
		t.Errorf("Role = %q, want %q", s.Role, "provider")
	}
	if s.Transport != "websocket" {
		t.Errorf("Transport = %q, want %q", s.Transport, "websocket")
	}
	if s.JournalBackend != "s3" {
		t.Errorf("JournalBackend = %q, want %q", s.JournalBackend, "s3")
	}
	if s.SessionID != "session-42" {
		t.Errorf("SessionID = %q, want %q", s.SessionID, "session-42")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.IncChannelUp()
	c.RecordIn("Update", 10)
	c.AddStreamsRecovered(2)
	if s := c.Snapshot(); s.ChannelsUp != 0 {
		t.Errorf("nil Snapshot = %+v, want zero", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("consumer", "tcp", "", "")
	c.RecordIn("Refresh", 1)
	s := c.Snapshot()
	s.MsgsInByClass["Refresh"] = 99
	if got := c.Snapshot().MsgsInByClass["Refresh"]; got != 1 {
		t.Errorf("MsgsInByClass[Refresh] = %d after mutating a snapshot, want 1", got)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("consumer", "tcp", "", "")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordIn("Update", 1)
			c.IncStreamOpened()
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.MsgsIn != 50 || s.StreamsOpened != 50 {
		t.Errorf("MsgsIn/StreamsOpened = %d/%d, want 50/50", s.MsgsIn, s.StreamsOpened)
	}
}

func TestExporter_Collect(t *testing.T) {
	c := NewCollector("consumer", "tcp", "", "")
	c.RecordIn("Refresh", 10)
	c.RecordIn("Update", 10)
	c.RecordIn("Update", 10)
	e := NewExporter(c)

	if n := testutil.CollectAndCount(e); n != 22 {
		t.Errorf("CollectAndCount = %d, want 22", n)
	}
	want := `
# HELP sluice_messages_in_total Messages read, by class.
# TYPE sluice_messages_in_total counter
sluice_messages_in_total{class="Refresh",role="consumer",transport="tcp"} 1
sluice_messages_in_total{class="Update",role="consumer",transport="tcp"} 2
`
	if err := testutil.CollectAndCompare(e, strings.NewReader(want), "sluice_messages_in_total"); err != nil {
		t.Errorf("CollectAndCompare failed: %v", err)
	}
}

func TestExporter_Handler(t *testing.T) {
	c := NewCollector("consumer", "tcp", "", "s-1")
	c.IncReconnect()
	h, err := NewExporter(c).Handler()
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `sluice_reconnects_total{role="consumer",session_id="s-1",transport="tcp"} 1`) {
		t.Errorf("body missing reconnects counter:\n%s", body)
	}
}
