package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/sluice/metrics"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func testRecord(i int32, channel string) Record {
	return Record{
		SessionID: "sess-1",
		Channel:   channel,
		Direction: In,
		Class:     "Refresh",
		Domain:    "MarketPrice",
		StreamID:  i,
		Item:      "TRI.N",
		Raw:       []byte{0x00, 0x08, byte(i)},
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, int(i), time.UTC),
	}
}

func TestJournal_CountFlushAndReadBack(t *testing.T) {
	ds, err := NewDataset(sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	m := metrics.NewCollector("consumer", "tcp", BackendMemory, "sess-1")
	j, err := New(ds, Config{FlushCount: 2, Metrics: m})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := int32(1); i <= 3; i++ {
		if err := j.Append(t.Context(), testRecord(i, "a")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if got := j.Pending(); got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	stats := j.FlushTriggerStats()
	if stats[FlushTriggerCount] != 1 || stats[FlushTriggerClose] != 1 {
		t.Errorf("FlushTriggerStats = %v", stats)
	}
	if got := m.Snapshot().JournalWriteSuccess; got != 2 {
		t.Errorf("JournalWriteSuccess = %d, want 2", got)
	}

	records, err := ReadAll(t.Context(), ds, Filter{})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	for i, r := range records {
		want := testRecord(int32(i+1), "a")
		if r.StreamID != want.StreamID || string(r.Raw) != string(want.Raw) || !r.Timestamp.Equal(want.Timestamp) {
			t.Errorf("record %d = %+v, want %+v", i, r, want)
		}
		if r.Day() != "2026-05-01" {
			t.Errorf("Day = %q, want 2026-05-01", r.Day())
		}
	}
}

func TestJournal_FilterByChannel(t *testing.T) {
	ds, err := NewDataset(sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	j, err := New(ds, Config{FlushCount: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = j.Append(t.Context(), testRecord(1, "a"))
	_ = j.Append(t.Context(), testRecord(2, "b"))
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := ReadAll(t.Context(), ds, Filter{Channel: "b"})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 1 || records[0].Channel != "b" {
		t.Errorf("records = %+v, want one on channel b", records)
	}
}

func TestJournal_IntervalFlush(t *testing.T) {
	ds, err := NewDataset(sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	j, err := New(ds, Config{FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer j.Close()

	if err := j.Append(t.Context(), testRecord(1, "a")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for j.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := j.FlushTriggerStats()[FlushTriggerInterval]; got < 1 {
		t.Errorf("interval flushes = %d, want >= 1", got)
	}
}

func TestJournal_InvalidConfig(t *testing.T) {
	ds, err := NewMemory()
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	if _, err := New(ds, Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New error = %v, want ErrInvalidConfig", err)
	}
}

func TestJournal_NilAppend(t *testing.T) {
	var j *Journal
	if err := j.Append(context.Background(), testRecord(1, "a")); err != nil {
		t.Errorf("nil Append = %v, want nil", err)
	}
}

func TestJournal_AppendAfterClose(t *testing.T) {
	ds, err := NewMemory()
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	j, err := New(ds, Config{FlushCount: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := j.Append(t.Context(), testRecord(1, "a")); err == nil {
		t.Error("Append after Close succeeded")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("open /x: permission denied"), ErrPermissionDenied},
		{errors.New("NoSuchKey: the key does not exist"), ErrNotFound},
		{errors.New("write: no space left on device"), ErrDiskFull},
		{errors.New("SlowDown: reduce request rate"), ErrThrottled},
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrNetwork},
		{errors.New("something else"), ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := wrapStorage("write", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("wrapStorage(%v) = %v, want kind %v", tt.err, err, tt.want)
			}
		})
	}
}

func TestOpen_Backends(t *testing.T) {
	if _, err := Open(t.Context(), BackendFS, t.TempDir(), S3Config{}); err != nil {
		t.Errorf("Open fs failed: %v", err)
	}
	if _, err := Open(t.Context(), BackendMemory, "", S3Config{}); err != nil {
		t.Errorf("Open memory failed: %v", err)
	}
	if _, err := Open(t.Context(), BackendFS, "", S3Config{}); err == nil {
		t.Error("Open fs without a path succeeded")
	}
	if _, err := Open(t.Context(), "tape", "", S3Config{}); err == nil {
		t.Error("Open unknown backend succeeded")
	}
	if b, p := ParseS3Path("bucket/some/prefix"); b != "bucket" || p != "some/prefix" {
		t.Errorf("ParseS3Path = %q, %q", b, p)
	}
}
