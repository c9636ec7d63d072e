package reader

import (
	"testing"
	"time"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/journal"
	"github.com/pithecene-io/sluice/msg"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func priceMsg(t *testing.T, body msg.Body, bid string) *msg.Msg {
	t.Helper()
	payload, err := dictionary.EncodeFieldList([]dictionary.FieldValue{
		{FieldID: 22, Value: codec.MustReal(bid)},
		{FieldID: 15, Value: codec.Enum{Value: 840}},
	}, codec.CurrentVersion)
	if err != nil {
		t.Fatalf("EncodeFieldList failed: %v", err)
	}
	return &msg.Msg{
		Domain:        msg.DomainMarketPrice,
		StreamID:      5,
		ContainerType: codec.DataTypeFieldList,
		Key:           msg.NameKey(1, "TRI.N"),
		Payload:       payload,
		Body:          body,
	}
}

func refreshBody() *msg.Refresh {
	return &msg.Refresh{
		Flags: msg.RefreshSolicited | msg.RefreshComplete | msg.RefreshClearCache,
		State: codec.State{Stream: codec.StreamStateOpen, Data: codec.DataStateOK, Text: []byte("ok")},
	}
}

func record(t *testing.T, session, channel string, dir journal.Direction, m *msg.Msg, at time.Duration) journal.Record {
	t.Helper()
	raw, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return journal.Record{
		SessionID: session,
		Channel:   channel,
		Direction: dir,
		Class:     m.Class().String(),
		Domain:    m.Domain.String(),
		StreamID:  m.StreamID,
		Item:      m.Key.NameString(),
		Raw:       raw,
		Timestamp: base.Add(at),
	}
}

func testReader(t *testing.T, records ...journal.Record) *JournalReader {
	t.Helper()
	ds, err := journal.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	j, err := journal.New(ds, journal.Config{FlushCount: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, r := range records {
		if err := j.Append(t.Context(), r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return NewJournalReader(ds, dictionary.Builtin())
}

func fixture(t *testing.T) *JournalReader {
	t.Helper()
	return testReader(t,
		record(t, "s1", "a", journal.In, priceMsg(t, refreshBody(), "10.5"), 0),
		record(t, "s1", "a", journal.In, priceMsg(t, &msg.Update{}, "10.6"), time.Second),
		record(t, "s1", "b", journal.Out, priceMsg(t, &msg.Update{}, "10.7"), 2*time.Second),
		record(t, "s2", "a", journal.In, priceMsg(t, refreshBody(), "99"), 3*time.Second),
	)
}

func TestJournalReader_Records(t *testing.T) {
	r := fixture(t)
	tests := []struct {
		name   string
		filter journal.Filter
		want   int
	}{
		{"all", journal.Filter{}, 4},
		{"session", journal.Filter{SessionID: "s1"}, 3},
		{"channel", journal.Filter{Channel: "b"}, 1},
		{"day", journal.Filter{Day: "2026-05-02"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := r.Records(t.Context(), tt.filter, false)
			if err != nil {
				t.Fatalf("Records failed: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("len(rows) = %d, want %d", len(rows), tt.want)
			}
			for _, row := range rows {
				if row.Fields != nil {
					t.Errorf("row %+v has fields without decode", row)
				}
			}
		})
	}
}

func TestJournalReader_RecordsDecoded(t *testing.T) {
	rows, err := fixture(t).Records(t.Context(), journal.Filter{SessionID: "s1"}, true)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	first := rows[0]
	if first.Class != "Refresh" || first.Item != "TRI.N" || first.StreamID != 5 {
		t.Errorf("row = %+v", first)
	}
	if first.State == "" {
		t.Error("refresh row has no state")
	}
	if rows[1].State != "" {
		t.Errorf("update row state = %q, want empty", rows[1].State)
	}
	want := []dictionary.Value{{FieldID: 22, Acronym: "BID", Text: "10.5"}, {FieldID: 15, Acronym: "CURRENCY", Text: "USD"}}
	if len(first.Fields) != len(want) {
		t.Fatalf("fields = %+v, want %+v", first.Fields, want)
	}
	for i := range want {
		if first.Fields[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, first.Fields[i], want[i])
		}
	}
}

func TestJournalReader_Sessions(t *testing.T) {
	got, err := fixture(t).Sessions(t.Context(), journal.Filter{})
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(got))
	}
	s1 := got[0]
	if s1.SessionID != "s1" || s1.Messages != 3 || s1.In != 2 || s1.Out != 1 || s1.Channels != 2 {
		t.Errorf("s1 = %+v", s1)
	}
	if s1.First != "2026-05-01T12:00:00Z" || s1.Last != "2026-05-01T12:00:02Z" {
		t.Errorf("s1 span = %s..%s", s1.First, s1.Last)
	}
	if got[1].SessionID != "s2" || got[1].Messages != 1 {
		t.Errorf("s2 = %+v", got[1])
	}
}

func TestJournalReader_Stats(t *testing.T) {
	st, err := fixture(t).Stats(t.Context(), journal.Filter{})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Records != 4 || st.In != 3 || st.Out != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.Sessions != 2 || st.Items != 1 {
		t.Errorf("sessions = %d items = %d, want 2 and 1", st.Sessions, st.Items)
	}
	if st.ByClass["Refresh"] != 2 || st.ByClass["Update"] != 2 {
		t.Errorf("ByClass = %v", st.ByClass)
	}
	if st.ByDomain["MarketPrice"] != 4 {
		t.Errorf("ByDomain = %v", st.ByDomain)
	}
}

func TestJournalReader_Empty(t *testing.T) {
	r := testReader(t)
	st, err := r.Stats(t.Context(), journal.Filter{})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Records != 0 || st.Items != 0 {
		t.Errorf("stats = %+v, want zero", st)
	}
	sessions, err := r.Sessions(t.Context(), journal.Filter{})
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessions = %+v, want none", sessions)
	}
}
