package reader

import (
	"context"
	"slices"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/journal"
)

// Reader abstracts read-only data access for CLI commands.
type Reader interface {
	// Records returns the rows matching f, ordered by time. Field lists
	// are formatted when decode is set.
	Records(ctx context.Context, f journal.Filter, decode bool) ([]RecordRow, error)
	// Sessions summarizes every session with records matching f.
	Sessions(ctx context.Context, f journal.Filter) ([]SessionSummary, error)
	// Stats counts the records matching f.
	Stats(ctx context.Context, f journal.Filter) (*JournalStats, error)
}

// JournalReader reads a journal dataset.
type JournalReader struct {
	ds   lode.Dataset
	dict *dictionary.Dictionary
}

// NewJournalReader returns a reader over ds. dict formats field lists;
// nil disables decoding.
func NewJournalReader(ds lode.Dataset, dict *dictionary.Dictionary) *JournalReader {
	return &JournalReader{ds: ds, dict: dict}
}

// Records implements Reader.
func (r *JournalReader) Records(ctx context.Context, f journal.Filter, decode bool) ([]RecordRow, error) {
	records, err := journal.ReadAll(ctx, r.ds, f)
	if err != nil {
		return nil, err
	}
	dict := r.dict
	if !decode {
		dict = nil
	}
	rows := make([]RecordRow, 0, len(records))
	for _, rec := range records {
		row, err := ParseRecord(rec, dict)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Sessions implements Reader. Summaries are ordered by first record.
func (r *JournalReader) Sessions(ctx context.Context, f journal.Filter) ([]SessionSummary, error) {
	records, err := journal.ReadAll(ctx, r.ds, f)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*SessionSummary)
	channels := make(map[string]map[string]bool)
	var order []string
	for _, rec := range records {
		s, ok := byID[rec.SessionID]
		if !ok {
			s = &SessionSummary{SessionID: rec.SessionID, First: stamp(rec)}
			byID[rec.SessionID] = s
			channels[rec.SessionID] = make(map[string]bool)
			order = append(order, rec.SessionID)
		}
		s.Messages++
		s.Bytes += len(rec.Raw)
		if rec.Direction == journal.In {
			s.In++
		} else {
			s.Out++
		}
		s.Last = stamp(rec)
		channels[rec.SessionID][rec.Channel] = true
	}
	out := make([]SessionSummary, 0, len(order))
	for _, id := range order {
		s := byID[id]
		s.Channels = len(channels[id])
		out = append(out, *s)
	}
	return out, nil
}

// Stats implements Reader.
func (r *JournalReader) Stats(ctx context.Context, f journal.Filter) (*JournalStats, error) {
	records, err := journal.ReadAll(ctx, r.ds, f)
	if err != nil {
		return nil, err
	}
	st := &JournalStats{
		ByClass:  make(map[string]int),
		ByDomain: make(map[string]int),
	}
	sessions := make(map[string]bool)
	var items []string
	for _, rec := range records {
		st.Records++
		st.Bytes += len(rec.Raw)
		if rec.Direction == journal.In {
			st.In++
		} else {
			st.Out++
		}
		st.ByClass[rec.Class]++
		st.ByDomain[rec.Domain]++
		sessions[rec.SessionID] = true
		if rec.Item != "" {
			items = append(items, rec.Domain+"/"+rec.Item)
		}
	}
	slices.Sort(items)
	st.Sessions = len(sessions)
	st.Items = len(slices.Compact(items))
	return st, nil
}

var _ Reader = (*JournalReader)(nil)

func stamp(rec journal.Record) string {
	return rec.Timestamp.UTC().Format(time.RFC3339)
}
