package journal

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"github.com/justapithecus/lode/lode"
)

// RecordKindMessage marks a captured wire message.
const RecordKindMessage = "message"

// Direction of a captured message.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// Record is one captured message. Raw holds the encoded message exactly as
// it crossed the channel.
type Record struct {
	SessionID string
	Channel   string
	Direction Direction
	Class     string
	Domain    string
	StreamID  int32
	Item      string
	Raw       []byte
	Timestamp time.Time
}

// Day is the partition day of the record (YYYY-MM-DD, UTC).
func (r *Record) Day() string {
	return r.Timestamp.UTC().Format("2006-01-02")
}

func (r *Record) toMap() map[string]any {
	m := map[string]any{
		"record_kind": RecordKindMessage,
		"session_id":  r.SessionID,
		"channel":     r.Channel,
		"direction":   string(r.Direction),
		"class":       r.Class,
		"domain":      r.Domain,
		"stream_id":   r.StreamID,
		"size":        len(r.Raw),
		"raw":         base64.StdEncoding.EncodeToString(r.Raw),
		"ts":          r.Timestamp.UTC().Format(time.RFC3339Nano),
		"day":         r.Day(),
	}
	if r.Item != "" {
		m["item"] = r.Item
	}
	return m
}

func recordFromMap(m map[string]any) (Record, error) {
	raw, err := base64.StdEncoding.DecodeString(toString(m["raw"]))
	if err != nil {
		return Record{}, fmt.Errorf("journal record raw: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, toString(m["ts"]))
	if err != nil {
		return Record{}, fmt.Errorf("journal record ts: %w", err)
	}
	return Record{
		SessionID: toString(m["session_id"]),
		Channel:   toString(m["channel"]),
		Direction: Direction(toString(m["direction"])),
		Class:     toString(m["class"]),
		Domain:    toString(m["domain"]),
		StreamID:  int32(toInt(m["stream_id"])),
		Item:      toString(m["item"]),
		Raw:       raw,
		Timestamp: ts,
	}, nil
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}

// Filter selects records on read. Empty fields match everything.
type Filter struct {
	SessionID string
	Channel   string
	Day       string
}

func (f *Filter) match(r *Record) bool {
	return (f.SessionID == "" || r.SessionID == f.SessionID) &&
		(f.Channel == "" || r.Channel == f.Channel) &&
		(f.Day == "" || r.Day() == f.Day)
}

// ReadAll returns every message record in ds matching f, ordered by
// timestamp.
func ReadAll(ctx context.Context, ds lode.Dataset, f Filter) ([]Record, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, wrapStorage("read", err)
	}
	var out []Record
	for _, snap := range snapshots {
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrapStorage("read", err)
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindMessage {
				continue
			}
			r, err := recordFromMap(m)
			if err != nil {
				return nil, err
			}
			if f.match(&r) {
				out = append(out, r)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Record) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}
