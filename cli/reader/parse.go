package reader

import (
	"fmt"
	"time"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/journal"
	"github.com/pithecene-io/sluice/msg"
)

// ParseRecord converts a journal record to a row. The stored raw message
// is decoded for its state; with a dictionary, field list payloads are
// formatted too.
func ParseRecord(r journal.Record, dict *dictionary.Dictionary) (RecordRow, error) {
	row := RecordRow{
		Time:      r.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID: r.SessionID,
		Channel:   r.Channel,
		Direction: string(r.Direction),
		Class:     r.Class,
		Domain:    r.Domain,
		StreamID:  r.StreamID,
		Item:      r.Item,
		Size:      len(r.Raw),
	}
	var m msg.Msg
	if err := msg.Decode(r.Raw, &m); err != nil {
		return row, fmt.Errorf("record %s/%d at %s: %w", r.Channel, r.StreamID, row.Time, err)
	}
	if st, ok := State(&m); ok {
		row.State = st.String()
	}
	if dict != nil && m.ContainerType == codec.DataTypeFieldList && len(m.Payload) > 0 {
		fields, err := dict.FormatFieldList(m.Payload, codec.CurrentVersion)
		if err != nil {
			return row, fmt.Errorf("record %s/%d at %s: %w", r.Channel, r.StreamID, row.Time, err)
		}
		row.Fields = fields
	}
	return row, nil
}

// State returns the state carried by a Refresh or a Status.
func State(m *msg.Msg) (codec.State, bool) {
	switch b := m.Body.(type) {
	case *msg.Refresh:
		return b.State, true
	case *msg.Status:
		if b.Flags&msg.StatusHasState != 0 {
			return b.State, true
		}
	}
	return codec.State{}, false
}
