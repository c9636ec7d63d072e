// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters for one session: channel lifecycle,
// message traffic, stream lifecycle, posting and capture. It is a leaf
// package with no internal dependencies. Exporter publishes snapshots to
// Prometheus.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Channel lifecycle
	ChannelsUp        int64
	ChannelsDown      int64
	Reconnects        int64
	PingTimeouts      int64
	HandshakeFailures int64

	// Traffic
	MsgsIn        int64
	MsgsOut       int64
	BytesIn       int64
	BytesOut      int64
	DecodeErrors  int64
	MsgsInByClass map[string]int64

	// Streams
	StreamsOpened    int64
	StreamsClosed    int64
	StreamsRecovered int64
	LateDropped      int64

	// Posting
	PostsSent    int64
	AcksReceived int64
	NaksReceived int64
	PostTimeouts int64

	// Journal / Adapter
	JournalWriteSuccess   int64
	JournalWriteFailure   int64
	AdapterPublishFailure int64

	// Dimensions (informational, set at construction)
	Role           string
	Transport      string
	JournalBackend string
	SessionID      string
}

// Collector accumulates metrics for a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
// journalBackend is empty when capture is off.
func NewCollector(role, transport, journalBackend, sessionID string) *Collector {
	return &Collector{s: Snapshot{
		MsgsInByClass:  make(map[string]int64),
		Role:           role,
		Transport:      transport,
		JournalBackend: journalBackend,
		SessionID:      sessionID,
	}}
}

func (c *Collector) with(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// --- Channel lifecycle ---

// IncChannelUp records a channel becoming ready.
func (c *Collector) IncChannelUp() { c.with(func(s *Snapshot) { s.ChannelsUp++ }) }

// IncChannelDown records a channel going down.
func (c *Collector) IncChannelDown() { c.with(func(s *Snapshot) { s.ChannelsDown++ }) }

// IncReconnect records a reconnect attempt.
func (c *Collector) IncReconnect() { c.with(func(s *Snapshot) { s.Reconnects++ }) }

// IncPingTimeout records a channel declared down for silence.
func (c *Collector) IncPingTimeout() { c.with(func(s *Snapshot) { s.PingTimeouts++ }) }

// IncHandshakeFailure records a failed handshake.
func (c *Collector) IncHandshakeFailure() { c.with(func(s *Snapshot) { s.HandshakeFailures++ }) }

// --- Traffic ---

// RecordIn records one inbound message of the named class.
func (c *Collector) RecordIn(class string, n int) {
	c.with(func(s *Snapshot) {
		s.MsgsIn++
		s.BytesIn += int64(n)
		s.MsgsInByClass[class]++
	})
}

// RecordOut records one outbound message.
func (c *Collector) RecordOut(n int) {
	c.with(func(s *Snapshot) {
		s.MsgsOut++
		s.BytesOut += int64(n)
	})
}

// IncDecodeErrors records a message abandoned for malformed data.
func (c *Collector) IncDecodeErrors() { c.with(func(s *Snapshot) { s.DecodeErrors++ }) }

// --- Streams ---

// IncStreamOpened records a stream reaching an open state.
func (c *Collector) IncStreamOpened() { c.with(func(s *Snapshot) { s.StreamsOpened++ }) }

// IncStreamClosed records a stream leaving the watchlist.
func (c *Collector) IncStreamClosed() { c.with(func(s *Snapshot) { s.StreamsClosed++ }) }

// AddStreamsRecovered records streams re-requested after a channel loss.
func (c *Collector) AddStreamsRecovered(n int) {
	c.with(func(s *Snapshot) { s.StreamsRecovered += int64(n) })
}

// IncLateDropped records a message for an unknown stream id.
func (c *Collector) IncLateDropped() { c.with(func(s *Snapshot) { s.LateDropped++ }) }

// --- Posting ---

// IncPostSent records a post submitted.
func (c *Collector) IncPostSent() { c.with(func(s *Snapshot) { s.PostsSent++ }) }

// IncAck records a positive acknowledgement.
func (c *Collector) IncAck() { c.with(func(s *Snapshot) { s.AcksReceived++ }) }

// IncNak records a negative acknowledgement.
func (c *Collector) IncNak() { c.with(func(s *Snapshot) { s.NaksReceived++ }) }

// IncPostTimeout records a post NAKed locally for lack of response.
func (c *Collector) IncPostTimeout() { c.with(func(s *Snapshot) { s.PostTimeouts++ }) }

// --- Journal / Adapter ---
// Journal counters are per flush, not per message.

// IncJournalWriteSuccess records a successful journal flush.
func (c *Collector) IncJournalWriteSuccess() {
	c.with(func(s *Snapshot) { s.JournalWriteSuccess++ })
}

// IncJournalWriteFailure records a failed journal flush.
func (c *Collector) IncJournalWriteFailure() {
	c.with(func(s *Snapshot) { s.JournalWriteFailure++ })
}

// IncAdapterPublishFailure records an event the adapter could not publish.
func (c *Collector) IncAdapterPublishFailure() {
	c.with(func(s *Snapshot) { s.AdapterPublishFailure++ })
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.s
	s.MsgsInByClass = maps.Clone(c.s.MsgsInByClass)
	return s
}
