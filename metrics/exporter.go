package metrics

import (
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sluice"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(*Snapshot) int64
}

// Exporter publishes Collector snapshots as Prometheus counters.
// It implements prometheus.Collector.
type Exporter struct {
	collector *Collector
	counters  []counterDesc
	byClass   *prometheus.Desc
}

// NewExporter returns an exporter reading from c. The collector's
// dimensions become constant labels.
func NewExporter(c *Collector) *Exporter {
	s := c.Snapshot()
	labels := prometheus.Labels{"role": s.Role, "transport": s.Transport}
	if s.SessionID != "" {
		labels["session_id"] = s.SessionID
	}
	counter := func(name, help string, value func(*Snapshot) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			value: value,
		}
	}
	return &Exporter{
		collector: c,
		counters: []counterDesc{
			counter("channels_up_total", "Channels that became ready.", func(s *Snapshot) int64 { return s.ChannelsUp }),
			counter("channels_down_total", "Channels that went down.", func(s *Snapshot) int64 { return s.ChannelsDown }),
			counter("reconnects_total", "Reconnect attempts.", func(s *Snapshot) int64 { return s.Reconnects }),
			counter("ping_timeouts_total", "Channels declared down for silence.", func(s *Snapshot) int64 { return s.PingTimeouts }),
			counter("handshake_failures_total", "Failed handshakes.", func(s *Snapshot) int64 { return s.HandshakeFailures }),
			counter("messages_out_total", "Messages written.", func(s *Snapshot) int64 { return s.MsgsOut }),
			counter("bytes_in_total", "Message bytes read.", func(s *Snapshot) int64 { return s.BytesIn }),
			counter("bytes_out_total", "Message bytes written.", func(s *Snapshot) int64 { return s.BytesOut }),
			counter("decode_errors_total", "Messages abandoned as malformed.", func(s *Snapshot) int64 { return s.DecodeErrors }),
			counter("streams_opened_total", "Streams that reached an open state.", func(s *Snapshot) int64 { return s.StreamsOpened }),
			counter("streams_closed_total", "Streams removed from the watchlist.", func(s *Snapshot) int64 { return s.StreamsClosed }),
			counter("streams_recovered_total", "Streams re-requested after a channel loss.", func(s *Snapshot) int64 { return s.StreamsRecovered }),
			counter("late_dropped_total", "Messages dropped for unknown stream ids.", func(s *Snapshot) int64 { return s.LateDropped }),
			counter("posts_sent_total", "Posts submitted.", func(s *Snapshot) int64 { return s.PostsSent }),
			counter("acks_total", "Positive acknowledgements.", func(s *Snapshot) int64 { return s.AcksReceived }),
			counter("naks_total", "Negative acknowledgements.", func(s *Snapshot) int64 { return s.NaksReceived }),
			counter("post_timeouts_total", "Posts NAKed locally without a response.", func(s *Snapshot) int64 { return s.PostTimeouts }),
			counter("journal_writes_total", "Successful journal flushes.", func(s *Snapshot) int64 { return s.JournalWriteSuccess }),
			counter("journal_write_failures_total", "Failed journal flushes.", func(s *Snapshot) int64 { return s.JournalWriteFailure }),
			counter("adapter_publish_failures_total", "Events the adapter could not publish.", func(s *Snapshot) int64 { return s.AdapterPublishFailure }),
		},
		byClass: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "messages_in_total"),
			"Messages read, by class.", []string{"class"}, labels),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	ch <- e.byClass
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.collector.Snapshot()
	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(&s)))
	}
	classes := make([]string, 0, len(s.MsgsInByClass))
	for class := range s.MsgsInByClass {
		classes = append(classes, class)
	}
	slices.Sort(classes)
	for _, class := range classes {
		ch <- prometheus.MustNewConstMetric(e.byClass, prometheus.CounterValue, float64(s.MsgsInByClass[class]), class)
	}
}

// Handler returns an HTTP handler serving the exporter on its own registry.
func (e *Exporter) Handler() (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(e); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

var _ prometheus.Collector = (*Exporter)(nil)
