// Package adapter defines the boundary for publishing session events to
// downstream systems.
//
// A session hands channel and stream lifecycle events to one Adapter. The
// session owns the adapter lifecycle; users provide configuration only.
package adapter

import "context"

// ContractVersion is the version of the Event payload shape.
const ContractVersion = "1.0.0"

// Event types.
const (
	EventChannelUp    = "channel_up"
	EventChannelReady = "channel_ready"
	EventChannelDown  = "channel_down"
	EventLoginDenied  = "login_denied"
	EventStreamClosed = "stream_closed"
)

// Event is the payload published for a session event.
type Event struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"`
	SessionID       string `json:"session_id"`
	Role            string `json:"role"`
	Channel         string `json:"channel,omitempty"`
	Remote          string `json:"remote,omitempty"`
	Service         string `json:"service,omitempty"`
	Domain          string `json:"domain,omitempty"`
	Item            string `json:"item,omitempty"`
	StreamState     string `json:"stream_state,omitempty"`
	DataState       string `json:"data_state,omitempty"`
	Text            string `json:"text,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339
}

// Adapter publishes session events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}
