// Package watchlist tracks the lifecycle of every request a consumer
// session has open: stream id assignment, refresh/update/status handling,
// reissue, close, recovery across routes, batch and view requests, tunnel
// streams with their substreams, and post acknowledgement correlation.
//
// Requests (Open, Reissue, Close, Post) may be called from any goroutine.
// Inbound processing (OnMessage, ChannelDown, Recover, Tick) must be called
// from the session's single dispatch goroutine, which is also where the
// Handler runs. The Handler may call back into the watchlist.
package watchlist

import (
	"fmt"
	"time"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/msg"
)

// Stream ids below FirstStreamID belong to the session's login and
// directory streams.
const (
	LoginStreamID     int32 = 1
	DirectoryStreamID int32 = 2
	FirstStreamID     int32 = 3
)

// Handle identifies a request for its whole lifetime, across recoveries.
type Handle uint64

// State is the lifecycle state of a request.
type State uint8

const (
	StateUnopened State = iota
	StatePendingRequest
	StateOpenStreaming
	StateOpenSnapshot
	StatePendingReissue
	StateClosedRecoverable
	StateClosed
)

var stateNames = [...]string{
	"Unopened", "PendingRequest", "OpenStreaming", "OpenSnapshot",
	"PendingReissue", "ClosedRecoverable", "Closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsOpen reports whether updates flow on the stream.
func (s State) IsOpen() bool {
	return s == StateOpenStreaming || s == StateOpenSnapshot || s == StatePendingReissue
}

// Route binds a request to a channel and a concrete service on it.
type Route struct {
	Channel   string
	ServiceID uint16
	Service   string
}

// Router resolves a service name or service list to a route.
type Router interface {
	// Route returns the first available route for service offering domain
	// d, skipping the routes in exclude.
	Route(service string, d msg.Domain, exclude []Route) (Route, bool)
}

// Sink writes messages on a channel.
type Sink interface {
	Send(channel string, m *msg.Msg) error
}

// Event is one delivery to the Handler. Msg and everything it references
// are only valid during the call; use Msg.Clone to keep them.
type Event struct {
	Handle Handle
	// Parent is the tunnel of a substream event, 0 otherwise.
	Parent  Handle
	Closure any
	Msg     *msg.Msg
	// Key is the key the request was made with.
	Key     *msg.Key
	Channel string
	Service string
	// State is the request state after the message was applied.
	State State
}

// Handler receives events on the dispatch goroutine.
type Handler func(ev *Event)

// View restricts the fields a stream delivers.
type View struct {
	FieldIDs []int16
}

// Priority of a request.
type Priority struct {
	Class uint8
	Count uint16
}

// OpenRequest describes a new item request.
type OpenRequest struct {
	Domain msg.Domain
	// Service is a service name or a service list name.
	Service  string
	Name     string
	NameType uint8
	// Snapshot requests a single refresh and no updates.
	Snapshot bool
	Private  bool
	Priority *Priority
	Qos      *codec.Qos
	View     *View
	// ContainerType and Payload carry an application request payload.
	// Ignored when View is set.
	ContainerType codec.DataType
	Payload       []byte
	Closure       any
}

// ReissueRequest changes an open request.
type ReissueRequest struct {
	Pause     bool
	NoRefresh bool
	Priority  *Priority
	View      *View
}

// PostRequest contributes data on an open stream or, off-stream, on the
// login stream of the channel serving Service.
type PostRequest struct {
	PostID uint32
	// Ack asks the provider to acknowledge the post.
	Ack           bool
	Service       string
	Key           *msg.Key
	ContainerType codec.DataType
	Payload       []byte
	Closure       any
}

// Config wires the watchlist to its session.
type Config struct {
	Router  Router
	Sink    Sink
	Handler Handler
	// PostAckTimeout bounds the wait for an Ack. Zero disables the timeout.
	PostAckTimeout time.Duration
	PostUserInfo   msg.PostUserInfo
	Metrics        *metrics.Collector
	Logger         *log.Logger
	Now            func() time.Time
}

// StreamInfo is a read-only view of one request.
type StreamInfo struct {
	Handle   Handle
	StreamID int32
	Domain   msg.Domain
	Name     string
	Service  string
	Channel  string
	State    State
	Parent   Handle
}
