package session

import (
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/watchlist"
)

// EventContext accompanies every message delivered to a callback.
type EventContext struct {
	SessionID string
	// Handle is 0 for login and directory messages and for messages a
	// provider receives.
	Handle watchlist.Handle
	// Parent is the tunnel of a substream message.
	Parent  watchlist.Handle
	Closure any
	Channel string
	Service string
	// Key is the key the request was made with, or the key of the
	// message when there is no request.
	Key   *msg.Key
	State watchlist.State
	// Dictionary is the session dictionary, nil when none is configured.
	Dictionary *dictionary.Dictionary
	// Version is the version negotiated on Channel.
	Version codec.Version
}

// ChannelEventKind classifies a ChannelEvent.
type ChannelEventKind uint8

const (
	ChannelUp ChannelEventKind = iota + 1
	ChannelReady
	ChannelDown
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelUp:
		return "up"
	case ChannelReady:
		return "ready"
	case ChannelDown:
		return "down"
	}
	return "unknown"
}

// ChannelEvent reports a channel lifecycle change.
type ChannelEvent struct {
	Kind    ChannelEventKind
	Channel string
	Remote  string
	// Err is the cause of a ChannelDown.
	Err error
}

// Callbacks receive session traffic. They run one at a time, on the
// dispatch goroutine, and must not block. A message is only valid during
// the call.
type Callbacks struct {
	OnRefresh func(m *msg.Msg, ev *EventContext)
	OnUpdate  func(m *msg.Msg, ev *EventContext)
	OnStatus  func(m *msg.Msg, ev *EventContext)
	OnGeneric func(m *msg.Msg, ev *EventContext)
	OnAck     func(m *msg.Msg, ev *EventContext)
	// OnPost, OnRequest and OnClose are called on provider sessions.
	OnPost    func(m *msg.Msg, ev *EventContext)
	OnRequest func(m *msg.Msg, ev *EventContext)
	OnClose   func(m *msg.Msg, ev *EventContext)
	// OnAllMsg sees every message before its class callback.
	OnAllMsg  func(m *msg.Msg, ev *EventContext)
	OnChannel func(ev ChannelEvent)
}

func (c *Callbacks) deliver(m *msg.Msg, ev *EventContext) {
	if c.OnAllMsg != nil {
		c.OnAllMsg(m, ev)
	}
	var fn func(*msg.Msg, *EventContext)
	switch m.Class() {
	case msg.ClassRefresh:
		fn = c.OnRefresh
	case msg.ClassUpdate:
		fn = c.OnUpdate
	case msg.ClassStatus:
		fn = c.OnStatus
	case msg.ClassGeneric:
		fn = c.OnGeneric
	case msg.ClassAck:
		fn = c.OnAck
	case msg.ClassPost:
		fn = c.OnPost
	case msg.ClassRequest:
		fn = c.OnRequest
	case msg.ClassClose:
		fn = c.OnClose
	}
	if fn != nil {
		fn(m, ev)
	}
}

func (c *Callbacks) channel(ev ChannelEvent) {
	if c.OnChannel != nil {
		c.OnChannel(ev)
	}
}
