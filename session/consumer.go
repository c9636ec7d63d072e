package session

import (
	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/watchlist"
)

// watchlist returns the request table of a consumer session.
func (s *Session) watchlist(op string) (*watchlist.Watchlist, error) {
	if s.wl == nil {
		return nil, failure.Usage(op, "%s session does not request items", s.cfg.Role)
	}
	if s.closed.Load() {
		return nil, failure.Usage(op, "session closed")
	}
	return s.wl, nil
}

// Open requests an item. Service may name a service list. Responses
// arrive on the callbacks with the returned handle.
func (s *Session) Open(req watchlist.OpenRequest) (watchlist.Handle, error) {
	wl, err := s.watchlist("session open")
	if err != nil {
		return 0, err
	}
	return wl.Open(req)
}

// OpenBatch requests several items of one service with a single batch
// request.
func (s *Session) OpenBatch(req watchlist.OpenRequest, names []string) ([]watchlist.Handle, error) {
	wl, err := s.watchlist("session open batch")
	if err != nil {
		return nil, err
	}
	return wl.OpenBatch(req, names)
}

// OpenTunnel opens a tunnel stream.
func (s *Session) OpenTunnel(req watchlist.TunnelRequest) (watchlist.Handle, error) {
	wl, err := s.watchlist("session open tunnel")
	if err != nil {
		return 0, err
	}
	return wl.OpenTunnel(req)
}

// OpenSubstream requests an item through an open tunnel.
func (s *Session) OpenSubstream(parent watchlist.Handle, req watchlist.OpenRequest) (watchlist.Handle, error) {
	wl, err := s.watchlist("session open substream")
	if err != nil {
		return 0, err
	}
	return wl.OpenSubstream(parent, req)
}

// Reissue changes the priority, view or pause state of an open item.
func (s *Session) Reissue(h watchlist.Handle, req watchlist.ReissueRequest) error {
	wl, err := s.watchlist("session reissue")
	if err != nil {
		return err
	}
	return wl.Reissue(h, req)
}

// Unregister closes the stream behind h.
func (s *Session) Unregister(h watchlist.Handle) error {
	wl, err := s.watchlist("session unregister")
	if err != nil {
		return err
	}
	return wl.Close(h)
}

// Post sends a post on the stream behind h and returns its post id.
func (s *Session) Post(h watchlist.Handle, req watchlist.PostRequest) (uint32, error) {
	wl, err := s.watchlist("session post")
	if err != nil {
		return 0, err
	}
	return wl.Post(h, req)
}

// PostOffStream sends a post on the login stream of the channel serving
// req.Service.
func (s *Session) PostOffStream(d msg.Domain, req watchlist.PostRequest) (uint32, error) {
	wl, err := s.watchlist("session post")
	if err != nil {
		return 0, err
	}
	return wl.PostOffStream(d, req)
}

// State returns the stream state behind h.
func (s *Session) State(h watchlist.Handle) (watchlist.State, bool) {
	if s.wl == nil {
		return watchlist.StateUnopened, false
	}
	return s.wl.State(h)
}

// Streams lists the open streams of a consumer session.
func (s *Session) Streams() []watchlist.StreamInfo {
	if s.wl == nil {
		return nil
	}
	return s.wl.Streams()
}

// channelVersion returns the version negotiated on the named channel, or
// the configured version when the channel is down.
func (s *Session) channelVersion(name string) codec.Version {
	s.mu.RLock()
	c, ok := s.conns[name]
	s.mu.RUnlock()
	if ok {
		if ch := c.channel(); ch != nil {
			return ch.Version()
		}
	}
	return s.cfg.Version
}

func (s *Session) onWatchlistEvent(ev *watchlist.Event) {
	s.cfg.Callbacks.deliver(ev.Msg, &EventContext{
		SessionID:  s.id,
		Handle:     ev.Handle,
		Parent:     ev.Parent,
		Closure:    ev.Closure,
		Channel:    ev.Channel,
		Service:    ev.Service,
		Key:        ev.Key,
		State:      ev.State,
		Dictionary: s.cfg.Dictionary,
		Version:    s.channelVersion(ev.Channel),
	})
	st, ok := streamState(ev.Msg)
	if !ok || st.Stream != codec.StreamStateClosed || ev.Msg.Class() != msg.ClassStatus {
		return
	}
	s.publish(&adapter.Event{
		EventType:   adapter.EventStreamClosed,
		Channel:     ev.Channel,
		Service:     ev.Service,
		Domain:      ev.Msg.Domain.String(),
		Item:        ev.Key.NameString(),
		StreamState: st.Stream.String(),
		DataState:   st.Data.String(),
		Text:        string(st.Text),
	})
}
