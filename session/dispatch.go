package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/channel"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/journal"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/pool"
	"github.com/pithecene-io/sluice/watchlist"
)

// Dispatch handles queued traffic on the calling goroutine. It waits up
// to timeout for the first item (zero does not wait), drains at most one
// batch, then runs the ping and post timeout checks. It returns the number
// of items handled. Only sessions using DispatchUser may call it.
func (s *Session) Dispatch(timeout time.Duration) (int, error) {
	const op = "session dispatch"
	if s.cfg.Dispatch != DispatchUser {
		return 0, failure.Usage(op, "session uses %s dispatch", s.cfg.Dispatch)
	}
	if s.closed.Load() {
		return 0, failure.Usage(op, "session closed")
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	n := 0
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case ev := <-s.inbox:
			s.handle(ev)
			n++
		case <-timer.C:
		}
		timer.Stop()
	}
drain:
	for n < dispatchBatch {
		select {
		case ev := <-s.inbox:
			s.handle(ev)
			n++
		default:
			break drain
		}
	}
	s.tick(s.cfg.Now())
	return n, nil
}

func (s *Session) dispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.inbox:
			s.dispatchMu.Lock()
			s.handle(ev)
			s.dispatchMu.Unlock()
		case <-ticker.C:
			s.dispatchMu.Lock()
			s.tick(s.cfg.Now())
			s.dispatchMu.Unlock()
		}
	}
}

func (s *Session) handle(ev inbound) {
	switch ev.kind {
	case inboundUp:
		s.onUp(ev.conn, ev.ch)
	case inboundDown:
		s.onDown(ev.conn, ev.ch, ev.err)
		close(ev.done)
	case inboundData:
		s.onData(ev.conn, ev.ch, ev.buf)
		s.releaseBuffer(ev.buf)
	}
}

// tick closes channels whose peer went silent, pings idle ones and
// expires overdue posts.
func (s *Session) tick(now time.Time) {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		ch := c.channel()
		if ch == nil {
			continue
		}
		if err := ch.Tick(now); err != nil {
			_ = ch.Close()
		}
	}
	if s.wl != nil {
		s.wl.Tick(now)
	}
}

func (s *Session) onUp(c *conn, ch *channel.Channel) {
	c.setChannel(ch)
	c.loggedIn, c.ready, c.decodeErrors, c.user = false, false, 0, ""
	c.dirStream.Store(0)
	s.metrics.IncChannelUp()
	s.logger.Info("channel up", map[string]any{
		"channel": c.name,
		"remote":  ch.RemoteAddr(),
		"version": ch.Version().String(),
	})
	s.publish(&adapter.Event{EventType: adapter.EventChannelUp, Channel: c.name, Remote: ch.RemoteAddr()})
	s.cfg.Callbacks.channel(ChannelEvent{Kind: ChannelUp, Channel: c.name, Remote: ch.RemoteAddr()})

	if s.cfg.Role == RoleProvider {
		return
	}
	if err := s.sendLogin(c); err != nil {
		s.logger.Warn("login request failed", map[string]any{"channel": c.name, "error": err.Error()})
		_ = ch.Close()
	}
}

func (s *Session) onDown(c *conn, ch *channel.Channel, cause error) {
	if c.channel() != ch {
		return
	}
	c.setChannel(nil)
	wasReady := c.ready
	c.loggedIn, c.ready = false, false
	c.dirStream.Store(0)
	s.metrics.IncChannelDown()

	fields := map[string]any{"channel": c.name, "was_ready": wasReady}
	ev := &adapter.Event{EventType: adapter.EventChannelDown, Channel: c.name, Remote: ch.RemoteAddr()}
	if cause != nil {
		fields["error"] = cause.Error()
		ev.Text = cause.Error()
	}
	s.logger.Warn("channel down", fields)
	s.publish(ev)
	s.cfg.Callbacks.channel(ChannelEvent{
		Kind:    ChannelDown,
		Channel: c.name,
		Remote:  ch.RemoteAddr(),
		Err:     failure.Wrap(failure.ErrConnectionLost, "session channel", cause),
	})

	switch s.cfg.Role {
	case RoleConsumer:
		s.selector.SetReady(c.name, false)
		s.wl.ChannelDown(c.name)
	case RoleProvider:
		s.mu.Lock()
		delete(s.conns, c.name)
		s.mu.Unlock()
	}
}

func (s *Session) onData(c *conn, ch *channel.Channel, buf *pool.Buffer) {
	if c.channel() != ch {
		return
	}
	m := s.pools.Msgs.Acquire()
	defer s.pools.Msgs.Release(m)
	if err := msg.DecodeVersion(buf.B, m, ch.Version()); err != nil {
		c.decodeErrors++
		s.metrics.IncDecodeErrors()
		s.logger.Warn("decode failed", map[string]any{
			"channel":     c.name,
			"size":        len(buf.B),
			"consecutive": c.decodeErrors,
			"error":       err.Error(),
		})
		if c.decodeErrors >= maxDecodeErrors {
			s.logger.Error("channel corrupt, closing", map[string]any{"channel": c.name})
			_ = ch.Close()
		}
		return
	}
	c.decodeErrors = 0
	s.metrics.RecordIn(m.Class().String(), len(buf.B))
	s.record(c.name, journal.In, m, buf.B)

	switch s.cfg.Role {
	case RoleConsumer:
		s.onConsumerMsg(c, m)
	case RoleNIProvider:
		s.onNIProviderMsg(c, m)
	case RoleProvider:
		s.onProviderMsg(c, m)
	}
}

// markReady reports c as able to carry item traffic.
func (s *Session) markReady(c *conn) {
	if c.ready {
		return
	}
	c.ready = true
	if s.cfg.Role == RoleConsumer {
		s.selector.SetReady(c.name, true)
	}
	remote := ""
	if ch := c.channel(); ch != nil {
		remote = ch.RemoteAddr()
	}
	s.logger.Info("channel ready", map[string]any{"channel": c.name})
	s.publish(&adapter.Event{EventType: adapter.EventChannelReady, Channel: c.name, Remote: remote})
	s.cfg.Callbacks.channel(ChannelEvent{Kind: ChannelReady, Channel: c.name, Remote: remote})
}

// deliverDirect hands a message that belongs to no watchlist request to
// the callbacks.
func (s *Session) deliverDirect(c *conn, m *msg.Msg) {
	v := s.cfg.Version
	if ch := c.channel(); ch != nil {
		v = ch.Version()
	}
	s.cfg.Callbacks.deliver(m, &EventContext{
		SessionID:  s.id,
		Channel:    c.name,
		Key:        m.Key,
		Dictionary: s.cfg.Dictionary,
		Version:    v,
	})
}

// sink is the session as seen by the watchlist.
type sink Session

func (k *sink) Send(channel string, m *msg.Msg) error {
	return (*Session)(k).send(channel, m)
}

// send encodes m with the version of channel and writes it.
func (s *Session) send(name string, m *msg.Msg) error {
	const op = "session send"
	if err := checkRole(s.cfg.Role, m); err != nil {
		return err
	}
	s.mu.RLock()
	c, ok := s.conns[name]
	s.mu.RUnlock()
	if !ok {
		return failure.Wrap(failure.ErrConnectionLost, op, fmt.Errorf("unknown channel %q", name))
	}
	ch := c.channel()
	if ch == nil {
		return failure.Wrap(failure.ErrConnectionLost, op, fmt.Errorf("channel %s is down", name))
	}
	return s.pools.Encode(m, ch.Version(), func(b []byte) error {
		if err := ch.Send(b); err != nil {
			return err
		}
		s.metrics.RecordOut(len(b))
		s.record(name, journal.Out, m, b)
		return nil
	})
}

// Submit validates m and sends it on channel. Providers answer requests
// with it; consumers use the watchlist operations instead.
func (s *Session) Submit(channel string, m *msg.Msg) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.send(channel, m)
}

var _ watchlist.Sink = (*sink)(nil)
