// Package session manages the channels of one consumer, provider or
// non-interactive provider session: connection and reconnection, the login
// and directory streams, request routing across service lists, and
// delivery of traffic to callbacks under either dispatch model.
//
// Reader goroutines, one per channel, only decode frames into an inbound
// queue. Everything else (watchlist processing, callbacks, ping checks)
// happens on the dispatch side: a session goroutine under DispatchAPI, or
// the caller of Dispatch under DispatchUser. Callbacks therefore never run
// concurrently with each other.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/channel"
	"github.com/pithecene-io/sluice/directory"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/journal"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/pool"
	"github.com/pithecene-io/sluice/watchlist"
)

const (
	// maxDecodeErrors consecutive decode failures tear a channel down.
	maxDecodeErrors = 3
	// dispatchBatch bounds the messages one Dispatch call handles.
	dispatchBatch = 256
	// tickInterval is how often DispatchAPI checks pings and post timeouts.
	tickInterval = 250 * time.Millisecond
	// poolIdle bounds the idle objects kept per pool.
	poolIdle = 64
)

type inboundKind uint8

const (
	inboundUp inboundKind = iota
	inboundData
	inboundDown
)

// inbound is one item of the queue between readers and dispatch.
type inbound struct {
	kind inboundKind
	conn *conn
	ch   *channel.Channel
	buf  *pool.Buffer
	err  error
	// done is closed once dispatch has handled a down event.
	done chan struct{}
}

// conn is one named channel slot. Consumer and non-interactive provider
// slots are fixed and reconnect; provider slots live as long as the
// accepted connection.
type conn struct {
	name string
	cfg  ChannelConfig

	mu sync.Mutex
	ch *channel.Channel

	// Owned by the dispatch side.
	loggedIn     bool
	ready        bool
	decodeErrors int
	user         string

	denied    atomic.Bool
	dirStream atomic.Int32
	dirFilter atomic.Uint32
}

func (c *conn) channel() *channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

func (c *conn) setChannel(ch *channel.Channel) {
	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()
}

// ChannelInfo is a read-only view of one channel.
type ChannelInfo struct {
	Name    string `json:"name"`
	Remote  string `json:"remote,omitempty"`
	Up      bool   `json:"up"`
	Ready   bool   `json:"ready"`
	Version string `json:"version,omitempty"`
	User    string `json:"user,omitempty"`
}

// Session is one consumer, provider or non-interactive provider session.
type Session struct {
	id       string
	cfg      Config
	logger   *log.Logger
	metrics  *metrics.Collector
	pools    *pool.Set
	wl       *watchlist.Watchlist
	selector *Selector

	mu       sync.RWMutex
	conns    map[string]*conn
	order    []*conn
	services []directory.Service

	inbox  chan inbound
	events chan *adapter.Event

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	dispatchMu sync.Mutex
	started    atomic.Bool
	closed     atomic.Bool
	nextPeer   atomic.Uint64
}

// New creates a session. Nothing connects until Start.
func New(cfg Config) (*Session, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, failure.Wrap(failure.ErrInvalidUsage, "session new", err)
	}
	s := &Session{
		id:       cfg.ID,
		cfg:      cfg,
		logger:   cfg.Logger.WithComponent("session"),
		metrics:  cfg.Metrics,
		pools:    pool.NewSet(pool.DefaultBufferSize, poolIdle),
		conns:    make(map[string]*conn, len(cfg.Channels)),
		services: append([]directory.Service(nil), cfg.Services...),
		inbox:    make(chan inbound, cfg.QueueSize),
		events:   make(chan *adapter.Event, cfg.QueueSize),
	}
	names := make([]string, 0, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		c := &conn{name: cc.Name, cfg: cc}
		s.conns[cc.Name] = c
		s.order = append(s.order, c)
		names = append(names, cc.Name)
	}
	s.selector = NewSelector(names)
	for name, services := range cfg.ServiceLists {
		if err := s.selector.RegisterList(name, services); err != nil {
			return nil, failure.Wrap(failure.ErrInvalidUsage, "session new", err)
		}
	}
	if cfg.Role == RoleConsumer {
		s.wl = watchlist.New(watchlist.Config{
			Router:         s.selector,
			Sink:           (*sink)(s),
			Handler:        s.onWatchlistEvent,
			PostAckTimeout: cfg.PostAckTimeout,
			Metrics:        cfg.Metrics,
			Logger:         cfg.Logger,
			Now:            cfg.Now,
		})
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Role returns the session role.
func (s *Session) Role() Role { return s.cfg.Role }

// Metrics returns the session collector, which may be nil.
func (s *Session) Metrics() *metrics.Collector { return s.metrics }

// Start connects every configured channel, starts the listeners and,
// under DispatchAPI, the dispatch goroutine.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return failure.Usage("session start", "session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(s.ctx)
	s.group = g

	s.logger.Info("session starting", map[string]any{
		"session_id": s.id,
		"role":       string(s.cfg.Role),
		"dispatch":   string(s.cfg.Dispatch),
		"channels":   len(s.order),
		"listeners":  len(s.cfg.Listeners),
	})

	for _, c := range s.order {
		g.Go(func() error {
			s.connectLoop(gctx, c)
			return nil
		})
	}
	for _, l := range s.cfg.Listeners {
		g.Go(func() error { return s.acceptLoop(gctx, l) })
	}
	if s.cfg.Publisher != nil {
		g.Go(func() error { return s.publishLoop(gctx) })
	}
	if s.cfg.Dispatch == DispatchAPI {
		g.Go(func() error { return s.dispatchLoop(gctx) })
	}
	return nil
}

// Run starts the session and blocks until ctx is done or a listener
// fails, then closes it.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- s.group.Wait() }()
	select {
	case <-ctx.Done():
	case err := <-waitCh:
		if err == nil {
			<-ctx.Done()
			break
		}
		s.logger.Error("session failed", map[string]any{"error": err.Error()})
	}
	return s.Close()
}

// Attach serves a transport accepted outside the session's listeners. It
// is how a provider session takes connections from an http server or a
// pipe.
func (s *Session) Attach(t channel.Transport) error {
	if !s.started.Load() || s.closed.Load() {
		if t != nil {
			_ = t.Close()
		}
		return failure.Usage("session attach", "session is not running")
	}
	if s.cfg.Role != RoleProvider {
		_ = t.Close()
		return failure.Usage("session attach", "%s session cannot accept connections", s.cfg.Role)
	}
	ctx := s.ctx
	s.group.Go(func() error {
		s.serveAccepted(ctx, t)
		return nil
	})
	return nil
}

// Close logs out, closes every channel and listener and waits for the
// session goroutines.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !s.started.Load() {
		if s.cfg.Publisher != nil {
			return s.cfg.Publisher.Close()
		}
		return nil
	}
	if s.cfg.Role != RoleProvider {
		s.logout()
	}
	s.cancel()
	for _, l := range s.cfg.Listeners {
		_ = l.Close()
	}
	s.mu.RLock()
	for _, c := range s.conns {
		if ch := c.channel(); ch != nil {
			_ = ch.Close()
		}
	}
	s.mu.RUnlock()

	var errs []error
	if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if s.cfg.Publisher != nil {
		if err := s.cfg.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close adapter: %w", err))
		}
	}
	s.logger.Info("session closed", map[string]any{"session_id": s.id})
	return errors.Join(errs...)
}

func (s *Session) channelConfig(name string) channel.Config {
	return channel.Config{
		Name:        name,
		Version:     s.cfg.Version,
		PingTimeout: s.cfg.PingTimeout,
		Role:        string(s.cfg.Role),
		Component:   "sluice",
		Logger:      s.cfg.Logger,
		Metrics:     s.metrics,
		Now:         s.cfg.Now,
	}
}

// connectLoop keeps c connected until ctx is done or its login is denied.
func (s *Session) connectLoop(ctx context.Context, c *conn) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectMin
	b.MaxInterval = s.cfg.ReconnectMax
	for {
		connected, err := s.connect(ctx, c)
		if ctx.Err() != nil {
			return
		}
		if c.denied.Load() {
			s.logger.Warn("login denied, not reconnecting", map[string]any{"channel": c.name})
			return
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.metrics.IncReconnect()
		fields := map[string]any{
			"channel": c.name,
			"address": c.cfg.Address,
			"delay":   wait.String(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger.Warn("channel reconnecting", fields)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connect dials and serves c once. It reports whether the handshake
// succeeded.
func (s *Session) connect(ctx context.Context, c *conn) (bool, error) {
	t, err := s.cfg.Dial(ctx, c.cfg)
	if err != nil {
		return false, err
	}
	ch, err := channel.Connect(ctx, t, s.channelConfig(c.name))
	if err != nil {
		_ = t.Close()
		return false, err
	}
	return true, s.serve(ctx, c, ch)
}

func (s *Session) acceptLoop(ctx context.Context, l channel.Listener) error {
	s.logger.Info("listening", map[string]any{"address": l.Addr()})
	for {
		t, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", l.Addr(), err)
		}
		s.group.Go(func() error {
			s.serveAccepted(ctx, t)
			return nil
		})
	}
}

func (s *Session) serveAccepted(ctx context.Context, t channel.Transport) {
	name := fmt.Sprintf("peer-%d", s.nextPeer.Add(1))
	ch, err := channel.Accept(ctx, t, s.channelConfig(name))
	if err != nil {
		_ = t.Close()
		s.logger.Warn("handshake failed", map[string]any{
			"remote": t.RemoteAddr(),
			"error":  err.Error(),
		})
		return
	}
	c := &conn{name: name}
	s.mu.Lock()
	s.conns[name] = c
	s.mu.Unlock()
	_ = s.serve(ctx, c, ch)
}

// serve queues the up event, reads ch until it fails, then queues the
// down event and waits for dispatch to handle it. It returns the read
// error.
func (s *Session) serve(ctx context.Context, c *conn, ch *channel.Channel) error {
	if !s.push(ctx, inbound{kind: inboundUp, conn: c, ch: ch}) {
		_ = ch.Close()
		return ctx.Err()
	}
	err := s.readLoop(ctx, c, ch)
	_ = ch.Close()
	done := make(chan struct{})
	if s.push(ctx, inbound{kind: inboundDown, conn: c, ch: ch, err: err, done: done}) {
		// reconnecting before dispatch sees the down event could race a
		// login denial still in the queue
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return err
}

// readLoop copies every data frame of ch into a pooled buffer and queues
// it for dispatch.
func (s *Session) readLoop(ctx context.Context, c *conn, ch *channel.Channel) error {
	for {
		payload, err := ch.Read()
		if err != nil {
			return err
		}
		buf := s.pools.Buffers.Acquire()
		buf.B = append(buf.B[:0], payload...)
		if !s.push(ctx, inbound{kind: inboundData, conn: c, ch: ch, buf: buf}) {
			s.releaseBuffer(buf)
			return ctx.Err()
		}
	}
}

func (s *Session) push(ctx context.Context, ev inbound) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// releaseBuffer restores the full length the encoder expects.
func (s *Session) releaseBuffer(buf *pool.Buffer) {
	buf.B = buf.B[:cap(buf.B)]
	s.pools.Buffers.Release(buf)
}

// Channels lists the channels of the session in configuration order,
// followed by accepted connections.
func (s *Session) Channels() []ChannelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(s.conns))
	add := func(c *conn) {
		info := ChannelInfo{Name: c.name}
		if ch := c.channel(); ch != nil {
			info.Up = true
			info.Remote = ch.RemoteAddr()
			info.Version = ch.Version().String()
		}
		if s.cfg.Role == RoleConsumer {
			info.Ready = s.selector.Ready(c.name)
		} else {
			info.Ready = info.Up && c.dirStream.Load() != 0
		}
		out = append(out, info)
	}
	for _, c := range s.order {
		add(c)
	}
	var peers []*conn
	for _, c := range s.conns {
		if c.cfg.Name == "" {
			peers = append(peers, c)
		}
	}
	slices.SortFunc(peers, func(a, b *conn) int { return strings.Compare(a.name, b.name) })
	for _, c := range peers {
		add(c)
	}
	return out
}

// Services returns the directory a consumer channel advertised, or the
// services a provider session announces when channel is empty.
func (s *Session) Services(channel string) []directory.Service {
	if channel != "" {
		return s.selector.Services(channel)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]directory.Service(nil), s.services...)
}

// record appends m to the journal.
func (s *Session) record(channel string, dir journal.Direction, m *msg.Msg, raw []byte) {
	if s.cfg.Journal == nil {
		return
	}
	r := journal.Record{
		SessionID: s.id,
		Channel:   channel,
		Direction: dir,
		Class:     m.Class().String(),
		Domain:    m.Domain.String(),
		StreamID:  m.StreamID,
		Item:      m.Key.NameString(),
		Raw:       raw,
		Timestamp: s.cfg.Now(),
	}
	if err := s.cfg.Journal.Append(context.Background(), r); err != nil {
		s.logger.Warn("journal append failed", map[string]any{
			"channel": channel,
			"error":   err.Error(),
		})
	}
}
