package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/channel"
	"github.com/pithecene-io/sluice/cli/config"
	"github.com/pithecene-io/sluice/cli/reader"
	"github.com/pithecene-io/sluice/cli/render"
	"github.com/pithecene-io/sluice/cli/tui"
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/session"
	"github.com/pithecene-io/sluice/watchlist"
)

// defaultSnapshotTimeout bounds a snapshot when --timeout is unset.
const defaultSnapshotTimeout = 10 * time.Second

// SnapshotCommand returns the snapshot command.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Usage:     "Request a one-off image of items",
		ArgsUsage: "<item> [item...]",
		Flags: append(append(ReadOnlyFlags(), SessionFlags()...),
			&cli.DurationFlag{Name: "timeout", Usage: "Give up waiting for refreshes", Value: defaultSnapshotTimeout},
			&cli.BoolFlag{Name: "channels", Usage: "Show the session channels instead of the images"},
		),
		Action: snapshotAction,
	}
}

func snapshotAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	items := c.Args().Slice()
	if len(items) == 0 {
		return cli.Exit("at least one item is required", 1)
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancelTimeout()

	images := newImageSet(items)
	cs, err := startConsumer(ctx, c, session.Callbacks{
		OnRefresh: images.apply,
		OnUpdate:  images.apply,
		OnStatus:  images.apply,
	})
	if err != nil {
		return err
	}
	defer func() { _ = cs.Close() }()

	if _, err := cs.open(c, items, true); err != nil {
		return err
	}
	select {
	case <-images.done:
	case <-ctx.Done():
		cs.env.logger.Warn("snapshot incomplete", map[string]any{"pending": images.pendingCount()})
	}

	if c.Bool("channels") {
		chans := cs.Channels()
		if c.Bool("tui") {
			return r.RenderTUI("inspect_channels", chans)
		}
		return r.Render(chans)
	}
	out := images.list()
	if c.Bool("tui") {
		return r.RenderTUI("inspect_items", out)
	}
	return r.Render(out)
}

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream refreshes and updates of items",
		ArgsUsage: "<item> [item...]",
		Flags: append(append(ReadOnlyFlags(), SessionFlags()...),
			&cli.StringSliceFlag{Name: "fields", Usage: "Field acronyms shown in the TUI", Value: cli.NewStringSlice("BID", "ASK")},
			&cli.IntSliceFlag{Name: "view", Usage: "Restrict streams to these field ids"},
			&cli.DurationFlag{Name: "duration", Usage: "Stop after this long (0 = until interrupted)"},
		),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	items := c.Args().Slice()
	if len(items) == 0 {
		return cli.Exit("at least one item is required", 1)
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	if d := c.Duration("duration"); d > 0 {
		var cancelDuration context.CancelFunc
		ctx, cancelDuration = context.WithTimeout(ctx, d)
		defer cancelDuration()
	}

	images := newImageSet(items)
	var view *tui.Watch
	emit := func(img reader.ItemImage) {
		switch {
		case view != nil:
			view.Image(img)
		case r.Format() == render.FormatTable:
			r.Line("%s %s %s %s", img.Item, img.State, img.Text, img.Fields)
		default:
			_ = r.Render(img)
		}
	}
	if c.Bool("tui") {
		view = tui.NewWatch(c.StringSlice("fields"))
	}

	onMsg := func(m *msg.Msg, ev *session.EventContext) {
		if img, ok := images.applyOne(m, ev); ok {
			emit(img)
		}
	}
	cb := session.Callbacks{
		OnRefresh: onMsg,
		OnUpdate:  onMsg,
		OnStatus:  onMsg,
		OnChannel: func(ev session.ChannelEvent) {
			if view != nil {
				view.Status("channel %s %s", ev.Channel, ev.Kind)
			}
		},
	}
	cs, err := startConsumer(ctx, c, cb)
	if err != nil {
		return err
	}
	defer func() { _ = cs.Close() }()

	if _, err := cs.open(c, items, false); err != nil {
		return err
	}
	if view != nil {
		return view.Run(ctx)
	}
	<-ctx.Done()
	return nil
}

func statsSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Stream items for a while and report the session counters",
		ArgsUsage: "<item> [item...]",
		Flags: append(append(ReadOnlyFlags(), SessionFlags()...),
			&cli.DurationFlag{Name: "duration", Usage: "How long to stream", Value: defaultSnapshotTimeout},
		),
		Action: statsSessionAction,
	}
}

func statsSessionAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	ctx, cancelDuration := context.WithTimeout(ctx, c.Duration("duration"))
	defer cancelDuration()

	cs, err := startConsumer(ctx, c, session.Callbacks{})
	if err != nil {
		return err
	}
	defer func() { _ = cs.Close() }()

	if items := c.Args().Slice(); len(items) > 0 {
		if _, err := cs.open(c, items, false); err != nil {
			return err
		}
	}
	<-ctx.Done()

	snap := cs.Metrics().Snapshot()
	if c.Bool("tui") {
		return r.RenderTUI("stats_session", snap)
	}
	return r.Render(snap)
}

// consumer is a running consumer session and its environment.
type consumer struct {
	*session.Session
	env *sessionEnv
}

// startConsumer builds a consumer session from --config and the session
// flags and starts it.
func startConsumer(ctx context.Context, c *cli.Context, cb session.Callbacks) (*consumer, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := applySessionFlags(c, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Channels) == 0 {
		return nil, cli.Exit("no channels: pass --connect or configure channels", 1)
	}
	cfg.Session.Role = string(session.RoleConsumer)

	env, err := newSessionEnv(ctx, cfg, session.RoleConsumer, c.String("dictionary"))
	if err != nil {
		return nil, err
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	sc.Dispatch = session.DispatchAPI
	sc.Callbacks = cb
	userChannel := sc.Callbacks.OnChannel
	sc.Callbacks.OnChannel = func(ev session.ChannelEvent) {
		fields := map[string]any{"channel": ev.Channel, "event": ev.Kind.String(), "remote": ev.Remote}
		if ev.Err != nil {
			fields["error"] = ev.Err.Error()
		}
		env.logger.Debug("channel event", fields)
		if userChannel != nil {
			userChannel(ev)
		}
	}
	env.apply(&sc)

	s, err := session.New(sc)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		_ = env.Close()
		return nil, err
	}
	if err := serveMetrics(ctx, cfg.Metrics.Listen, env); err != nil {
		_ = s.Close()
		_ = env.Close()
		return nil, err
	}
	return &consumer{Session: s, env: env}, nil
}

// open requests items on the configured service, batching when there is
// more than one.
func (cs *consumer) open(c *cli.Context, items []string, snapshot bool) ([]watchlist.Handle, error) {
	service := c.String("service")
	if service == "" {
		return nil, cli.Exit("--service is required", 1)
	}
	domain, ok := msg.ParseDomain(c.String("domain"))
	if !ok {
		return nil, cli.Exit(fmt.Sprintf("unknown domain %q", c.String("domain")), 1)
	}
	req := watchlist.OpenRequest{
		Domain:   domain,
		Service:  service,
		Snapshot: snapshot,
	}
	if c.IsSet("view") {
		ids := c.IntSlice("view")
		req.View = &watchlist.View{FieldIDs: make([]int16, 0, len(ids))}
		for _, id := range ids {
			req.View.FieldIDs = append(req.View.FieldIDs, int16(id))
		}
	}
	if len(items) == 1 {
		req.Name = items[0]
		h, err := cs.Open(req)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", items[0], err)
		}
		return []watchlist.Handle{h}, nil
	}
	handles, err := cs.OpenBatch(req, items)
	if err != nil {
		return nil, fmt.Errorf("open batch: %w", err)
	}
	return handles, nil
}

// Close closes the session, then flushes its environment.
func (cs *consumer) Close() error {
	err := cs.Session.Close()
	if envErr := cs.env.Close(); err == nil {
		err = envErr
	}
	return err
}

// applySessionFlags overrides the config file with the session flags.
func applySessionFlags(c *cli.Context, cfg *config.Config) error {
	if addrs := c.StringSlice("connect"); len(addrs) > 0 {
		cfg.Channels = cfg.Channels[:0]
		for i, addr := range addrs {
			cc := config.ChannelConfig{
				Name:      fmt.Sprintf("channel_%d", i+1),
				Transport: channel.TransportTCP,
				Address:   addr,
			}
			if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
				cc.Transport = channel.TransportWebSocket
			}
			cfg.Channels = append(cfg.Channels, cc)
		}
	}
	if v := c.String("user"); v != "" {
		cfg.Session.Login.User = v
	}
	if v := c.String("metrics-listen"); v != "" {
		cfg.Metrics.Listen = v
	}
	return cfg.Validate()
}

// imageSet tracks the images of the requested items. Callbacks run on
// the dispatch goroutine while readers wait on done.
type imageSet struct {
	mu      sync.Mutex
	order   []string
	images  map[string]*reader.ItemImage
	pending map[string]bool
	done    chan struct{}
}

func newImageSet(items []string) *imageSet {
	s := &imageSet{
		images:  make(map[string]*reader.ItemImage, len(items)),
		pending: make(map[string]bool, len(items)),
		done:    make(chan struct{}),
	}
	for _, item := range items {
		if _, dup := s.images[item]; dup {
			continue
		}
		s.order = append(s.order, item)
		s.images[item] = &reader.ItemImage{Item: item}
		s.pending[item] = true
	}
	return s
}

// apply is a session callback.
func (s *imageSet) apply(m *msg.Msg, ev *session.EventContext) {
	s.applyOne(m, ev)
}

// applyOne folds m into the image of its item and returns a copy. An item
// stops pending on a complete refresh or a non-open stream state.
func (s *imageSet) applyOne(m *msg.Msg, ev *session.EventContext) (reader.ItemImage, bool) {
	name := ev.Key.NameString()
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[name]
	if !ok {
		return reader.ItemImage{}, false
	}
	img.Service = ev.Service
	img.Channel = ev.Channel
	if err := img.Apply(m, ev.Dictionary, ev.Version); err != nil {
		img.Text = err.Error()
	}
	if s.pending[name] && finished(m) {
		delete(s.pending, name)
		if len(s.pending) == 0 {
			close(s.done)
		}
	}
	out := *img
	out.Fields = append(out.Fields[:0:0], img.Fields...)
	return out, true
}

func finished(m *msg.Msg) bool {
	if r, ok := m.Body.(*msg.Refresh); ok && r.Complete() {
		return true
	}
	st, ok := reader.State(m)
	return ok && st.Stream != codec.StreamStateOpen && st.Stream != codec.StreamStateUnspecified
}

func (s *imageSet) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// list returns the images in request order.
func (s *imageSet) list() []reader.ItemImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reader.ItemImage, 0, len(s.order))
	for _, item := range s.order {
		img := *s.images[item]
		img.Fields = append(img.Fields[:0:0], img.Fields...)
		out = append(out, img)
	}
	return out
}
