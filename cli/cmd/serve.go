package cmd

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/channel"
	"github.com/pithecene-io/sluice/cli/config"
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/session"
	"github.com/pithecene-io/sluice/watchlist"
)

// Field ids of the served quote.
const (
	fidBid    int16 = 22
	fidAsk    int16 = 25
	fidTrdprc int16 = 6
)

// defaultUpdateInterval paces updates when provider.update_interval is unset.
const defaultUpdateInterval = time.Second

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run an interactive provider publishing simulated quotes",
		Flags: []cli.Flag{
			ConfigFlag,
			DictionaryFlag,
			&cli.StringFlag{Name: "listen", Usage: "Listen address (overrides provider.listen)"},
			&cli.StringFlag{Name: "transport", Usage: "tcp or websocket (overrides provider.transport)"},
			&cli.DurationFlag{Name: "update-interval", Usage: "Update pace (overrides provider.update_interval)"},
			&cli.StringFlag{Name: "metrics-listen", Usage: "Serve prometheus metrics on this address"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	pc := &cfg.Provider
	if v := c.String("listen"); v != "" {
		pc.Listen = v
	}
	if v := c.String("transport"); v != "" {
		pc.Transport = v
	}
	if v := c.Duration("update-interval"); v > 0 {
		pc.UpdateInterval.Duration = v
	}
	if v := c.String("metrics-listen"); v != "" {
		cfg.Metrics.Listen = v
	}
	if pc.Listen == "" {
		return cli.Exit("--listen or provider.listen is required", 1)
	}
	if len(pc.Services) == 0 {
		return cli.Exit("provider.services is empty", 1)
	}
	cfg.Session.Role = string(session.RoleProvider)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	env, err := newSessionEnv(ctx, cfg, session.RoleProvider, c.String("dictionary"))
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	sc, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	q := newQuoteBook(pc.Services)
	sc.Callbacks = q.callbacks()
	env.apply(&sc)

	httpSrv, err := providerListener(pc, &sc)
	if err != nil {
		return err
	}
	s, err := session.New(sc)
	if err != nil {
		return err
	}
	q.session = s

	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}
	if httpSrv != nil {
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				env.logger.Error("websocket server failed", map[string]any{"listen": pc.Listen, "error": err.Error()})
				cancel()
			}
		}()
	}
	if err := serveMetrics(ctx, cfg.Metrics.Listen, env); err != nil {
		_ = s.Close()
		return err
	}
	env.logger.Info("provider serving", map[string]any{
		"listen":    pc.Listen,
		"transport": transportName(cfg),
		"services":  len(pc.Services),
	})

	interval := pc.UpdateInterval.Duration
	if interval <= 0 {
		interval = defaultUpdateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if httpSrv != nil {
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), metricsShutdownTimeout)
				_ = httpSrv.Shutdown(shutdownCtx)
				cancelShutdown()
			}
			return s.Close()
		case <-ticker.C:
			q.tick(env)
		}
	}
}

// providerListener adds the listener of pc to sc. A websocket listener
// also needs the returned http server.
func providerListener(pc *config.ProviderConfig, sc *session.Config) (*http.Server, error) {
	if pc.Transport != channel.TransportWebSocket {
		l, err := channel.ListenTCP(pc.Listen)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", pc.Listen, err)
		}
		sc.Listeners = append(sc.Listeners, l)
		return nil, nil
	}
	path := pc.Path
	if path == "" {
		path = "/"
	}
	h := channel.NewWebSocketHandler(pc.Listen)
	sc.Listeners = append(sc.Listeners, h)
	mux := http.NewServeMux()
	mux.Handle(path, h)
	return &http.Server{Addr: pc.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, nil
}

// quoteStream is one open streaming request.
type quoteStream struct {
	channel  string
	streamID int32
	domain   msg.Domain
	key      *msg.Key
	version  codec.Version
	view     *watchlist.View
}

// quoteBook answers item requests with simulated quotes and walks their
// prices on every tick.
type quoteBook struct {
	session *session.Session

	mu       sync.Mutex
	items    map[uint16][]string
	prices   map[string]decimal.Decimal
	streams  []quoteStream
	sequence uint32
}

func newQuoteBook(services []config.ServiceConfig) *quoteBook {
	q := &quoteBook{
		items:  make(map[uint16][]string, len(services)),
		prices: make(map[string]decimal.Decimal),
	}
	for _, svc := range services {
		q.items[svc.ID] = svc.Items
		for _, item := range svc.Items {
			q.prices[item] = seedPrice(item)
		}
	}
	return q
}

// seedPrice derives a stable starting price from the item name.
func seedPrice(item string) decimal.Decimal {
	h := fnv.New32a()
	_, _ = h.Write([]byte(item))
	return decimal.New(int64(1000+h.Sum32()%99000), -2)
}

func (q *quoteBook) callbacks() session.Callbacks {
	return session.Callbacks{
		OnRequest: q.onRequest,
		OnClose:   q.onClose,
		OnChannel: func(ev session.ChannelEvent) {
			if ev.Kind == session.ChannelDown {
				q.dropChannel(ev.Channel)
			}
		},
	}
}

func (q *quoteBook) onRequest(m *msg.Msg, ev *session.EventContext) {
	req, ok := m.Body.(*msg.Request)
	if !ok || m.Key == nil {
		return
	}
	batch := req.Flags&msg.RequestHasBatch != 0
	var view *watchlist.View
	var names []string
	if m.ContainerType == codec.DataTypeElementList && len(m.Payload) > 0 {
		v, items, err := watchlist.ParseRequestPayload(m.Payload)
		if err != nil {
			q.reject(ev.Channel, m.Domain, m.StreamID, m.Key.Clone(), codec.StateCodeUsageError, "invalid request payload")
			return
		}
		if req.Flags&msg.RequestHasView != 0 {
			view = v
		}
		names = items
	}
	if !batch {
		q.answer(ev, m.Domain, m.StreamID, m.Key.Clone(), req, view)
		return
	}
	// Batch items are answered on the stream ids following the batch.
	for i, name := range names {
		key := msg.NameKey(m.Key.ServiceID, name)
		q.answer(ev, m.Domain, m.StreamID+int32(i)+1, key, req, view)
	}
	_ = q.session.Submit(ev.Channel, &msg.Msg{
		Domain:        m.Domain,
		StreamID:      m.StreamID,
		ContainerType: codec.DataTypeNoData,
		Body: &msg.Status{
			Flags: msg.StatusHasState,
			State: codec.State{
				Stream: codec.StreamStateClosed,
				Data:   codec.DataStateOK,
				Text:   []byte(fmt.Sprintf("processed %d items", len(names))),
			},
		},
	})
}

// answer sends the refresh of one item, or a not found status, and tracks
// streaming requests.
func (q *quoteBook) answer(ev *session.EventContext, domain msg.Domain, streamID int32, key *msg.Key, req *msg.Request, view *watchlist.View) {
	item := key.NameString()

	q.mu.Lock()
	price, known := q.prices[item]
	known = known && slices.Contains(q.items[key.ServiceID], item)
	if known && req.Streaming() {
		q.streams = slices.DeleteFunc(q.streams, func(s quoteStream) bool {
			return s.channel == ev.Channel && s.streamID == streamID
		})
		q.streams = append(q.streams, quoteStream{
			channel:  ev.Channel,
			streamID: streamID,
			domain:   domain,
			key:      key,
			version:  ev.Version,
			view:     view,
		})
	}
	q.mu.Unlock()

	if !known {
		q.reject(ev.Channel, domain, streamID, key, codec.StateCodeNotFound, "item not found")
		return
	}
	payload, err := quotePayload(price, view, ev.Version)
	if err != nil {
		q.reject(ev.Channel, domain, streamID, key, codec.StateCodeUsageError, err.Error())
		return
	}
	flags := msg.RefreshComplete | msg.RefreshClearCache
	if req.Flags&msg.RequestNoRefresh == 0 {
		flags |= msg.RefreshSolicited
	}
	st := codec.State{Stream: codec.StreamStateOpen, Data: codec.DataStateOK}
	if !req.Streaming() {
		st.Stream = codec.StreamStateNonStreaming
	}
	_ = q.session.Submit(ev.Channel, &msg.Msg{
		Domain:        domain,
		StreamID:      streamID,
		ContainerType: codec.DataTypeFieldList,
		Key:           key,
		Payload:       payload,
		Body:          &msg.Refresh{Flags: flags, State: st},
	})
}

func (q *quoteBook) reject(channel string, domain msg.Domain, streamID int32, key *msg.Key, code codec.StateCode, text string) {
	_ = q.session.Submit(channel, &msg.Msg{
		Domain:        domain,
		StreamID:      streamID,
		ContainerType: codec.DataTypeNoData,
		Key:           key,
		Body: &msg.Status{
			Flags: msg.StatusHasState,
			State: codec.State{
				Stream: codec.StreamStateClosed,
				Data:   codec.DataStateSuspect,
				Code:   code,
				Text:   []byte(text),
			},
		},
	})
}

func (q *quoteBook) onClose(m *msg.Msg, ev *session.EventContext) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streams = slices.DeleteFunc(q.streams, func(s quoteStream) bool {
		return s.channel == ev.Channel && s.streamID == m.StreamID
	})
}

func (q *quoteBook) dropChannel(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streams = slices.DeleteFunc(q.streams, func(s quoteStream) bool { return s.channel == name })
}

// tick moves every price by up to ten cents and sends an update on each
// open stream.
func (q *quoteBook) tick(env *sessionEnv) {
	q.mu.Lock()
	for item, p := range q.prices {
		step := decimal.New(int64(rand.IntN(21)-10), -2)
		if next := p.Add(step); next.IsPositive() {
			q.prices[item] = next
		}
	}
	q.sequence++
	streams := slices.Clone(q.streams)
	prices := make(map[string]decimal.Decimal, len(streams))
	for _, s := range streams {
		prices[s.key.NameString()] = q.prices[s.key.NameString()]
	}
	seq := q.sequence
	q.mu.Unlock()

	for _, s := range streams {
		payload, err := quotePayload(prices[s.key.NameString()], s.view, s.version)
		if err != nil {
			continue
		}
		update := &msg.Msg{
			Domain:        s.domain,
			StreamID:      s.streamID,
			ContainerType: codec.DataTypeFieldList,
			Payload:       payload,
			Body: &msg.Update{
				Flags:      msg.UpdateHasSeqNum,
				UpdateType: msg.UpdateQuote,
				SeqNum:     seq,
			},
		}
		if err := q.session.Submit(s.channel, update); err != nil {
			env.logger.Debug("update dropped", map[string]any{
				"channel": s.channel,
				"stream":  s.streamID,
				"error":   err.Error(),
			})
		}
	}
}

// quotePayload encodes last trade, bid and ask around price, limited to
// the fields of view when it is set.
func quotePayload(price decimal.Decimal, view *watchlist.View, v codec.Version) ([]byte, error) {
	spread := decimal.New(1, -2)
	fields := make([]dictionary.FieldValue, 0, 3)
	for _, f := range []struct {
		fid   int16
		value decimal.Decimal
	}{
		{fidTrdprc, price},
		{fidBid, price.Sub(spread)},
		{fidAsk, price.Add(spread)},
	} {
		if view != nil && !slices.Contains(view.FieldIDs, f.fid) {
			continue
		}
		r, err := codec.RealFromDecimal(f.value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, dictionary.FieldValue{FieldID: f.fid, Value: r})
	}
	return dictionary.EncodeFieldList(fields, v)
}
