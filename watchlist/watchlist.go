package watchlist

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/msg"
)

type kind uint8

const (
	kindItem kind = iota
	kindBatch
	kindTunnel
	kindSubstream
)

type stream struct {
	handle   Handle
	kind     kind
	id       int32
	domain   msg.Domain
	key      *msg.Key
	service  string
	route    Route
	state    State
	flags    msg.RequestFlags
	priority *Priority
	qos      *codec.Qos
	view     *View
	closure  any

	containerType codec.DataType
	payload       []byte

	// batch is set on a batch item until the provider assigns its stream id.
	batch *stream
	// pending holds the items of a batch request still awaiting ids.
	pending []*stream

	tunnel  *stream
	subs    map[int32]*stream
	nextSub int32
	cos     ClassOfService
	// queued marks a substream waiting for its tunnel to open.
	queued bool
}

func (s *stream) private() bool { return s.flags&msg.RequestPrivateStream != 0 }

// channelRoute is the route messages for s travel on.
func (s *stream) channelRoute() Route {
	if s.tunnel != nil {
		return s.tunnel.route
	}
	return s.route
}

type postKey struct {
	tunnel   Handle
	streamID int32
	postID   uint32
}

type pendingPost struct {
	handle   Handle
	channel  string
	domain   msg.Domain
	deadline time.Time
	closure  any
}

// Watchlist owns the request streams of one consumer session.
type Watchlist struct {
	cfg    Config
	logger *log.Logger

	mu         sync.Mutex
	streams    *btree.Map[int32, *stream]
	handles    map[Handle]*stream
	batches    []*stream
	posts      map[postKey]*pendingPost
	nextHandle Handle
	nextID     int32
	nextPostID uint32
	queue      []Event
}

// New creates a watchlist.
func New(cfg Config) *Watchlist {
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Handler == nil {
		cfg.Handler = func(*Event) {}
	}
	return &Watchlist{
		cfg:     cfg,
		logger:  cfg.Logger.WithComponent("watchlist"),
		streams: btree.NewMap[int32, *stream](32),
		handles: make(map[Handle]*stream),
		posts:   make(map[postKey]*pendingPost),
		nextID:  FirstStreamID,
	}
}

func invalidHandle(op string, h Handle) error {
	return failure.Wrap(failure.ErrInvalidHandle, op, fmt.Errorf("unknown handle %d", h))
}

func checkOpen(op string, req *OpenRequest, needName bool) error {
	if req.Domain == 0 || req.Domain == msg.DomainLogin {
		return failure.Usage(op, "domain %s cannot be requested", req.Domain)
	}
	if needName && req.Name == "" {
		return failure.Usage(op, "item name required")
	}
	return nil
}

// newItem builds an unregistered item stream from req.
func newItem(req *OpenRequest) (*stream, error) {
	s := &stream{
		kind:          kindItem,
		domain:        req.Domain,
		service:       req.Service,
		priority:      req.Priority,
		qos:           req.Qos,
		view:          req.View,
		closure:       req.Closure,
		containerType: req.ContainerType,
		payload:       req.Payload,
		key:           itemKey(req.Name, req.NameType),
	}
	if !req.Snapshot {
		s.flags |= msg.RequestStreaming
	}
	if req.Private {
		s.flags |= msg.RequestPrivateStream
	}
	if req.Priority != nil {
		s.flags |= msg.RequestHasPriority
	}
	if req.Qos != nil {
		s.flags |= msg.RequestHasQos
	}
	if req.View != nil {
		if err := s.setView(req.View); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func itemKey(name string, nameType uint8) *msg.Key {
	k := &msg.Key{}
	if name != "" {
		k.Flags |= msg.KeyHasName
		k.Name = []byte(name)
	}
	if nameType != 0 {
		k.Flags |= msg.KeyHasNameType
		k.NameType = nameType
	}
	return k
}

func (s *stream) setView(v *View) error {
	payload, err := requestPayload(v, nil)
	if err != nil {
		return err
	}
	s.view = v
	s.flags |= msg.RequestHasView
	s.containerType = codec.DataTypeElementList
	s.payload = payload
	return nil
}

func (w *Watchlist) newHandle() Handle {
	w.nextHandle++
	return w.nextHandle
}

// allocate reserves n consecutive stream ids.
func (w *Watchlist) allocate(n int) int32 {
	id := w.nextID
	w.nextID += int32(n)
	return id
}

func (w *Watchlist) register(s *stream) {
	s.handle = w.newHandle()
	s.id = w.allocate(1)
	w.handles[s.handle] = s
	w.streams.Set(s.id, s)
}

// Open requests an item and returns its handle. Routing and send failures
// do not fail the call: the stream waits in StateClosedRecoverable and a
// Status is delivered on the next dispatch.
func (w *Watchlist) Open(req OpenRequest) (Handle, error) {
	const op = "watchlist open"
	if err := checkOpen(op, &req, true); err != nil {
		return 0, err
	}
	if req.Service == "" {
		return 0, failure.Usage(op, "service required")
	}
	s, err := newItem(&req)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.register(s)
	w.request(s, "no service available")
	return s.handle, nil
}

// OpenBatch requests several items of one domain and service with a
// single batch request. It returns one handle per name, in order.
func (w *Watchlist) OpenBatch(req OpenRequest, names []string) ([]Handle, error) {
	const op = "watchlist open batch"
	if err := checkOpen(op, &req, false); err != nil {
		return nil, err
	}
	if req.Service == "" {
		return nil, failure.Usage(op, "service required")
	}
	if len(names) == 0 {
		return nil, failure.Usage(op, "batch has no items")
	}
	payload, err := requestPayload(req.View, names)
	if err != nil {
		return nil, err
	}
	items := make([]*stream, len(names))
	for i, name := range names {
		r := req
		r.Name = name
		if items[i], err = newItem(&r); err != nil {
			return nil, err
		}
	}
	parent, _ := newItem(&OpenRequest{Domain: req.Domain, Service: req.Service, Snapshot: req.Snapshot, Private: req.Private})
	parent.kind = kindBatch
	parent.flags |= msg.RequestHasBatch
	if req.View != nil {
		parent.flags |= msg.RequestHasView
	}
	parent.containerType = codec.DataTypeElementList
	parent.payload = payload

	w.mu.Lock()
	defer w.mu.Unlock()
	// Item ids are assigned by the provider; keep the range after the
	// batch stream free.
	parent.id = w.allocate(1 + len(names))
	w.streams.Set(parent.id, parent)
	handles := make([]Handle, len(names))
	for i, item := range items {
		item.handle = w.newHandle()
		item.batch = parent
		w.handles[item.handle] = item
		handles[i] = item.handle
	}
	parent.pending = items

	if !w.reroute(parent, nil) {
		w.streams.Delete(parent.id)
		w.releaseBatch(parent, nil, "no service available")
		return handles, nil
	}
	for _, item := range items {
		item.route = parent.route
		item.state = StatePendingRequest
	}
	w.batches = append(w.batches, parent)
	return handles, nil
}

// releaseBatch turns the unbound items of a batch into individual requests.
func (w *Watchlist) releaseBatch(b *stream, exclude []Route, text string) {
	items := b.pending
	b.pending = nil
	w.batches = slices.DeleteFunc(w.batches, func(o *stream) bool { return o == b })
	for _, item := range items {
		item.batch = nil
		item.id = w.allocate(1)
		w.streams.Set(item.id, item)
		if exclude != nil {
			item.state = StateClosedRecoverable
			w.enqueue(item, statusMsg(item, codec.StreamStateOpen, codec.DataStateSuspect, codec.StateCodeNone, text))
			if w.reroute(item, exclude) {
				w.cfg.Metrics.AddStreamsRecovered(1)
			}
			continue
		}
		w.request(item, text)
	}
}

// request routes s and sends its request. A stream with no route, or
// whose send fails, waits in StateClosedRecoverable.
func (w *Watchlist) request(s *stream, text string) {
	if w.reroute(s, nil) {
		return
	}
	s.state = StateClosedRecoverable
	w.enqueue(s, statusMsg(s, codec.StreamStateOpen, codec.DataStateSuspect, codec.StateCodeNone, text))
}

// reroute sends the request of s on the first route not in exclude.
func (w *Watchlist) reroute(s *stream, exclude []Route) bool {
	route, ok := w.cfg.Router.Route(s.service, s.domain, exclude)
	if !ok {
		s.route = Route{}
		return false
	}
	s.route = route
	if err := w.send(s, w.requestMsg(s, 0)); err != nil {
		w.logger.Warn("request send failed", map[string]any{
			"channel":   route.Channel,
			"stream_id": s.id,
			"error":     err.Error(),
		})
		s.route = Route{}
		return false
	}
	s.state = StatePendingRequest
	return true
}

func (w *Watchlist) requestMsg(s *stream, extra msg.RequestFlags) *msg.Msg {
	body := &msg.Request{Flags: s.flags | extra}
	if s.priority != nil {
		body.PriorityClass = s.priority.Class
		body.PriorityCount = s.priority.Count
	}
	if s.qos != nil {
		body.Qos = *s.qos
	}
	key := s.key.Clone()
	key.Flags |= msg.KeyHasServiceID
	key.ServiceID = s.channelRoute().ServiceID
	ct := s.containerType
	if ct == codec.DataTypeUnknown {
		ct = codec.DataTypeNoData
	}
	return &msg.Msg{
		Domain:        s.domain,
		StreamID:      s.id,
		ContainerType: ct,
		Key:           key,
		Payload:       s.payload,
		Body:          body,
	}
}

func (w *Watchlist) send(s *stream, m *msg.Msg) error {
	if s.tunnel != nil {
		return w.sendOnTunnel(s.tunnel, m)
	}
	return w.cfg.Sink.Send(s.route.Channel, m)
}

func statusMsg(s *stream, ss codec.StreamState, ds codec.DataState, code codec.StateCode, text string) *msg.Msg {
	body := &msg.Status{
		Flags: msg.StatusHasState,
		State: codec.State{Stream: ss, Data: ds, Code: code, Text: []byte(text)},
	}
	if s.private() {
		body.Flags |= msg.StatusPrivateStream
	}
	return &msg.Msg{
		Domain:        s.domain,
		StreamID:      s.id,
		ContainerType: codec.DataTypeNoData,
		Body:          body,
	}
}

func closeMsg(s *stream) *msg.Msg {
	return &msg.Msg{
		Domain:        s.domain,
		StreamID:      s.id,
		ContainerType: codec.DataTypeNoData,
		Body:          &msg.Close{},
	}
}

// Reissue changes an open or pending request. Unless NoRefresh is set the
// stream moves to StatePendingReissue until the new refresh completes.
func (w *Watchlist) Reissue(h Handle, req ReissueRequest) error {
	const op = "watchlist reissue"
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.handles[h]
	if !ok {
		return invalidHandle(op, h)
	}
	if s.batch != nil || s.queued {
		return failure.Usage(op, "stream for handle %d not yet open", h)
	}
	if !s.state.IsOpen() && s.state != StatePendingRequest {
		return failure.Usage(op, "cannot reissue a stream in state %s", s.state)
	}
	if req.View != nil {
		if err := s.setView(req.View); err != nil {
			return err
		}
	}
	if req.Priority != nil {
		s.priority = req.Priority
		s.flags |= msg.RequestHasPriority
	}
	var extra msg.RequestFlags
	if req.Pause {
		extra |= msg.RequestPause
	}
	if req.NoRefresh {
		extra |= msg.RequestNoRefresh
	}
	if err := w.send(s, w.requestMsg(s, extra)); err != nil {
		return err
	}
	if !req.NoRefresh && s.state.IsOpen() {
		s.state = StatePendingReissue
	}
	return nil
}

// Close ends the request. The handle is invalid afterwards; messages still
// in flight for it are dropped.
func (w *Watchlist) Close(h Handle) error {
	const op = "watchlist close"
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.handles[h]
	if !ok {
		return invalidHandle(op, h)
	}
	if s.batch == nil && !s.queued && (s.state == StatePendingRequest || s.state.IsOpen()) {
		if err := w.send(s, closeMsg(s)); err != nil {
			w.logger.Debug("close send failed", map[string]any{"stream_id": s.id, "error": err.Error()})
		}
	}
	w.remove(s)
	w.closeSubstreams(s, "tunnel closed")
	return nil
}

// remove drops s from every index.
func (w *Watchlist) remove(s *stream) {
	if _, ok := w.handles[s.handle]; !ok {
		return
	}
	delete(w.handles, s.handle)
	switch {
	case s.tunnel != nil:
		delete(s.tunnel.subs, s.id)
	case s.batch != nil:
		b := s.batch
		b.pending = slices.DeleteFunc(b.pending, func(o *stream) bool { return o == s })
		s.batch = nil
		if len(b.pending) == 0 {
			w.dropBatch(b)
		}
	default:
		if cur, ok := w.streams.Get(s.id); ok && cur == s {
			w.streams.Delete(s.id)
		}
	}
	s.state = StateClosed
	w.cfg.Metrics.IncStreamClosed()
}

// dropBatch forgets a batch with no pending items and closes its stream
// if the provider has not closed it yet.
func (w *Watchlist) dropBatch(b *stream) {
	w.batches = slices.DeleteFunc(w.batches, func(o *stream) bool { return o == b })
	if cur, ok := w.streams.Get(b.id); ok && cur == b {
		if b.route.Channel != "" {
			if err := w.send(b, closeMsg(b)); err != nil {
				w.logger.Debug("batch close send failed", map[string]any{"stream_id": b.id, "error": err.Error()})
			}
		}
		w.streams.Delete(b.id)
	}
	b.state = StateClosed
}

// closeSubstreams closes every substream of tunnel t with a Closed status.
func (w *Watchlist) closeSubstreams(t *stream, text string) {
	if t.kind != kindTunnel {
		return
	}
	ids := make([]int32, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		sub := t.subs[id]
		w.remove(sub)
		w.enqueue(sub, statusMsg(sub, codec.StreamStateClosed, codec.DataStateSuspect, codec.StateCodeNone, text))
	}
}

// Post sends a post on the open stream of h and returns its post id.
func (w *Watchlist) Post(h Handle, req PostRequest) (uint32, error) {
	const op = "watchlist post"
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.handles[h]
	if !ok {
		return 0, invalidHandle(op, h)
	}
	if s.state != StateOpenStreaming && s.state != StatePendingReissue {
		return 0, failure.Usage(op, "cannot post on a stream in state %s", s.state)
	}
	m, postID := w.postMsg(s.domain, s.id, &req)
	if err := w.send(s, m); err != nil {
		return 0, err
	}
	var tunnel Handle
	if s.tunnel != nil {
		tunnel = s.tunnel.handle
	}
	closure := req.Closure
	if closure == nil {
		closure = s.closure
	}
	w.track(&req, postKey{tunnel: tunnel, streamID: s.id, postID: postID}, h, s.channelRoute().Channel, s.domain, closure)
	return postID, nil
}

// PostOffStream sends a post for req.Key on the login stream of the
// channel serving req.Service.
func (w *Watchlist) PostOffStream(d msg.Domain, req PostRequest) (uint32, error) {
	const op = "watchlist post off-stream"
	if req.Key == nil {
		return 0, failure.Usage(op, "off-stream post requires a key")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	route, ok := w.cfg.Router.Route(req.Service, d, nil)
	if !ok {
		return 0, failure.Wrap(failure.ErrServiceUnavailable, op, fmt.Errorf("service %q", req.Service))
	}
	key := req.Key.Clone()
	key.Flags |= msg.KeyHasServiceID
	key.ServiceID = route.ServiceID
	req.Key = key
	m, postID := w.postMsg(d, LoginStreamID, &req)
	if err := w.cfg.Sink.Send(route.Channel, m); err != nil {
		return 0, err
	}
	w.track(&req, postKey{streamID: LoginStreamID, postID: postID}, 0, route.Channel, d, req.Closure)
	return postID, nil
}

func (w *Watchlist) postMsg(d msg.Domain, streamID int32, req *PostRequest) (*msg.Msg, uint32) {
	postID := req.PostID
	if postID == 0 {
		w.nextPostID++
		postID = w.nextPostID
	}
	body := &msg.Post{
		Flags:        msg.PostHasPostID | msg.PostComplete,
		PostUserInfo: w.cfg.PostUserInfo,
		PostID:       postID,
	}
	if req.Ack {
		body.Flags |= msg.PostAck
	}
	ct := req.ContainerType
	if ct == codec.DataTypeUnknown {
		ct = codec.DataTypeNoData
	}
	return &msg.Msg{
		Domain:        d,
		StreamID:      streamID,
		ContainerType: ct,
		Key:           req.Key,
		Payload:       req.Payload,
		Body:          body,
	}, postID
}

func (w *Watchlist) track(req *PostRequest, k postKey, h Handle, channel string, d msg.Domain, closure any) {
	w.cfg.Metrics.IncPostSent()
	if !req.Ack {
		return
	}
	p := &pendingPost{handle: h, channel: channel, domain: d, closure: closure}
	if w.cfg.PostAckTimeout > 0 {
		p.deadline = w.cfg.Now().Add(w.cfg.PostAckTimeout)
	}
	w.posts[k] = p
}

// enqueue records an event for s. Events are delivered by the dispatch
// side methods once the watchlist lock is released.
func (w *Watchlist) enqueue(s *stream, m *msg.Msg) {
	route := s.channelRoute()
	ev := Event{
		Handle:  s.handle,
		Closure: s.closure,
		Msg:     m,
		Key:     s.key,
		Channel: route.Channel,
		Service: route.Service,
		State:   s.state,
	}
	if s.tunnel != nil {
		ev.Parent = s.tunnel.handle
	}
	w.queue = append(w.queue, ev)
}

func (w *Watchlist) deliver() {
	for {
		w.mu.Lock()
		q := w.queue
		w.queue = nil
		w.mu.Unlock()
		if len(q) == 0 {
			return
		}
		for i := range q {
			w.cfg.Handler(&q[i])
		}
	}
}

// OnMessage applies an inbound message read on channel.
func (w *Watchlist) OnMessage(channel string, m *msg.Msg) {
	w.mu.Lock()
	w.onMessage(channel, m)
	w.mu.Unlock()
	w.deliver()
}

func (w *Watchlist) onMessage(channel string, m *msg.Msg) {
	if ack, ok := m.Body.(*msg.Ack); ok && w.onAck(0, channel, m, ack) {
		return
	}
	s, ok := w.streams.Get(m.StreamID)
	if !ok {
		switch m.Class() {
		case msg.ClassRefresh, msg.ClassStatus:
			s = w.bindBatchItem(channel, m)
			ok = s != nil
		}
	}
	if !ok || s.route.Channel != channel || s.state == StateClosedRecoverable {
		w.dropLate(channel, m)
		return
	}
	switch s.kind {
	case kindBatch:
		w.onBatchStatus(s, m)
		return
	case kindTunnel:
		if _, ok := m.Body.(*msg.Generic); ok && m.ContainerType == codec.DataTypeMsg {
			w.onTunnelMsg(s, m)
			return
		}
	}
	w.apply(s, m)
}

func (w *Watchlist) dropLate(channel string, m *msg.Msg) {
	w.cfg.Metrics.IncLateDropped()
	w.logger.Debug("message dropped", map[string]any{
		"channel":   channel,
		"stream_id": m.StreamID,
		"class":     m.Class().String(),
	})
}

// bindBatchItem assigns the stream id of m to the batch item whose name
// matches the key of m.
func (w *Watchlist) bindBatchItem(channel string, m *msg.Msg) *stream {
	if m.Key == nil || m.Key.Flags&msg.KeyHasName == 0 {
		return nil
	}
	for _, b := range w.batches {
		if b.route.Channel != channel || b.domain != m.Domain {
			continue
		}
		for _, item := range b.pending {
			if string(item.key.Name) != string(m.Key.Name) {
				continue
			}
			b.pending = slices.DeleteFunc(b.pending, func(o *stream) bool { return o == item })
			if len(b.pending) == 0 {
				w.batches = slices.DeleteFunc(w.batches, func(o *stream) bool { return o == b })
			}
			item.batch = nil
			item.id = m.StreamID
			w.streams.Set(item.id, item)
			return item
		}
	}
	return nil
}

// onBatchStatus handles the provider closing the batch stream once every
// item has its own stream.
func (w *Watchlist) onBatchStatus(b *stream, m *msg.Msg) {
	st, ok := m.Body.(*msg.Status)
	if !ok || st.Flags&msg.StatusHasState == 0 {
		return
	}
	if st.State.Stream == codec.StreamStateOpen || st.State.Stream == codec.StreamStateNonStreaming {
		return
	}
	w.streams.Delete(b.id)
	if len(b.pending) == 0 {
		return
	}
	// A batch processed normally may close before its item refreshes arrive.
	if st.State.Stream == codec.StreamStateClosed && st.State.Data == codec.DataStateOK {
		return
	}
	// The provider rejected the batch: fail the remaining items with its state.
	for _, item := range slices.Clone(b.pending) {
		w.remove(item)
		w.enqueue(item, statusMsg(item, st.State.Stream, st.State.Data, st.State.Code, string(st.State.Text)))
	}
	w.batches = slices.DeleteFunc(w.batches, func(o *stream) bool { return o == b })
}

func (w *Watchlist) apply(s *stream, m *msg.Msg) {
	switch b := m.Body.(type) {
	case *msg.Refresh:
		w.onRefresh(s, m, b)
	case *msg.Status:
		w.onStatus(s, m, b)
	case *msg.Update:
		if !s.state.IsOpen() {
			w.dropLate(s.channelRoute().Channel, m)
			return
		}
		w.enqueue(s, m)
	case *msg.Generic, *msg.Ack, *msg.Post:
		w.enqueue(s, m)
	default:
		w.dropLate(s.channelRoute().Channel, m)
	}
}

func (w *Watchlist) onRefresh(s *stream, m *msg.Msg, b *msg.Refresh) {
	switch b.State.Stream {
	case codec.StreamStateClosed, codec.StreamStateRedirected:
		w.remove(s)
		w.closeSubstreams(s, "tunnel closed")
		w.enqueue(s, m)
		return
	case codec.StreamStateClosedRecover:
		w.recoverStream(s, m, b.State)
		return
	}
	wasOpen := s.state.IsOpen()
	if !b.Complete() {
		w.enqueue(s, m)
		return
	}
	if !wasOpen {
		w.cfg.Metrics.IncStreamOpened()
	}
	if s.flags&msg.RequestStreaming == 0 || b.State.Stream == codec.StreamStateNonStreaming {
		s.state = StateOpenSnapshot
		w.enqueue(s, m)
		if b.State.Stream == codec.StreamStateOpen {
			if err := w.send(s, closeMsg(s)); err != nil {
				w.logger.Debug("close send failed", map[string]any{"stream_id": s.id, "error": err.Error()})
			}
		}
		w.remove(s)
		return
	}
	s.state = StateOpenStreaming
	if s.kind == kindTunnel {
		w.onTunnelOpen(s, m)
	}
	w.enqueue(s, m)
}

func (w *Watchlist) onStatus(s *stream, m *msg.Msg, b *msg.Status) {
	if b.Flags&msg.StatusHasState == 0 {
		w.enqueue(s, m)
		return
	}
	switch b.State.Stream {
	case codec.StreamStateClosed, codec.StreamStateRedirected:
		w.remove(s)
		w.closeSubstreams(s, "tunnel closed")
		w.enqueue(s, m)
	case codec.StreamStateClosedRecover:
		w.recoverStream(s, m, b.State)
	default:
		w.enqueue(s, m)
	}
}

// recoverStream re-requests s on another route after the provider closed
// it as recoverable. Private streams, tunnels and substreams are closed.
func (w *Watchlist) recoverStream(s *stream, m *msg.Msg, st codec.State) {
	if s.private() || s.kind == kindTunnel || s.kind == kindSubstream {
		w.remove(s)
		w.closeSubstreams(s, "tunnel closed")
		w.enqueue(s, m)
		return
	}
	old := s.route
	s.state = StateClosedRecoverable
	if w.reroute(s, []Route{old}) {
		w.cfg.Metrics.AddStreamsRecovered(1)
		w.enqueue(s, statusMsg(s, codec.StreamStateOpen, codec.DataStateSuspect, st.Code, string(st.Text)))
		return
	}
	w.enqueue(s, m)
}

func (w *Watchlist) onAck(tunnel Handle, channel string, m *msg.Msg, ack *msg.Ack) bool {
	k := postKey{tunnel: tunnel, streamID: m.StreamID, postID: ack.AckID}
	p, ok := w.posts[k]
	if !ok || p.channel != channel {
		return false
	}
	delete(w.posts, k)
	if ack.IsNak() {
		w.cfg.Metrics.IncNak()
	} else {
		w.cfg.Metrics.IncAck()
	}
	w.enqueuePostResult(p, m)
	return true
}

func (w *Watchlist) enqueuePostResult(p *pendingPost, m *msg.Msg) {
	if s, ok := w.handles[p.handle]; ok && p.handle != 0 {
		w.enqueue(s, m)
		w.queue[len(w.queue)-1].Closure = p.closure
		return
	}
	w.queue = append(w.queue, Event{
		Handle:  p.handle,
		Closure: p.closure,
		Msg:     m,
		Channel: p.channel,
		State:   StateClosed,
	})
}

// ChannelDown moves every stream on channel to StateClosedRecoverable,
// delivers one Status per stream and re-requests on the remaining routes.
// Private streams and tunnels are closed.
func (w *Watchlist) ChannelDown(channel string) {
	w.mu.Lock()
	var affected []*stream
	w.streams.Scan(func(_ int32, s *stream) bool {
		if s.route.Channel == channel && s.state != StateClosedRecoverable {
			affected = append(affected, s)
		}
		return true
	})
	for _, b := range slices.Clone(w.batches) {
		if b.route.Channel == channel {
			w.streams.Delete(b.id)
			w.releaseBatch(b, []Route{b.route}, "channel down")
		}
	}
	recovered := 0
	for _, s := range affected {
		switch {
		case s.kind == kindBatch:
			w.streams.Delete(s.id)
		case s.private() || s.kind == kindTunnel:
			w.remove(s)
			w.closeSubstreams(s, "channel down")
			w.enqueue(s, statusMsg(s, codec.StreamStateClosedRecover, codec.DataStateSuspect, codec.StateCodeNone, "channel down"))
		default:
			old := s.route
			s.state = StateClosedRecoverable
			w.enqueue(s, statusMsg(s, codec.StreamStateOpen, codec.DataStateSuspect, codec.StateCodeNone, "channel down"))
			if w.reroute(s, []Route{old}) {
				recovered++
			}
		}
	}
	w.cfg.Metrics.AddStreamsRecovered(recovered)
	w.mu.Unlock()
	w.deliver()
}

// Recover re-requests every stream waiting in StateClosedRecoverable and
// returns how many were sent. The session calls it when a channel comes up
// or the directory reports a service as available.
func (w *Watchlist) Recover() int {
	w.mu.Lock()
	var waiting []*stream
	w.streams.Scan(func(_ int32, s *stream) bool {
		if s.state == StateClosedRecoverable {
			waiting = append(waiting, s)
		}
		return true
	})
	n := 0
	for _, s := range waiting {
		if w.reroute(s, nil) {
			n++
		}
	}
	w.cfg.Metrics.AddStreamsRecovered(n)
	w.mu.Unlock()
	w.deliver()
	return n
}

// Tick NAKs every post whose acknowledgement is overdue at now.
func (w *Watchlist) Tick(now time.Time) {
	w.mu.Lock()
	type expired struct {
		k postKey
		p *pendingPost
	}
	var due []expired
	for k, p := range w.posts {
		if !p.deadline.IsZero() && !now.Before(p.deadline) {
			due = append(due, expired{k, p})
		}
	}
	slices.SortFunc(due, func(a, b expired) int {
		if c := a.p.deadline.Compare(b.p.deadline); c != 0 {
			return c
		}
		return cmp.Compare(a.k.postID, b.k.postID)
	})
	for _, e := range due {
		delete(w.posts, e.k)
		w.cfg.Metrics.IncPostTimeout()
		w.cfg.Metrics.IncNak()
		ack := &msg.Msg{
			Domain:        e.p.domain,
			StreamID:      e.k.streamID,
			ContainerType: codec.DataTypeNoData,
			Body: &msg.Ack{
				Flags:   msg.AckHasNakCode | msg.AckHasText,
				AckID:   e.k.postID,
				NakCode: msg.NakNoResponse,
				Text:    []byte("no response"),
			},
		}
		w.enqueuePostResult(e.p, ack)
	}
	w.mu.Unlock()
	w.deliver()
}

// State returns the state of h. Unknown handles report StateClosed.
func (w *Watchlist) State(h Handle) (State, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.handles[h]
	if !ok {
		return StateClosed, false
	}
	return s.state, true
}

// Len returns the number of open handles.
func (w *Watchlist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handles)
}

// PendingPosts returns the number of posts awaiting acknowledgement.
func (w *Watchlist) PendingPosts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.posts)
}

// Streams lists every open handle, ordered by handle.
func (w *Watchlist) Streams() []StreamInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]StreamInfo, 0, len(w.handles))
	for _, s := range w.handles {
		route := s.channelRoute()
		info := StreamInfo{
			Handle:   s.handle,
			StreamID: s.id,
			Domain:   s.domain,
			Name:     s.key.NameString(),
			Service:  route.Service,
			Channel:  route.Channel,
			State:    s.state,
		}
		if info.Service == "" {
			info.Service = s.service
		}
		if s.tunnel != nil {
			info.Parent = s.tunnel.handle
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b StreamInfo) int { return cmp.Compare(a.Handle, b.Handle) })
	return out
}
