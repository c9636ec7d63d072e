package watchlist

import (
	"slices"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/msg"
)

// Class of service element names.
const (
	elemAuthentication = "Authentication"
	elemFlowControl    = "FlowControl"
	elemRecvWindow     = "RecvWindow"
	elemDataIntegrity  = "DataIntegrity"
	elemGuarantee      = "Guarantee"
)

// Class of service values.
const (
	AuthNone              uint8 = 0
	AuthLogin             uint8 = 1
	FlowControlNone       uint8 = 0
	FlowControlBidirect   uint8 = 1
	DataIntegrityBestEff  uint8 = 0
	DataIntegrityReliable uint8 = 1
	GuaranteeNone         uint8 = 0
	GuaranteePersistent   uint8 = 1
)

// ClassOfService is negotiated when a tunnel stream opens: the consumer
// proposes it in the request payload and the provider answers with the
// values in force in its refresh.
type ClassOfService struct {
	Authentication uint8
	FlowControl    uint8
	RecvWindow     uint32
	DataIntegrity  uint8
	Guarantee      uint8
}

// EncodeClassOfService returns cos as an ElementList payload.
func EncodeClassOfService(cos ClassOfService) ([]byte, error) {
	return encodeElements(func(put func(string, codec.Primitive) error) error {
		for _, e := range []struct {
			name  string
			value uint64
		}{
			{elemAuthentication, uint64(cos.Authentication)},
			{elemFlowControl, uint64(cos.FlowControl)},
			{elemRecvWindow, uint64(cos.RecvWindow)},
			{elemDataIntegrity, uint64(cos.DataIntegrity)},
			{elemGuarantee, uint64(cos.Guarantee)},
		} {
			if err := put(e.name, codec.UInt{Value: e.value}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecodeClassOfService reads an ElementList payload. Missing elements
// keep their zero value.
func DecodeClassOfService(payload []byte) (ClassOfService, error) {
	elems, err := decodeElements(payload)
	if err != nil {
		return ClassOfService{}, err
	}
	u := func(name string) uint64 {
		v, _ := elems[name].(codec.UInt)
		return v.Value
	}
	return ClassOfService{
		Authentication: uint8(u(elemAuthentication)),
		FlowControl:    uint8(u(elemFlowControl)),
		RecvWindow:     uint32(u(elemRecvWindow)),
		DataIntegrity:  uint8(u(elemDataIntegrity)),
		Guarantee:      uint8(u(elemGuarantee)),
	}, nil
}

// Negotiate returns the class of service a provider grants for a
// proposal: the lower receive window of both sides and the provider's
// values elsewhere.
func Negotiate(proposed, offered ClassOfService) ClassOfService {
	out := offered
	if proposed.RecvWindow != 0 && (out.RecvWindow == 0 || proposed.RecvWindow < out.RecvWindow) {
		out.RecvWindow = proposed.RecvWindow
	}
	return out
}

// TunnelRequest opens a tunnel stream.
type TunnelRequest struct {
	Service string
	Name    string
	// Domain defaults to msg.DomainSystem.
	Domain  msg.Domain
	COS     ClassOfService
	Closure any
}

// OpenTunnel opens a private tunnel stream. Substreams opened on it are
// sent once its refresh arrives.
func (w *Watchlist) OpenTunnel(req TunnelRequest) (Handle, error) {
	const op = "watchlist open tunnel"
	if req.Service == "" {
		return 0, failure.Usage(op, "service required")
	}
	if req.Domain == 0 {
		req.Domain = msg.DomainSystem
	}
	payload, err := EncodeClassOfService(req.COS)
	if err != nil {
		return 0, err
	}
	s := &stream{
		kind:          kindTunnel,
		domain:        req.Domain,
		service:       req.Service,
		key:           itemKey(req.Name, 0),
		flags:         msg.RequestStreaming | msg.RequestPrivateStream,
		closure:       req.Closure,
		containerType: codec.DataTypeElementList,
		payload:       payload,
		subs:          make(map[int32]*stream),
		cos:           req.COS,
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.register(s)
	w.request(s, "no service available")
	return s.handle, nil
}

// OpenSubstream opens an item stream inside the tunnel of parent.
// req.Service is ignored.
func (w *Watchlist) OpenSubstream(parent Handle, req OpenRequest) (Handle, error) {
	const op = "watchlist open substream"
	if err := checkOpen(op, &req, true); err != nil {
		return 0, err
	}
	s, err := newItem(&req)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.handles[parent]
	if !ok || t.kind != kindTunnel {
		return 0, invalidHandle(op, parent)
	}
	s.kind = kindSubstream
	s.tunnel = t
	s.flags &^= msg.RequestPrivateStream
	t.nextSub++
	s.id = t.nextSub
	s.handle = w.newHandle()
	t.subs[s.id] = s
	w.handles[s.handle] = s
	if t.state != StateOpenStreaming {
		s.queued = true
		return s.handle, nil
	}
	w.sendSubstream(s)
	return s.handle, nil
}

func (w *Watchlist) sendSubstream(s *stream) {
	s.queued = false
	if err := w.send(s, w.requestMsg(s, 0)); err != nil {
		w.remove(s)
		w.enqueue(s, statusMsg(s, codec.StreamStateClosed, codec.DataStateSuspect, codec.StateCodeNone, err.Error()))
		return
	}
	s.state = StatePendingRequest
}

// ClassOfService returns the class of service in force on tunnel h.
func (w *Watchlist) ClassOfService(h Handle) (ClassOfService, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.handles[h]
	if !ok || t.kind != kindTunnel {
		return ClassOfService{}, false
	}
	return t.cos, true
}

func (w *Watchlist) sendOnTunnel(t *stream, inner *msg.Msg) error {
	b, err := inner.Marshal()
	if err != nil {
		return err
	}
	return w.cfg.Sink.Send(t.route.Channel, &msg.Msg{
		Domain:        t.domain,
		StreamID:      t.id,
		ContainerType: codec.DataTypeMsg,
		Payload:       b,
		Body:          &msg.Generic{Flags: msg.GenericComplete},
	})
}

// onTunnelOpen records the granted class of service and sends the queued
// substream requests.
func (w *Watchlist) onTunnelOpen(t *stream, m *msg.Msg) {
	if m.ContainerType == codec.DataTypeElementList {
		cos, err := DecodeClassOfService(m.Payload)
		if err != nil {
			w.logger.Warn("tunnel class of service unreadable", map[string]any{"stream_id": t.id, "error": err.Error()})
		} else {
			t.cos = cos
		}
	}
	ids := make([]int32, 0, len(t.subs))
	for id, s := range t.subs {
		if s.queued {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		w.sendSubstream(t.subs[id])
	}
}

// onTunnelMsg routes a message carried by a tunnel Generic to its
// substream.
func (w *Watchlist) onTunnelMsg(t *stream, m *msg.Msg) {
	var inner msg.Msg
	if err := msg.Decode(m.Payload, &inner); err != nil {
		w.cfg.Metrics.IncDecodeErrors()
		w.logger.Warn("tunnel message unreadable", map[string]any{"stream_id": t.id, "error": err.Error()})
		return
	}
	if ack, ok := inner.Body.(*msg.Ack); ok && w.onAck(t.handle, t.route.Channel, &inner, ack) {
		return
	}
	s, ok := t.subs[inner.StreamID]
	if !ok || s.queued {
		w.dropLate(t.route.Channel, &inner)
		return
	}
	w.apply(s, &inner)
}
