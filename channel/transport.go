package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport moves whole frames over one connection. ReadFrame must be
// called from one goroutine; WriteFrame is safe for concurrent use.
type Transport interface {
	ReadFrame() (Frame, error)
	WriteFrame(kind Kind, payload []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// Transport names used in configuration.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
	TransportPipe      = "pipe"
)

// streamTransport frames a byte stream: TCP or an in-memory pipe.
type streamTransport struct {
	conn net.Conn
	dec  *FrameDecoder
	mu   sync.Mutex
	wbuf []byte
}

// NewStreamTransport frames conn.
func NewStreamTransport(conn net.Conn) Transport {
	return &streamTransport{conn: conn, dec: NewFrameDecoder(conn)}
}

func (t *streamTransport) ReadFrame() (Frame, error) {
	return t.dec.ReadFrame()
}

func (t *streamTransport) WriteFrame(kind Kind, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, err := AppendFrame(t.wbuf[:0], kind, payload)
	if err != nil {
		return err
	}
	t.wbuf = b
	_, err = t.conn.Write(b)
	return err
}

func (t *streamTransport) SetReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *streamTransport) RemoteAddr() string                { return t.conn.RemoteAddr().String() }
func (t *streamTransport) Close() error                      { return t.conn.Close() }

// DialTCP connects to addr.
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewStreamTransport(conn), nil
}

// Pipe returns the two ends of an in-memory connection.
func Pipe() (Transport, Transport) {
	a, b := net.Pipe()
	return NewStreamTransport(a), NewStreamTransport(b)
}

// wsTransport carries one frame per binary WebSocket message, without the
// length prefix.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
	wbuf []byte
}

// NewWebSocketTransport frames conn.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(MaxPayloadSize)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadFrame() (Frame, error) {
	typ, b, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
			return Frame{}, io.EOF
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return Frame{}, &FrameError{Kind: FrameErrorTooLarge, Msg: "message exceeds maximum", Err: err}
		}
		return Frame{}, err
	}
	if typ != websocket.BinaryMessage || len(b) == 0 {
		return Frame{}, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unexpected websocket message type %d", typ)}
	}
	return Frame{Kind: Kind(b[0]), Payload: b[1:]}, nil
}

func (t *wsTransport) WriteFrame(kind Kind, payload []byte) error {
	if len(payload)+1 > MaxPayloadSize {
		return &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("payload size %d exceeds maximum %d", len(payload)+1, MaxPayloadSize)}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wbuf = append(append(t.wbuf[:0], byte(kind)), payload...)
	return t.conn.WriteMessage(websocket.BinaryMessage, t.wbuf)
}

func (t *wsTransport) SetReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *wsTransport) RemoteAddr() string                { return t.conn.RemoteAddr().String() }

func (t *wsTransport) Close() error {
	t.mu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.mu.Unlock()
	return t.conn.Close()
}

// DialWebSocket connects to a ws:// or wss:// url.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewWebSocketTransport(conn), nil
}

// Dial connects with the named transport. For websocket, addr is a url.
func Dial(ctx context.Context, transport, addr string) (Transport, error) {
	switch transport {
	case "", TransportTCP:
		return DialTCP(ctx, addr)
	case TransportWebSocket:
		return DialWebSocket(ctx, addr)
	}
	return nil, fmt.Errorf("unknown transport %q", transport)
}

// Listener accepts transports.
type Listener interface {
	Accept(ctx context.Context) (Transport, error)
	Addr() string
	Close() error
}

type tcpListener struct {
	ln net.Listener
}

// ListenTCP listens on addr.
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Transport, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()
	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return NewStreamTransport(conn), nil
}

func (l *tcpListener) Addr() string { return l.ln.Addr().String() }
func (l *tcpListener) Close() error { return l.ln.Close() }

// WebSocketHandler upgrades HTTP requests and hands the connections to
// Accept. Mount it on an http.Server.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	conns    chan Transport
	done     chan struct{}
	once     sync.Once
	addr     string
}

// NewWebSocketHandler returns a handler; addr is reported by Addr.
func NewWebSocketHandler(addr string) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(chan Transport),
		done:  make(chan struct{}),
		addr:  addr,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case h.conns <- NewWebSocketTransport(conn):
	case <-h.done:
		_ = conn.Close()
	case <-r.Context().Done():
		_ = conn.Close()
	}
}

func (h *WebSocketHandler) Accept(ctx context.Context) (Transport, error) {
	select {
	case t := <-h.conns:
		return t, nil
	case <-h.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *WebSocketHandler) Addr() string { return h.addr }

func (h *WebSocketHandler) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}

var (
	_ Listener = (*tcpListener)(nil)
	_ Listener = (*WebSocketHandler)(nil)
)
