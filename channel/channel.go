package channel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
)

// DefaultPingTimeout is offered when Config.PingTimeout is zero.
const DefaultPingTimeout = 60 * time.Second

// Handshake is the body of handshake and handshake ack frames.
type Handshake struct {
	Major uint8 `msgpack:"major"`
	Minor uint8 `msgpack:"minor"`
	// PingTimeout in seconds.
	PingTimeout uint16 `msgpack:"ping_timeout"`
	Role        string `msgpack:"role"`
	Component   string `msgpack:"component,omitempty"`
	// Error is set on an ack that rejects the handshake.
	Error string `msgpack:"error,omitempty"`
}

// Negotiate returns the version and ping timeout both sides run with:
// majors must match, the lower minor and the lower timeout win.
func Negotiate(local, remote Handshake) (codec.Version, time.Duration, error) {
	if local.Major != remote.Major {
		return codec.Version{}, 0, fmt.Errorf("protocol major version %d does not match %d", remote.Major, local.Major)
	}
	v := codec.Version{Major: local.Major, Minor: min(local.Minor, remote.Minor)}
	ping := min(local.PingTimeout, remote.PingTimeout)
	if ping == 0 {
		ping = max(local.PingTimeout, remote.PingTimeout)
	}
	return v, time.Duration(ping) * time.Second, nil
}

// Config describes the local side of a channel.
type Config struct {
	Name string
	// Version offered; defaults to codec.CurrentVersion.
	Version     codec.Version
	PingTimeout time.Duration
	Role        string
	Component   string
	// HandshakeTimeout bounds the handshake when ctx has no deadline.
	HandshakeTimeout time.Duration
	Logger           *log.Logger
	Metrics          *metrics.Collector
	Now              func() time.Time
}

func (c *Config) defaults() {
	if c.Version == (codec.Version{}) {
		c.Version = codec.CurrentVersion
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c *Config) handshake() Handshake {
	secs := c.PingTimeout / time.Second
	if secs < 1 {
		secs = 1
	}
	if secs > 0xFFFF {
		secs = 0xFFFF
	}
	return Handshake{
		Major:       c.Version.Major,
		Minor:       c.Version.Minor,
		PingTimeout: uint16(secs),
		Role:        c.Role,
		Component:   c.Component,
	}
}

// Channel is a transport after a successful handshake. Reads must come
// from one goroutine; Send, Tick and Close are safe for concurrent use.
type Channel struct {
	name        string
	t           Transport
	version     codec.Version
	pingTimeout time.Duration
	peer        Handshake
	logger      *log.Logger
	metrics     *metrics.Collector
	now         func() time.Time

	lastRecv atomic.Int64
	lastSent atomic.Int64
	closed   atomic.Bool
}

// Connect runs the initiating side of the handshake on t.
func Connect(ctx context.Context, t Transport, cfg Config) (*Channel, error) {
	const op = "channel connect"
	cfg.defaults()
	local := cfg.handshake()
	b, err := msgpack.Marshal(&local)
	if err != nil {
		return nil, err
	}
	if err := t.WriteFrame(KindHandshake, b); err != nil {
		return nil, failure.Wrap(failure.ErrConnectionLost, op, err)
	}
	ack, err := readHandshake(ctx, t, KindHandshakeAck, cfg.HandshakeTimeout)
	if err != nil {
		cfg.Metrics.IncHandshakeFailure()
		return nil, failure.Wrap(failure.ErrConnectionLost, op, err)
	}
	if ack.Error != "" {
		cfg.Metrics.IncHandshakeFailure()
		return nil, failure.Wrap(failure.ErrConnectionLost, op, fmt.Errorf("handshake rejected: %s", ack.Error))
	}
	v, ping, err := Negotiate(local, ack)
	if err != nil {
		cfg.Metrics.IncHandshakeFailure()
		return nil, failure.Wrap(failure.ErrConnectionLost, op, err)
	}
	return newChannel(t, cfg, v, ping, ack), nil
}

// Accept runs the accepting side of the handshake on t. A peer with a
// different major version is answered with an error ack.
func Accept(ctx context.Context, t Transport, cfg Config) (*Channel, error) {
	const op = "channel accept"
	cfg.defaults()
	local := cfg.handshake()
	req, err := readHandshake(ctx, t, KindHandshake, cfg.HandshakeTimeout)
	if err != nil {
		cfg.Metrics.IncHandshakeFailure()
		return nil, failure.Wrap(failure.ErrConnectionLost, op, err)
	}
	v, ping, negErr := Negotiate(local, req)
	ack := local
	if negErr != nil {
		ack.Error = negErr.Error()
	} else {
		ack.Minor = v.Minor
		ack.PingTimeout = uint16(ping / time.Second)
	}
	b, err := msgpack.Marshal(&ack)
	if err != nil {
		return nil, err
	}
	if err := t.WriteFrame(KindHandshakeAck, b); err != nil {
		return nil, failure.Wrap(failure.ErrConnectionLost, op, err)
	}
	if negErr != nil {
		cfg.Metrics.IncHandshakeFailure()
		return nil, failure.Wrap(failure.ErrConnectionLost, op, negErr)
	}
	return newChannel(t, cfg, v, ping, req), nil
}

func readHandshake(ctx context.Context, t Transport, want Kind, timeout time.Duration) (Handshake, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}
	if err := t.SetReadDeadline(deadline); err != nil {
		return Handshake{}, err
	}
	defer func() { _ = t.SetReadDeadline(time.Time{}) }()
	stop := context.AfterFunc(ctx, func() { _ = t.SetReadDeadline(time.Now()) })
	defer stop()

	f, err := t.ReadFrame()
	if err != nil {
		return Handshake{}, err
	}
	if f.Kind != want {
		return Handshake{}, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("expected %s frame, got %s", want, f.Kind)}
	}
	var h Handshake
	if err := msgpack.Unmarshal(f.Payload, &h); err != nil {
		return Handshake{}, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode handshake", Err: err}
	}
	return h, nil
}

func newChannel(t Transport, cfg Config, v codec.Version, ping time.Duration, peer Handshake) *Channel {
	c := &Channel{
		name:        cfg.Name,
		t:           t,
		version:     v,
		pingTimeout: ping,
		peer:        peer,
		logger:      cfg.Logger.WithComponent("channel"),
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
	now := c.now().UnixNano()
	c.lastRecv.Store(now)
	c.lastSent.Store(now)
	c.logger.Info("channel handshake complete", map[string]any{
		"channel":      c.name,
		"remote":       t.RemoteAddr(),
		"version":      v.String(),
		"ping_timeout": ping.String(),
		"peer_role":    peer.Role,
	})
	return c
}

// Name returns the configured channel name.
func (c *Channel) Name() string { return c.name }

// Version returns the negotiated wire version.
func (c *Channel) Version() codec.Version { return c.version }

// PingTimeout returns the negotiated ping timeout.
func (c *Channel) PingTimeout() time.Duration { return c.pingTimeout }

// Peer returns the handshake the peer sent.
func (c *Channel) Peer() Handshake { return c.peer }

// RemoteAddr returns the peer address.
func (c *Channel) RemoteAddr() string { return c.t.RemoteAddr() }

// Read returns the next data frame payload. Pings are consumed. The
// payload is only valid until the next Read.
func (c *Channel) Read() ([]byte, error) {
	for {
		f, err := c.t.ReadFrame()
		if err != nil {
			if c.closed.Load() {
				return nil, failure.Wrap(failure.ErrConnectionLost, "channel read", fmt.Errorf("channel %s closed", c.name))
			}
			return nil, err
		}
		c.lastRecv.Store(c.now().UnixNano())
		switch f.Kind {
		case KindData:
			return f.Payload, nil
		case KindPing:
			continue
		default:
			c.logger.Debug("unexpected frame ignored", map[string]any{"channel": c.name, "kind": f.Kind.String()})
		}
	}
}

// Send writes one data frame.
func (c *Channel) Send(payload []byte) error {
	if c.closed.Load() {
		return failure.Wrap(failure.ErrConnectionLost, "channel send", fmt.Errorf("channel %s closed", c.name))
	}
	if err := c.t.WriteFrame(KindData, payload); err != nil {
		return failure.Wrap(failure.ErrConnectionLost, "channel send", err)
	}
	c.lastSent.Store(c.now().UnixNano())
	return nil
}

// Tick sends a ping once a third of the ping timeout has passed without
// traffic out, and reports ErrConnectionLost once the full timeout passes
// without traffic in.
func (c *Channel) Tick(now time.Time) error {
	const op = "channel ping"
	if c.pingTimeout <= 0 {
		return nil
	}
	if silent := now.Sub(time.Unix(0, c.lastRecv.Load())); silent > c.pingTimeout {
		c.metrics.IncPingTimeout()
		c.logger.Warn("ping timeout", map[string]any{"channel": c.name, "silent": silent.String()})
		return failure.Wrap(failure.ErrConnectionLost, op, fmt.Errorf("no traffic for %s", silent))
	}
	if now.Sub(time.Unix(0, c.lastSent.Load())) >= c.pingTimeout/3 {
		if err := c.t.WriteFrame(KindPing, nil); err != nil {
			return failure.Wrap(failure.ErrConnectionLost, op, err)
		}
		c.lastSent.Store(now.UnixNano())
	}
	return nil
}

// Close closes the transport. It is safe to call more than once.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.t.Close()
}
