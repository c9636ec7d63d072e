package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/channel"
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/directory"
	"github.com/pithecene-io/sluice/journal"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
)

// Role selects which side of the protocol a session plays.
type Role string

const (
	RoleConsumer   Role = "consumer"
	RoleProvider   Role = "provider"
	RoleNIProvider Role = "niprovider"
)

// DispatchModel selects where callbacks run.
type DispatchModel string

const (
	// DispatchAPI runs callbacks on a session goroutine.
	DispatchAPI DispatchModel = "api"
	// DispatchUser runs callbacks on the goroutine calling Dispatch.
	DispatchUser DispatchModel = "user"
)

// Defaults.
const (
	DefaultPostAckTimeout = 15 * time.Second
	DefaultReconnectMin   = 500 * time.Millisecond
	DefaultReconnectMax   = 30 * time.Second
	DefaultQueueSize      = 1024
	DefaultApplicationID  = "256"
	DefaultUser           = "sluice"
)

// ChannelConfig names one connection of a consumer or non-interactive
// provider session.
type ChannelConfig struct {
	Name string
	// Transport is "tcp" or "websocket".
	Transport string
	Address   string
}

// Login holds the credentials sent on the login stream.
type Login struct {
	User          string
	ApplicationID string
	Position      string
}

// DialFunc opens the transport of a channel.
type DialFunc func(ctx context.Context, cc ChannelConfig) (channel.Transport, error)

// Config is the opaque configuration consumed by New.
type Config struct {
	// ID identifies the session; a uuid is generated when empty.
	ID       string
	Role     Role
	Dispatch DispatchModel

	// Channels are connected in order; earlier channels are preferred
	// when routing.
	Channels []ChannelConfig
	// ServiceLists maps a list name to service names in preference order.
	ServiceLists map[string][]string

	PingTimeout    time.Duration
	PostAckTimeout time.Duration
	Login          Login
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	// Version offered in the handshake.
	Version codec.Version
	// QueueSize bounds the inbound queue between readers and dispatch.
	QueueSize int

	// Services are announced by provider and non-interactive provider
	// sessions.
	Services []directory.Service
	// Listeners accept consumer connections for a provider session.
	Listeners []channel.Listener
	// AcceptLogin decides provider logins; nil accepts every user.
	AcceptLogin func(user string) bool

	// Dial overrides channel.Dial.
	Dial       DialFunc
	Callbacks  Callbacks
	Dictionary *dictionary.Dictionary
	Journal    *journal.Journal
	Publisher  adapter.Adapter

	Logger  *log.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
}

func (c *Config) defaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Role == "" {
		c.Role = RoleConsumer
	}
	if c.Dispatch == "" {
		c.Dispatch = DispatchAPI
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = channel.DefaultPingTimeout
	}
	if c.PostAckTimeout == 0 {
		c.PostAckTimeout = DefaultPostAckTimeout
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = DefaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = max(DefaultReconnectMax, c.ReconnectMin)
	}
	if c.Version == (codec.Version{}) {
		c.Version = codec.CurrentVersion
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Login.User == "" {
		c.Login.User = DefaultUser
	}
	if c.Login.ApplicationID == "" {
		c.Login.ApplicationID = DefaultApplicationID
	}
	if c.Dial == nil {
		c.Dial = func(ctx context.Context, cc ChannelConfig) (channel.Transport, error) {
			return channel.Dial(ctx, cc.Transport, cc.Address)
		}
	}
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleConsumer, RoleProvider, RoleNIProvider:
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
	switch c.Dispatch {
	case DispatchAPI, DispatchUser:
	default:
		return fmt.Errorf("unknown dispatch model %q", c.Dispatch)
	}
	if c.Role != RoleProvider && len(c.Channels) == 0 {
		return fmt.Errorf("%s session requires at least one channel", c.Role)
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, cc := range c.Channels {
		if cc.Name == "" {
			return errors.New("channel name is required")
		}
		if seen[cc.Name] {
			return fmt.Errorf("duplicate channel %q", cc.Name)
		}
		seen[cc.Name] = true
	}
	for name, services := range c.ServiceLists {
		if name == "" || len(services) == 0 {
			return fmt.Errorf("service list %q must name at least one service", name)
		}
	}
	ids := make(map[uint16]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			return errors.New("service name is required")
		}
		if ids[svc.ID] {
			return fmt.Errorf("duplicate service id %d", svc.ID)
		}
		ids[svc.ID] = true
	}
	return nil
}
