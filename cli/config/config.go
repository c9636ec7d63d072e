package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/sluice/channel"
	"github.com/pithecene-io/sluice/directory"
	"github.com/pithecene-io/sluice/journal"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/session"
)

// Config represents a sluice.yaml configuration file. Every value is
// optional; CLI flags override file values.
type Config struct {
	Session      SessionConfig       `yaml:"session"`
	Channels     []ChannelConfig     `yaml:"channels"`
	ServiceLists map[string][]string `yaml:"service_lists"`
	Reconnect    ReconnectConfig     `yaml:"reconnect"`
	Dictionary   DictionaryConfig    `yaml:"dictionary"`
	Journal      JournalConfig       `yaml:"journal"`
	Adapter      AdapterConfig       `yaml:"adapter"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	Provider     ProviderConfig      `yaml:"provider"`
}

// SessionConfig holds the session identity and timing.
type SessionConfig struct {
	ID             string   `yaml:"id"`
	Role           string   `yaml:"role"`
	Dispatch       string   `yaml:"dispatch"`
	PingTimeout    Duration `yaml:"ping_timeout"`
	PostAckTimeout Duration `yaml:"post_ack_timeout"`
	QueueSize      int      `yaml:"queue_size"`
	Login          Login    `yaml:"login"`
}

// Login holds the login stream credentials.
type Login struct {
	User          string `yaml:"user"`
	ApplicationID string `yaml:"application_id"`
	Position      string `yaml:"position"`
}

// ChannelConfig is one consumer or non-interactive provider connection.
type ChannelConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`
	Address   string `yaml:"address"`
	// Path is the websocket request path.
	Path string `yaml:"path"`
}

// DialAddress returns the address channel.Dial expects: host:port for
// tcp, a url for websocket.
func (c ChannelConfig) DialAddress() string {
	if c.Transport != channel.TransportWebSocket || strings.Contains(c.Address, "://") {
		return c.Address
	}
	path := c.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + c.Address + path
}

// ReconnectConfig bounds the reconnect backoff.
type ReconnectConfig struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

// DictionaryConfig locates the field dictionary.
type DictionaryConfig struct {
	// Path is a msgpack snapshot written by "sluice dict export".
	Path     string   `yaml:"path"`
	RedisURL string   `yaml:"redis_url"`
	RedisKey string   `yaml:"redis_key"`
	TTL      Duration `yaml:"ttl"`
}

// JournalConfig configures message capture.
type JournalConfig struct {
	Backend       string   `yaml:"backend"`
	Path          string   `yaml:"path"`
	Region        string   `yaml:"region"`
	Endpoint      string   `yaml:"endpoint"`
	S3PathStyle   bool     `yaml:"s3_path_style"`
	FlushCount    int      `yaml:"flush_count"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// S3Config returns the S3 settings of the journal.
func (j JournalConfig) S3Config() journal.S3Config {
	bucket, prefix := journal.ParseS3Path(j.Path)
	return journal.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       j.Region,
		Endpoint:     j.Endpoint,
		UsePathStyle: j.S3PathStyle,
	}
}

// AdapterConfig configures session event publishing.
type AdapterConfig struct {
	Type         string            `yaml:"type"`
	URL          string            `yaml:"url"`
	Channel      string            `yaml:"channel,omitempty"`
	PerEventType bool              `yaml:"per_event_type,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	Secret       string            `yaml:"secret,omitempty"`
	Timeout      Duration          `yaml:"timeout,omitempty"`
	Retries      *int              `yaml:"retries,omitempty"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// ProviderConfig configures "sluice serve".
type ProviderConfig struct {
	Listen    string `yaml:"listen"`
	Transport string `yaml:"transport"`
	// Path is the websocket request path.
	Path           string          `yaml:"path"`
	UpdateInterval Duration        `yaml:"update_interval"`
	Services       []ServiceConfig `yaml:"services"`
}

// ServiceConfig is one served service and its items.
type ServiceConfig struct {
	ID      uint16   `yaml:"id"`
	Name    string   `yaml:"name"`
	Vendor  string   `yaml:"vendor"`
	Domains []string `yaml:"domains"`
	Items   []string `yaml:"items"`
	// Down announces the service as down.
	Down bool `yaml:"down"`
}

// Service converts s to a directory service. Domains default to
// MarketPrice.
func (s ServiceConfig) Service() (directory.Service, error) {
	svc := directory.Service{
		ID:                s.ID,
		Name:              s.Name,
		Vendor:            s.Vendor,
		Up:                !s.Down,
		AcceptingRequests: true,
	}
	names := s.Domains
	if len(names) == 0 {
		names = []string{msg.DomainMarketPrice.String()}
	}
	for _, name := range names {
		d, ok := msg.ParseDomain(name)
		if !ok {
			return directory.Service{}, fmt.Errorf("service %s: unknown domain %q", s.Name, name)
		}
		svc.Capabilities = append(svc.Capabilities, d)
	}
	return svc, nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// SessionConfig converts the file to a session configuration. Listeners,
// journal, adapter and dictionary need I/O and are left to the caller.
func (c *Config) SessionConfig() (session.Config, error) {
	sc := session.Config{
		ID:             c.Session.ID,
		Role:           session.Role(c.Session.Role),
		Dispatch:       session.DispatchModel(c.Session.Dispatch),
		PingTimeout:    c.Session.PingTimeout.Duration,
		PostAckTimeout: c.Session.PostAckTimeout.Duration,
		QueueSize:      c.Session.QueueSize,
		ReconnectMin:   c.Reconnect.Min.Duration,
		ReconnectMax:   c.Reconnect.Max.Duration,
		ServiceLists:   c.ServiceLists,
		Login: session.Login{
			User:          c.Session.Login.User,
			ApplicationID: c.Session.Login.ApplicationID,
			Position:      c.Session.Login.Position,
		},
	}
	for _, ch := range c.Channels {
		switch ch.Transport {
		case "", channel.TransportTCP, channel.TransportWebSocket:
		default:
			return session.Config{}, fmt.Errorf("channel %s: unknown transport %q", ch.Name, ch.Transport)
		}
		sc.Channels = append(sc.Channels, session.ChannelConfig{
			Name:      ch.Name,
			Transport: ch.Transport,
			Address:   ch.DialAddress(),
		})
	}
	for _, s := range c.Provider.Services {
		svc, err := s.Service()
		if err != nil {
			return session.Config{}, err
		}
		sc.Services = append(sc.Services, svc)
	}
	return sc, nil
}

// Validate checks the parts of the file the session does not.
func (c *Config) Validate() error {
	var errs []error
	switch c.Journal.Backend {
	case "", journal.BackendFS, journal.BackendS3, journal.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("journal: unknown backend %q", c.Journal.Backend))
	}
	if c.Journal.Backend == journal.BackendFS && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal: fs backend requires a path"))
	}
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		errs = append(errs, fmt.Errorf("adapter: unknown type %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter: %s requires a url", c.Adapter.Type))
	}
	switch c.Provider.Transport {
	case "", channel.TransportTCP, channel.TransportWebSocket:
	default:
		errs = append(errs, fmt.Errorf("provider: unknown transport %q", c.Provider.Transport))
	}
	return errors.Join(errs...)
}
