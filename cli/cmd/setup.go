package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/adapter/redis"
	"github.com/pithecene-io/sluice/adapter/webhook"
	"github.com/pithecene-io/sluice/channel"
	"github.com/pithecene-io/sluice/cli/config"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/iox"
	"github.com/pithecene-io/sluice/journal"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/session"
)

// metricsShutdownTimeout bounds the metrics server shutdown.
const metricsShutdownTimeout = 5 * time.Second

// loadConfig reads --config, or returns an empty config when it is unset.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// loadDictionary resolves the field dictionary: a snapshot file, then the
// redis cache (filled from the snapshot or the builtin set on a miss),
// then the builtin set.
func loadDictionary(ctx context.Context, dc config.DictionaryConfig, path string) (*dictionary.Dictionary, error) {
	if path == "" {
		path = dc.Path
	}
	load := func() (*dictionary.Dictionary, error) {
		if path == "" {
			return dictionary.Builtin(), nil
		}
		return dictionary.LoadFile(path)
	}
	if dc.RedisURL == "" {
		return load()
	}
	key := dc.RedisKey
	if key == "" {
		key = dictionary.DefaultCacheKey
	}
	cache, err := dictionary.NewRedisCache(dc.RedisURL, key, dc.TTL.Duration)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(cache)
	return cache.FetchOrLoad(ctx, load)
}

// sessionIdentity fills in the session id so the logger, collector and
// journal agree on it before the session exists.
func sessionIdentity(cfg *config.Config, role session.Role) (string, string) {
	if cfg.Session.ID == "" {
		cfg.Session.ID = uuid.NewString()
	}
	if cfg.Session.Role == "" {
		cfg.Session.Role = string(role)
	}
	return cfg.Session.ID, cfg.Session.Role
}

func transportName(cfg *config.Config) string {
	if cfg.Session.Role == string(session.RoleProvider) {
		if cfg.Provider.Transport != "" {
			return cfg.Provider.Transport
		}
		return channel.TransportTCP
	}
	for _, ch := range cfg.Channels {
		if ch.Transport != "" {
			return ch.Transport
		}
	}
	return channel.TransportTCP
}

// sessionEnv holds the session collaborators built from a config file.
type sessionEnv struct {
	logger    *log.Logger
	metrics   *metrics.Collector
	journal   *journal.Journal
	publisher adapter.Adapter
	dict      *dictionary.Dictionary
}

// newSessionEnv builds the logger, collector, journal, publisher and
// dictionary of a session. Close releases what it opened.
func newSessionEnv(ctx context.Context, cfg *config.Config, role session.Role, dictPath string) (*sessionEnv, error) {
	id, roleName := sessionIdentity(cfg, role)
	rt := &sessionEnv{
		logger:  log.NewLogger(log.Context{SessionID: id, Role: roleName}),
		metrics: metrics.NewCollector(roleName, transportName(cfg), cfg.Journal.Backend, id),
	}

	dict, err := loadDictionary(ctx, cfg.Dictionary, dictPath)
	if err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	rt.dict = dict

	if cfg.Journal.Backend != "" {
		ds, err := journal.Open(ctx, cfg.Journal.Backend, cfg.Journal.Path, cfg.Journal.S3Config())
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		flushCount, flushInterval := cfg.Journal.FlushCount, cfg.Journal.FlushInterval.Duration
		if flushCount <= 0 && flushInterval <= 0 {
			flushCount = 1000
			flushInterval = 5 * time.Second
		}
		rt.journal, err = journal.New(ds, journal.Config{
			FlushCount:    flushCount,
			FlushInterval: flushInterval,
			Logger:        rt.logger,
			Metrics:       rt.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	pub, err := newPublisher(cfg.Adapter)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("adapter: %w", err)
	}
	rt.publisher = pub
	return rt, nil
}

// newPublisher builds the configured adapter, nil when none is set.
func newPublisher(ac config.AdapterConfig) (adapter.Adapter, error) {
	switch ac.Type {
	case "":
		return nil, nil
	case "redis":
		rc := redis.Config{
			URL:          ac.URL,
			Channel:      ac.Channel,
			PerEventType: ac.PerEventType,
			Timeout:      ac.Timeout.Duration,
			Retries:      redis.DefaultRetries,
		}
		if ac.Retries != nil {
			rc.Retries = *ac.Retries
		}
		return redis.New(rc)
	case "webhook":
		wc := webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Secret:  ac.Secret,
			Timeout: ac.Timeout.Duration,
			Retries: webhook.DefaultRetries,
		}
		if ac.Retries != nil {
			wc.Retries = *ac.Retries
		}
		return webhook.New(wc)
	}
	return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
}

// apply copies the collaborators into a session config.
func (rt *sessionEnv) apply(sc *session.Config) {
	sc.Logger = rt.logger
	sc.Metrics = rt.metrics
	sc.Journal = rt.journal
	sc.Publisher = rt.publisher
	sc.Dictionary = rt.dict
}

// Close flushes the journal. The session closes the publisher.
func (rt *sessionEnv) Close() error {
	var errs []error
	if rt.journal != nil {
		errs = append(errs, rt.journal.Close())
	}
	_ = rt.logger.Sync()
	return errors.Join(errs...)
}

// serveMetrics exposes the collector on listen until ctx is done. An
// empty listen address disables it.
func serveMetrics(ctx context.Context, listen string, rt *sessionEnv) error {
	if listen == "" {
		return nil
	}
	h, err := metrics.NewExporter(rt.metrics).Handler()
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", map[string]any{"listen": listen, "error": err.Error()})
		}
	}()
	rt.logger.Info("metrics listening", map[string]any{"listen": listen})
	return nil
}
