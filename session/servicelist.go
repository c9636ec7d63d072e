package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pithecene-io/sluice/directory"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/watchlist"
)

// Selector routes requests to channels. It holds the directory each
// channel advertised and the service lists, and resolves a service or
// list name to the first ready channel offering it.
type Selector struct {
	mu    sync.RWMutex
	order []string
	views map[string]*directory.View
	ready map[string]bool
	lists map[string][]string
}

// NewSelector creates a selector over channels in preference order.
func NewSelector(channels []string) *Selector {
	s := &Selector{
		order: slices.Clone(channels),
		views: make(map[string]*directory.View, len(channels)),
		ready: make(map[string]bool, len(channels)),
		lists: make(map[string][]string),
	}
	for _, name := range channels {
		s.views[name] = directory.NewView()
	}
	return s
}

// RegisterList adds or replaces a service list.
func (s *Selector) RegisterList(name string, services []string) error {
	if name == "" {
		return fmt.Errorf("service list name is required")
	}
	if len(services) == 0 {
		return fmt.Errorf("service list %q is empty", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[name] = slices.Clone(services)
	return nil
}

// Apply merges directory entries received on channel. reset discards the
// previous directory first, as a refresh with clear-cache does.
func (s *Selector) Apply(channel string, entries []directory.Entry, reset bool) []directory.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[channel]
	if !ok {
		return nil
	}
	if reset {
		v.Reset()
	}
	return v.Apply(entries)
}

// SetReady marks channel as routable. A channel that is no longer ready
// forgets its directory.
func (s *Selector) SetReady(channel string, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[channel]; !ok {
		return
	}
	s.ready[channel] = ready
	if !ready {
		s.views[channel].Reset()
	}
}

// Ready reports whether channel is routable.
func (s *Selector) Ready(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready[channel]
}

// Route implements watchlist.Router. A list name expands to its services
// in order; each service is tried on every ready channel in order.
func (s *Selector) Route(service string, d msg.Domain, exclude []watchlist.Route) (watchlist.Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates, ok := s.lists[service]
	if !ok {
		candidates = []string{service}
	}
	for _, name := range candidates {
		for _, ch := range s.order {
			if !s.ready[ch] {
				continue
			}
			id, ok := s.views[ch].Resolve(name, d)
			if !ok {
				continue
			}
			r := watchlist.Route{Channel: ch, ServiceID: id, Service: name}
			if slices.Contains(exclude, r) {
				continue
			}
			return r, true
		}
	}
	return watchlist.Route{}, false
}

// Services returns the directory advertised on channel.
func (s *Selector) Services(channel string) []directory.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[channel]
	if !ok {
		return nil
	}
	return v.Services()
}

var _ watchlist.Router = (*Selector)(nil)
