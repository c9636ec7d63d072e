package directory

import (
	"slices"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/msg"
)

// View is the merged directory of one channel. It is owned by the
// session's dispatch goroutine and is not safe for concurrent use.
type View struct {
	services map[uint16]*Service
}

// NewView returns an empty directory.
func NewView() *View {
	return &View{services: make(map[uint16]*Service)}
}

// Change describes how Apply altered one service.
type Change struct {
	ID   uint16
	Name string
	// WasAvailable and Available bracket the change.
	WasAvailable bool
	Available    bool
	Removed      bool
}

// Apply merges entries into the view. Add replaces a service, Update
// merges the filters it carries and Delete removes the service.
func (v *View) Apply(entries []Entry) []Change {
	changes := make([]Change, 0, len(entries))
	for _, e := range entries {
		old, had := v.services[e.Service.ID]
		c := Change{ID: e.Service.ID, WasAvailable: had && old.Available()}
		switch {
		case e.Action == codec.MapDelete:
			if had {
				c.Name = old.Name
			}
			delete(v.services, e.Service.ID)
			c.Removed = true
		case e.Action == codec.MapAdd || !had:
			s := e.Service
			// a service announced without a state filter is assumed up
			if e.Filters&MaskState == 0 {
				s.Up, s.AcceptingRequests = true, true
			}
			v.services[s.ID] = &s
			c.Name, c.Available = s.Name, s.Available()
		default:
			merge(old, &e)
			c.Name, c.Available = old.Name, old.Available()
		}
		changes = append(changes, c)
	}
	return changes
}

func merge(dst *Service, e *Entry) {
	if e.Filters&MaskInfo != 0 {
		up, accepting := dst.Up, dst.AcceptingRequests
		*dst = e.Service
		dst.Up, dst.AcceptingRequests = up, accepting
	}
	if e.Filters&MaskState != 0 {
		dst.Up = e.Service.Up
		dst.AcceptingRequests = e.Service.AcceptingRequests
	}
}

// Service returns the service with id.
func (v *View) Service(id uint16) (Service, bool) {
	s, ok := v.services[id]
	if !ok {
		return Service{}, false
	}
	return *s, true
}

// ServiceByName returns the service named name.
func (v *View) ServiceByName(name string) (Service, bool) {
	for _, s := range v.services {
		if s.Name == name {
			return *s, true
		}
	}
	return Service{}, false
}

// Resolve returns the id of an available service named name that
// supports domain d.
func (v *View) Resolve(name string, d msg.Domain) (uint16, bool) {
	s, ok := v.ServiceByName(name)
	if !ok || !s.Available() || !s.Supports(d) {
		return 0, false
	}
	return s.ID, true
}

// Services returns all services ordered by id.
func (v *View) Services() []Service {
	out := make([]Service, 0, len(v.services))
	for _, s := range v.services {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Service) int { return int(a.ID) - int(b.ID) })
	return out
}

// Entries returns the view as Add entries carrying every filter.
func (v *View) Entries() []Entry {
	services := v.Services()
	entries := make([]Entry, len(services))
	for i, s := range services {
		entries[i] = Entry{Action: codec.MapAdd, Filters: MaskAll, Service: s}
	}
	return entries
}

// Len returns the number of services.
func (v *View) Len() int {
	return len(v.services)
}

// Reset drops every service, as on channel down.
func (v *View) Reset() {
	clear(v.services)
}
