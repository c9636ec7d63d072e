package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/sluice/channel"
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/directory"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/watchlist"
)

func testService(id uint16, name string) directory.Service {
	return directory.Service{
		ID:                id,
		Name:              name,
		Capabilities:      []msg.Domain{msg.DomainMarketPrice},
		Up:                true,
		AcceptingRequests: true,
	}
}

// testProvider is a provider session answering every item request with
// a complete refresh.
type testProvider struct {
	*Session
	requests atomic.Int64
}

func startProvider(t *testing.T, svc directory.Service, accept func(string) bool) *testProvider {
	t.Helper()
	p := &testProvider{}
	s, err := New(Config{
		ID:          "provider-" + svc.Name,
		Role:        RoleProvider,
		Services:    []directory.Service{svc},
		AcceptLogin: accept,
		Callbacks: Callbacks{
			OnRequest: func(m *msg.Msg, ev *EventContext) {
				p.requests.Add(1)
				reply := &msg.Msg{
					Domain:        m.Domain,
					StreamID:      m.StreamID,
					ContainerType: codec.DataTypeNoData,
					Key:           m.Key.Clone(),
					Body: &msg.Refresh{
						Flags: msg.RefreshSolicited | msg.RefreshComplete,
						State: codec.State{Stream: codec.StreamStateOpen, Data: codec.DataStateOK},
					},
				}
				if err := p.Submit(ev.Channel, reply); err != nil {
					t.Errorf("Submit failed: %v", err)
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("New provider failed: %v", err)
	}
	p.Session = s
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start provider failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return p
}

// pipeDial connects consumer channels to providers by channel name.
func pipeDial(providers map[string]*testProvider) DialFunc {
	return func(_ context.Context, cc ChannelConfig) (channel.Transport, error) {
		p, ok := providers[cc.Name]
		if !ok {
			return nil, fmt.Errorf("no provider for %s", cc.Name)
		}
		local, remote := channel.Pipe()
		if err := p.Attach(remote); err != nil {
			_ = local.Close()
			return nil, err
		}
		return local, nil
	}
}

// dispatchUntil dispatches s until cond holds.
func dispatchUntil(t *testing.T, s *Session, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		if _, err := s.Dispatch(10 * time.Millisecond); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}
}

func ready(s *Session, names ...string) func() bool {
	return func() bool {
		up := map[string]bool{}
		for _, info := range s.Channels() {
			up[info.Name] = info.Ready
		}
		for _, name := range names {
			if !up[name] {
				return false
			}
		}
		return true
	}
}

// itemLog records consumer callbacks. It is only touched by the
// goroutine calling Dispatch.
type itemLog struct {
	refreshes map[watchlist.Handle][]string
	down      map[watchlist.Handle]int
	closed    map[watchlist.Handle]codec.State
	channels  []ChannelEvent
}

func newItemLog() *itemLog {
	return &itemLog{
		refreshes: map[watchlist.Handle][]string{},
		down:      map[watchlist.Handle]int{},
		closed:    map[watchlist.Handle]codec.State{},
	}
}

func (l *itemLog) callbacks() Callbacks {
	return Callbacks{
		OnRefresh: func(m *msg.Msg, ev *EventContext) {
			if ev.Handle != 0 {
				l.refreshes[ev.Handle] = append(l.refreshes[ev.Handle], ev.Channel)
			}
		},
		OnStatus: func(m *msg.Msg, ev *EventContext) {
			st, ok := streamState(m)
			if !ok || ev.Handle == 0 {
				return
			}
			if string(st.Text) == "channel down" {
				l.down[ev.Handle]++
			}
			if st.Stream == codec.StreamStateClosed {
				l.closed[ev.Handle] = st
			}
		},
		OnChannel: func(ev ChannelEvent) {
			l.channels = append(l.channels, ev)
		},
	}
}

func TestSession_FailoverAcrossServiceList(t *testing.T) {
	provA := startProvider(t, testService(1, "SVC_A"), nil)
	provB := startProvider(t, testService(2, "SVC_B"), nil)

	items := newItemLog()
	collector := metrics.NewCollector("consumer", "pipe", "", "test")
	s, err := New(Config{
		Role:         RoleConsumer,
		Dispatch:     DispatchUser,
		Channels:     []ChannelConfig{{Name: "a"}, {Name: "b"}},
		ServiceLists: map[string][]string{"FEED": {"SVC_A", "SVC_B"}},
		ReconnectMin: 20 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
		Dial:         pipeDial(map[string]*testProvider{"a": provA, "b": provB}),
		Callbacks:    items.callbacks(),
		Metrics:      collector,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	dispatchUntil(t, s, "both channels ready", ready(s, "a", "b"))

	const n = 5
	handles := make([]watchlist.Handle, n)
	for i := range handles {
		h, err := s.Open(watchlist.OpenRequest{
			Domain:  msg.DomainMarketPrice,
			Service: "FEED",
			Name:    fmt.Sprintf("ITEM%d", i),
		})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		handles[i] = h
	}
	dispatchUntil(t, s, "refreshes on a", func() bool {
		for _, h := range handles {
			if len(items.refreshes[h]) != 1 {
				return false
			}
		}
		return true
	})
	for _, h := range handles {
		if got := items.refreshes[h][0]; got != "a" {
			t.Errorf("first refresh channel = %q, want %q", got, "a")
		}
	}

	// Take provider A away; its items must move to B.
	if err := provA.Close(); err != nil {
		t.Fatalf("Close provider failed: %v", err)
	}
	dispatchUntil(t, s, "refreshes on b", func() bool {
		for _, h := range handles {
			if len(items.refreshes[h]) != 2 {
				return false
			}
		}
		return true
	})

	for _, h := range handles {
		if got := items.refreshes[h]; got[1] != "b" {
			t.Errorf("refresh channels = %v, want [a b]", got)
		}
		if got := items.down[h]; got != 1 {
			t.Errorf("channel down statuses for %d = %d, want 1", h, got)
		}
		st, ok := s.State(h)
		if !ok || st != watchlist.StateOpenStreaming {
			t.Errorf("State(%d) = %v, want %v", h, st, watchlist.StateOpenStreaming)
		}
	}
	if got := provB.requests.Load(); got != n {
		t.Errorf("provider B requests = %d, want %d", got, n)
	}
	for _, info := range s.Streams() {
		if info.Channel != "b" {
			t.Errorf("stream %s on %q, want %q", info.Name, info.Channel, "b")
		}
	}

	var downs int
	for _, ev := range items.channels {
		if ev.Kind == ChannelDown && ev.Channel == "a" {
			downs++
			if !errors.Is(ev.Err, failure.ErrConnectionLost) {
				t.Errorf("channel down error = %v, want ErrConnectionLost", ev.Err)
			}
		}
	}
	if downs == 0 {
		t.Error("no channel down event for a")
	}
	if snap := collector.Snapshot(); snap.ChannelsDown == 0 || snap.StreamsRecovered < n {
		t.Errorf("metrics = %+v, want channel down and %d recovered streams", snap, n)
	}
}

func TestSession_NoServiceAvailable(t *testing.T) {
	prov := startProvider(t, testService(1, "SVC_A"), nil)
	items := newItemLog()
	var mu sync.Mutex
	var texts []string
	cb := items.callbacks()
	cb.OnAllMsg = func(m *msg.Msg, ev *EventContext) {
		if st, ok := streamState(m); ok && ev.Handle != 0 {
			mu.Lock()
			texts = append(texts, string(st.Text))
			mu.Unlock()
		}
	}
	s, err := New(Config{
		Role:      RoleConsumer,
		Dispatch:  DispatchUser,
		Channels:  []ChannelConfig{{Name: "a"}},
		Dial:      pipeDial(map[string]*testProvider{"a": prov}),
		Callbacks: cb,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()
	dispatchUntil(t, s, "channel ready", ready(s, "a"))

	h, err := s.Open(watchlist.OpenRequest{Domain: msg.DomainMarketPrice, Service: "NOPE", Name: "X"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dispatchUntil(t, s, "status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) > 0
	})
	if texts[0] != "no service available" {
		t.Errorf("status text = %q, want %q", texts[0], "no service available")
	}
	if st, _ := s.State(h); st != watchlist.StateClosedRecoverable {
		t.Errorf("State = %v, want %v", st, watchlist.StateClosedRecoverable)
	}
}

func TestSession_LoginDenied(t *testing.T) {
	prov := startProvider(t, testService(1, "SVC_A"), func(user string) bool { return user == "alice" })

	var dials atomic.Int64
	dial := pipeDial(map[string]*testProvider{"a": prov})
	items := newItemLog()
	s, err := New(Config{
		Role:         RoleConsumer,
		Dispatch:     DispatchUser,
		Channels:     []ChannelConfig{{Name: "a"}},
		Login:        Login{User: "mallory"},
		ReconnectMin: 10 * time.Millisecond,
		Dial: func(ctx context.Context, cc ChannelConfig) (channel.Transport, error) {
			dials.Add(1)
			return dial(ctx, cc)
		},
		Callbacks: items.callbacks(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	dispatchUntil(t, s, "channel down", func() bool {
		for _, ev := range items.channels {
			if ev.Kind == ChannelDown {
				return true
			}
		}
		return false
	})
	// Give the connect loop time to retry if it wrongly would.
	for range 10 {
		if _, err := s.Dispatch(10 * time.Millisecond); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}
	if got := dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	for _, info := range s.Channels() {
		if info.Ready {
			t.Errorf("channel %s ready after denied login", info.Name)
		}
	}
}

func TestSession_ProviderSeesLogin(t *testing.T) {
	var users sync.Map
	prov := startProvider(t, testService(7, "SVC"), func(user string) bool {
		users.Store(user, true)
		return true
	})
	s, err := New(Config{
		Role:     RoleConsumer,
		Dispatch: DispatchUser,
		Channels: []ChannelConfig{{Name: "a"}},
		Login:    Login{User: "alice", Position: "10.0.0.1/host"},
		Dial:     pipeDial(map[string]*testProvider{"a": prov}),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()
	dispatchUntil(t, s, "channel ready", ready(s, "a"))

	if _, ok := users.Load("alice"); !ok {
		t.Error("provider did not see user alice")
	}
	svcs := s.Services("a")
	if len(svcs) != 1 || svcs[0].Name != "SVC" || svcs[0].ID != 7 {
		t.Errorf("Services(a) = %+v, want SVC/7", svcs)
	}
	peers := prov.Channels()
	if len(peers) != 1 || !peers[0].Ready {
		t.Errorf("provider channels = %+v, want one ready peer", peers)
	}
}

func TestSession_RoleMisuse(t *testing.T) {
	prov, err := New(Config{Role: RoleProvider, Services: []directory.Service{testService(1, "SVC")}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer prov.Close()
	if _, err := prov.Open(watchlist.OpenRequest{Domain: msg.DomainMarketPrice, Service: "SVC", Name: "X"}); !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("provider Open error = %v, want ErrInvalidUsage", err)
	}
	if _, err := prov.Dispatch(0); !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("Dispatch under api dispatch error = %v, want ErrInvalidUsage", err)
	}

	cons, err := New(Config{Channels: []ChannelConfig{{Name: "a"}}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer cons.Close()
	if err := cons.SetServiceState("SVC", false); !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("consumer SetServiceState error = %v, want ErrInvalidUsage", err)
	}
	_, remote := channel.Pipe()
	if err := cons.Attach(remote); !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("Attach before start error = %v, want ErrInvalidUsage", err)
	}
}

func TestCanSend(t *testing.T) {
	item := func(d msg.Domain, b msg.Body) *msg.Msg {
		return &msg.Msg{Domain: d, StreamID: 5, Body: b}
	}
	tests := []struct {
		name string
		role Role
		m    *msg.Msg
		want bool
	}{
		{"consumer request", RoleConsumer, item(msg.DomainMarketPrice, &msg.Request{}), true},
		{"consumer refresh", RoleConsumer, item(msg.DomainMarketPrice, &msg.Refresh{}), false},
		{"consumer post", RoleConsumer, item(msg.DomainMarketPrice, &msg.Post{}), true},
		{"provider refresh", RoleProvider, item(msg.DomainMarketPrice, &msg.Refresh{}), true},
		{"provider ack", RoleProvider, item(msg.DomainMarketPrice, &msg.Ack{}), true},
		{"provider request", RoleProvider, item(msg.DomainMarketPrice, &msg.Request{}), false},
		{"niprovider update", RoleNIProvider, item(msg.DomainMarketPrice, &msg.Update{}), true},
		{"niprovider login request", RoleNIProvider, item(msg.DomainLogin, &msg.Request{}), true},
		{"niprovider item request", RoleNIProvider, item(msg.DomainMarketPrice, &msg.Request{}), false},
		{"niprovider post", RoleNIProvider, item(msg.DomainMarketPrice, &msg.Post{}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanSend(tt.role, tt.m); got != tt.want {
				t.Errorf("CanSend() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"consumer", Config{Channels: []ChannelConfig{{Name: "a"}}}, false},
		{"provider without channels", Config{Role: RoleProvider}, false},
		{"consumer without channels", Config{}, true},
		{"unknown role", Config{Role: "broker", Channels: []ChannelConfig{{Name: "a"}}}, true},
		{"unknown dispatch", Config{Dispatch: "later", Channels: []ChannelConfig{{Name: "a"}}}, true},
		{"unnamed channel", Config{Channels: []ChannelConfig{{}}}, true},
		{"duplicate channel", Config{Channels: []ChannelConfig{{Name: "a"}, {Name: "a"}}}, true},
		{"empty service list", Config{
			Channels:     []ChannelConfig{{Name: "a"}},
			ServiceLists: map[string][]string{"FEED": nil},
		}, true},
		{"duplicate service id", Config{
			Role:     RoleProvider,
			Services: []directory.Service{testService(1, "A"), testService(1, "B")},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.defaults()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
