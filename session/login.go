package session

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/directory"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/msg"
	"github.com/pithecene-io/sluice/pool"
	"github.com/pithecene-io/sluice/watchlist"
)

// Login attribute element names.
const (
	attribApplicationID = "ApplicationId"
	attribPosition      = "Position"
	attribRole          = "Role"
)

// Login roles carried in the Role attribute.
const (
	loginRoleConsumer = 0
	loginRoleProvider = 1
)

// niDirectoryStreamID carries the directory a non-interactive provider
// publishes.
const niDirectoryStreamID int32 = -1

// encodeContainer runs fn on a fresh iterator, growing the buffer while
// it is too small.
func encodeContainer(fn func(it *codec.EncodeIterator) error) ([]byte, error) {
	size := pool.DefaultBufferSize
	for {
		it := codec.NewEncodeIterator(make([]byte, size))
		err := fn(it)
		if err == nil {
			return it.Bytes(), nil
		}
		if !errors.Is(err, failure.ErrBufferTooSmall) || size >= 1<<24 {
			return nil, err
		}
		size *= 2
	}
}

func encodeLoginAttrib(l Login, role uint64) ([]byte, error) {
	return encodeContainer(func(it *codec.EncodeIterator) error {
		el := codec.ElementList{Flags: codec.ElementListHasStandardData}
		if err := el.EncodeInit(it); err != nil {
			return err
		}
		put := func(name string, p codec.Primitive) error {
			return (&codec.ElementEntry{Name: name}).Encode(it, p)
		}
		err := put(attribApplicationID, codec.ASCII(l.ApplicationID))
		if err == nil && l.Position != "" {
			err = put(attribPosition, codec.ASCII(l.Position))
		}
		if err == nil {
			err = put(attribRole, codec.UInt{Value: role})
		}
		if err != nil {
			_ = el.EncodeComplete(it, false)
			return err
		}
		return el.EncodeComplete(it, true)
	})
}

// decodeLoginAttrib returns the string attributes of a login key.
func decodeLoginAttrib(k *msg.Key) map[string]string {
	out := make(map[string]string)
	if k == nil || k.Flags&msg.KeyHasAttrib == 0 || k.AttribContainerType != codec.DataTypeElementList {
		return out
	}
	it := codec.NewDecodeIterator(k.EncodedAttrib)
	var el codec.ElementList
	if err := el.Decode(it); err != nil {
		return out
	}
	for {
		var ee codec.ElementEntry
		if err := el.DecodeEntry(it, &ee); err != nil {
			return out
		}
		p, err := codec.DecodePrimitive(ee.DataType, ee.EncodedData, it.Version())
		if err != nil {
			continue
		}
		switch v := p.(type) {
		case codec.Buffer:
			out[ee.Name] = string(v.Data)
		case codec.UInt:
			out[ee.Name] = fmt.Sprint(v.Value)
		}
	}
}

func (s *Session) loginRequest() (*msg.Msg, error) {
	role := uint64(loginRoleConsumer)
	if s.cfg.Role == RoleNIProvider {
		role = loginRoleProvider
	}
	attrib, err := encodeLoginAttrib(s.cfg.Login, role)
	if err != nil {
		return nil, err
	}
	return &msg.Msg{
		Domain:        msg.DomainLogin,
		StreamID:      watchlist.LoginStreamID,
		ContainerType: codec.DataTypeNoData,
		Key: &msg.Key{
			Flags:               msg.KeyHasName | msg.KeyHasNameType | msg.KeyHasAttrib,
			Name:                []byte(s.cfg.Login.User),
			NameType:            msg.NameTypeUserName,
			AttribContainerType: codec.DataTypeElementList,
			EncodedAttrib:       attrib,
		},
		Body: &msg.Request{Flags: msg.RequestStreaming},
	}, nil
}

func (s *Session) sendLogin(c *conn) error {
	m, err := s.loginRequest()
	if err != nil {
		return err
	}
	s.logger.Debug("login request", map[string]any{"channel": c.name, "user": s.cfg.Login.User})
	return s.send(c.name, m)
}

// logout closes the login stream of every logged in channel.
func (s *Session) logout() {
	for _, c := range s.order {
		if c.channel() == nil {
			continue
		}
		m := &msg.Msg{
			Domain:        msg.DomainLogin,
			StreamID:      watchlist.LoginStreamID,
			ContainerType: codec.DataTypeNoData,
			Body:          &msg.Close{},
		}
		if err := s.send(c.name, m); err != nil {
			s.logger.Debug("logout failed", map[string]any{"channel": c.name, "error": err.Error()})
		}
	}
}

// streamState returns the state carried by a Refresh or a Status.
func streamState(m *msg.Msg) (codec.State, bool) {
	switch b := m.Body.(type) {
	case *msg.Refresh:
		return b.State, true
	case *msg.Status:
		if b.Flags&msg.StatusHasState != 0 {
			return b.State, true
		}
	}
	return codec.State{}, false
}

// onLogin handles the login stream of a consumer or non-interactive
// provider channel.
func (s *Session) onLogin(c *conn, m *msg.Msg) {
	s.deliverDirect(c, m)
	st, ok := streamState(m)
	if !ok {
		return
	}
	if st.Stream != codec.StreamStateOpen {
		s.loginDenied(c, st)
		return
	}
	if st.Data != codec.DataStateOK {
		s.logger.Warn("login suspect", map[string]any{"channel": c.name, "text": string(st.Text)})
		return
	}
	if c.loggedIn {
		return
	}
	c.loggedIn = true
	s.logger.Info("login accepted", map[string]any{"channel": c.name, "user": s.cfg.Login.User})
	if s.cfg.Role == RoleNIProvider {
		if err := s.publishDirectory(c); err != nil {
			s.logger.Warn("directory publish failed", map[string]any{"channel": c.name, "error": err.Error()})
			return
		}
		s.markReady(c)
		return
	}
	if err := s.requestDirectory(c); err != nil {
		s.logger.Warn("directory request failed", map[string]any{"channel": c.name, "error": err.Error()})
	}
}

func (s *Session) loginDenied(c *conn, st codec.State) {
	c.denied.Store(true)
	err := failure.Wrap(failure.ErrLoginDenied, "session login", fmt.Errorf("%s/%s: %s", st.Stream, st.Data, st.Text))
	s.logger.Error("login denied", map[string]any{
		"channel": c.name,
		"user":    s.cfg.Login.User,
		"error":   err.Error(),
	})
	s.publish(&adapter.Event{
		EventType:   adapter.EventLoginDenied,
		Channel:     c.name,
		StreamState: st.Stream.String(),
		DataState:   st.Data.String(),
		Text:        string(st.Text),
	})
	if ch := c.channel(); ch != nil {
		_ = ch.Close()
	}
}

func (s *Session) requestDirectory(c *conn) error {
	return s.send(c.name, &msg.Msg{
		Domain:        msg.DomainSource,
		StreamID:      watchlist.DirectoryStreamID,
		ContainerType: codec.DataTypeNoData,
		Key:           &msg.Key{Flags: msg.KeyHasFilter, Filter: directory.MaskAll},
		Body:          &msg.Request{Flags: msg.RequestStreaming},
	})
}

func (s *Session) decodeDirectory(c *conn, m *msg.Msg) ([]directory.Entry, error) {
	if m.ContainerType != codec.DataTypeMap {
		return nil, nil
	}
	it := s.pools.Decoders.Acquire()
	defer s.pools.Decoders.Release(it)
	it.Reset(m.Payload)
	if ch := c.channel(); ch != nil {
		it.SetVersion(ch.Version())
	}
	return directory.Decode(it)
}

// onDirectory applies the directory stream of a consumer channel. The
// channel is ready once the first complete refresh arrives.
func (s *Session) onDirectory(c *conn, m *msg.Msg) {
	s.deliverDirect(c, m)
	switch b := m.Body.(type) {
	case *msg.Refresh:
		entries, err := s.decodeDirectory(c, m)
		if err != nil {
			s.logger.Warn("directory decode failed", map[string]any{"channel": c.name, "error": err.Error()})
			return
		}
		changes := s.selector.Apply(c.name, entries, b.Flags&msg.RefreshClearCache != 0)
		if b.Complete() && !c.ready {
			s.markReady(c)
			if n := s.wl.Recover(); n > 0 {
				s.logger.Info("streams recovered", map[string]any{"channel": c.name, "count": n})
			}
			return
		}
		s.directoryChanged(c, changes)
	case *msg.Update:
		entries, err := s.decodeDirectory(c, m)
		if err != nil {
			s.logger.Warn("directory decode failed", map[string]any{"channel": c.name, "error": err.Error()})
			return
		}
		s.directoryChanged(c, s.selector.Apply(c.name, entries, false))
	case *msg.Status:
		st, ok := streamState(m)
		if !ok || st.Stream == codec.StreamStateOpen {
			return
		}
		s.logger.Warn("directory stream closed", map[string]any{"channel": c.name, "text": string(st.Text)})
		c.ready = false
		s.selector.SetReady(c.name, false)
		s.wl.ChannelDown(c.name)
	}
}

// directoryChanged recovers waiting streams when a service becomes
// available.
func (s *Session) directoryChanged(c *conn, changes []directory.Change) {
	up := false
	for _, ch := range changes {
		if ch.Available == ch.WasAvailable {
			continue
		}
		s.logger.Info("service state changed", map[string]any{
			"channel":   c.name,
			"service":   ch.Name,
			"available": ch.Available,
			"removed":   ch.Removed,
		})
		up = up || ch.Available
	}
	if up && c.ready {
		s.wl.Recover()
	}
}

func (s *Session) onConsumerMsg(c *conn, m *msg.Msg) {
	switch m.StreamID {
	case watchlist.LoginStreamID:
		// acks of off-stream posts come back on the login stream
		if m.Class() == msg.ClassAck {
			s.wl.OnMessage(c.name, m)
			return
		}
		s.onLogin(c, m)
	case watchlist.DirectoryStreamID:
		s.onDirectory(c, m)
	default:
		s.wl.OnMessage(c.name, m)
	}
}

func (s *Session) onNIProviderMsg(c *conn, m *msg.Msg) {
	if m.StreamID == watchlist.LoginStreamID {
		s.onLogin(c, m)
		return
	}
	s.deliverDirect(c, m)
}

// serviceEntries returns the announced services as directory entries.
func (s *Session) serviceEntries() []directory.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]directory.Entry, len(s.services))
	for i, svc := range s.services {
		entries[i] = directory.Entry{Action: codec.MapAdd, Filters: directory.MaskAll, Service: svc}
	}
	return entries
}

func directoryPayload(entries []directory.Entry, mask uint32) ([]byte, error) {
	return encodeContainer(func(it *codec.EncodeIterator) error {
		return directory.Encode(it, entries, mask)
	})
}

// publishDirectory sends the services of a non-interactive provider.
func (s *Session) publishDirectory(c *conn) error {
	payload, err := directoryPayload(s.serviceEntries(), directory.MaskAll)
	if err != nil {
		return err
	}
	err = s.send(c.name, &msg.Msg{
		Domain:        msg.DomainSource,
		StreamID:      niDirectoryStreamID,
		ContainerType: codec.DataTypeMap,
		Key:           &msg.Key{Flags: msg.KeyHasFilter, Filter: directory.MaskAll},
		Payload:       payload,
		Body: &msg.Refresh{
			Flags: msg.RefreshComplete | msg.RefreshClearCache,
			State: codec.State{Stream: codec.StreamStateOpen, Data: codec.DataStateOK},
		},
	})
	if err != nil {
		return err
	}
	c.dirStream.Store(niDirectoryStreamID)
	c.dirFilter.Store(directory.MaskAll)
	return nil
}
