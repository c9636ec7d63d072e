package session

import (
	"errors"
	"slices"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/directory"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/msg"
)

// onProviderMsg answers the login and directory streams of a consumer
// and hands item traffic to the callbacks.
func (s *Session) onProviderMsg(c *conn, m *msg.Msg) {
	switch m.Domain {
	case msg.DomainLogin:
		switch b := m.Body.(type) {
		case *msg.Request:
			s.onLoginRequest(c, m, b)
			return
		case *msg.Close:
			s.logger.Info("peer logged out", map[string]any{"channel": c.name, "user": c.user})
			c.loggedIn = false
			return
		}
	case msg.DomainSource:
		switch m.Body.(type) {
		case *msg.Request:
			if c.loggedIn {
				s.onDirectoryRequest(c, m)
				return
			}
		case *msg.Close:
			c.dirStream.Store(0)
			return
		}
	}
	if !c.loggedIn {
		s.logger.Warn("message before login dropped", map[string]any{
			"channel":   c.name,
			"class":     m.Class().String(),
			"domain":    m.Domain.String(),
			"stream_id": m.StreamID,
		})
		return
	}
	s.deliverDirect(c, m)
}

func (s *Session) onLoginRequest(c *conn, m *msg.Msg, req *msg.Request) {
	user := m.Key.NameString()
	attrib := decodeLoginAttrib(m.Key)
	key := &msg.Key{Flags: msg.KeyHasName | msg.KeyHasNameType, Name: []byte(user), NameType: msg.NameTypeUserName}

	if s.cfg.AcceptLogin != nil && !s.cfg.AcceptLogin(user) {
		s.logger.Warn("login rejected", map[string]any{
			"channel":        c.name,
			"user":           user,
			"application_id": attrib[attribApplicationID],
		})
		err := s.send(c.name, &msg.Msg{
			Domain:        msg.DomainLogin,
			StreamID:      m.StreamID,
			ContainerType: codec.DataTypeNoData,
			Key:           key,
			Body: &msg.Status{
				Flags: msg.StatusHasState,
				State: codec.State{
					Stream: codec.StreamStateClosed,
					Data:   codec.DataStateSuspect,
					Code:   codec.StateCodeNotEntitled,
					Text:   []byte("login denied"),
				},
			},
		})
		if err != nil {
			s.logger.Debug("login reject send failed", map[string]any{"channel": c.name, "error": err.Error()})
		}
		if ch := c.channel(); ch != nil {
			_ = ch.Close()
		}
		return
	}

	flags := msg.RefreshComplete
	if req.Flags&msg.RequestNoRefresh == 0 {
		flags |= msg.RefreshSolicited
	}
	err := s.send(c.name, &msg.Msg{
		Domain:        msg.DomainLogin,
		StreamID:      m.StreamID,
		ContainerType: codec.DataTypeNoData,
		Key:           key,
		Body: &msg.Refresh{
			Flags: flags,
			State: codec.State{Stream: codec.StreamStateOpen, Data: codec.DataStateOK, Text: []byte("login accepted")},
		},
	})
	if err != nil {
		s.logger.Warn("login refresh failed", map[string]any{"channel": c.name, "error": err.Error()})
		return
	}
	c.loggedIn, c.user = true, user
	s.logger.Info("peer logged in", map[string]any{
		"channel":        c.name,
		"user":           user,
		"application_id": attrib[attribApplicationID],
		"peer_role":      attrib[attribRole],
	})
	s.markReady(c)
}

func (s *Session) onDirectoryRequest(c *conn, m *msg.Msg) {
	filter := directory.MaskAll
	if m.Key != nil && m.Key.Flags&msg.KeyHasFilter != 0 {
		filter = m.Key.Filter
	}
	payload, err := directoryPayload(s.serviceEntries(), filter)
	if err != nil {
		s.logger.Error("directory encode failed", map[string]any{"channel": c.name, "error": err.Error()})
		return
	}
	err = s.send(c.name, &msg.Msg{
		Domain:        msg.DomainSource,
		StreamID:      m.StreamID,
		ContainerType: codec.DataTypeMap,
		Key:           &msg.Key{Flags: msg.KeyHasFilter, Filter: filter},
		Payload:       payload,
		Body: &msg.Refresh{
			Flags: msg.RefreshSolicited | msg.RefreshComplete | msg.RefreshClearCache,
			State: codec.State{Stream: codec.StreamStateOpen, Data: codec.DataStateOK},
		},
	})
	if err != nil {
		s.logger.Warn("directory refresh failed", map[string]any{"channel": c.name, "error": err.Error()})
		return
	}
	c.dirStream.Store(m.StreamID)
	c.dirFilter.Store(filter)
}

// SetServiceState marks a service up or down and sends the change to
// every channel with an open directory stream.
func (s *Session) SetServiceState(name string, up bool) error {
	const op = "session service state"
	if s.cfg.Role == RoleConsumer {
		return failure.Usage(op, "consumer sessions announce no services")
	}
	s.mu.Lock()
	i := slices.IndexFunc(s.services, func(svc directory.Service) bool { return svc.Name == name })
	if i < 0 {
		s.mu.Unlock()
		return failure.Usage(op, "unknown service %q", name)
	}
	s.services[i].Up = up
	svc := s.services[i]
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	entries := []directory.Entry{{Action: codec.MapUpdate, Filters: directory.MaskState, Service: svc}}
	payload, err := directoryPayload(entries, directory.MaskState)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range conns {
		id := c.dirStream.Load()
		if id == 0 || c.dirFilter.Load()&directory.MaskState == 0 {
			continue
		}
		err := s.send(c.name, &msg.Msg{
			Domain:        msg.DomainSource,
			StreamID:      id,
			ContainerType: codec.DataTypeMap,
			Payload:       payload,
			Body:          &msg.Update{},
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("service state set", map[string]any{"service": name, "up": up, "channels": len(conns)})
	return errors.Join(errs...)
}
