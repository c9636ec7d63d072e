package msg

import (
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
)

// Validate checks the class-specific mandatory fields of m.
func (m *Msg) Validate() error {
	return m.validate(false)
}

// ValidateReissue validates a request that reissues an open stream. The
// stream id identifies the item, so no key is required.
func (m *Msg) ValidateReissue() error {
	return m.validate(true)
}

func (m *Msg) validate(reissue bool) error {
	const op = "validate msg"
	if m.Body == nil {
		return failure.Usage(op, "message has no body")
	}
	if m.StreamID == 0 {
		return failure.Usage(op, "%s has stream id 0", m.Class())
	}
	if m.ContainerType != codec.DataTypeUnknown && !m.ContainerType.IsContainer() {
		return failure.Usage(op, "%s payload type %s is not a container", m.Class(), m.ContainerType)
	}
	if m.Key != nil && m.Key.Flags&KeyHasAttrib != 0 && !m.Key.AttribContainerType.IsContainer() {
		return failure.Usage(op, "key attribute type %s is not a container", m.Key.AttribContainerType)
	}

	switch b := m.Body.(type) {
	case *Request:
		if !reissue && m.Key == nil {
			return failure.Usage(op, "request on stream %d has no key", m.StreamID)
		}
	case *Refresh:
		if b.State.Blank || b.State.Stream == codec.StreamStateUnspecified {
			return failure.Usage(op, "refresh on stream %d has no stream state", m.StreamID)
		}
	case *Status:
		if b.Flags&StatusHasState != 0 && b.State.Stream == codec.StreamStateUnspecified {
			return failure.Usage(op, "status on stream %d has unspecified stream state", m.StreamID)
		}
	case *Ack:
		if b.Flags&AckHasNakCode == 0 && b.NakCode != NakNone {
			return failure.Usage(op, "ack carries nak code without the flag")
		}
	}
	return nil
}

// Clone deep-copies m so it outlives the buffer it was decoded from.
func (m *Msg) Clone() *Msg {
	c := *m
	c.Key = m.Key.Clone()
	c.ExtendedHeader = cloneBytes(m.ExtendedHeader)
	c.Payload = cloneBytes(m.Payload)
	if m.Body != nil {
		c.Body = m.Body.clone()
	}
	c.encodeStart = 0
	return &c
}

func (b *Request) clone() Body {
	c := *b
	return &c
}

func (b *Refresh) clone() Body {
	c := *b
	c.State.Text = cloneBytes(b.State.Text)
	c.GroupID = cloneBytes(b.GroupID)
	c.PermData = cloneBytes(b.PermData)
	return &c
}

func (b *Update) clone() Body {
	c := *b
	c.PermData = cloneBytes(b.PermData)
	return &c
}

func (b *Status) clone() Body {
	c := *b
	c.State.Text = cloneBytes(b.State.Text)
	c.GroupID = cloneBytes(b.GroupID)
	c.PermData = cloneBytes(b.PermData)
	return &c
}

func (b *Close) clone() Body {
	c := *b
	return &c
}

func (b *Post) clone() Body {
	c := *b
	c.PermData = cloneBytes(b.PermData)
	return &c
}

func (b *Ack) clone() Body {
	c := *b
	c.Text = cloneBytes(b.Text)
	return &c
}

func (b *Generic) clone() Body {
	c := *b
	c.PermData = cloneBytes(b.PermData)
	return &c
}
