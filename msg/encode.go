package msg

import (
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
)

// Envelope presence bits.
const (
	presentKey            = 0x01
	presentExtendedHeader = 0x02
)

// headerFixedLen is class, domain, stream id, container type and presence.
const headerFixedLen = 8

// EncodeInit writes the header of m and leaves the iterator positioned at
// the payload, which the caller encodes in place with codec containers
// before calling EncodeComplete.
func (m *Msg) EncodeInit(it *codec.EncodeIterator) error {
	const op = "encode msg"
	if m.Body == nil {
		return failure.Usage(op, "message has no body")
	}
	// A request without a key is a reissue by stream id; Validate
	// rejects it for new streams at submit time.
	if err := m.ValidateReissue(); err != nil {
		return err
	}
	start := it.Pos()
	if err := m.encodeHeader(it); err != nil {
		it.Rollback(start)
		return err
	}
	m.encodeStart = start
	return nil
}

// EncodeComplete finishes a message started with EncodeInit. With success
// false everything written since EncodeInit is discarded.
func (m *Msg) EncodeComplete(it *codec.EncodeIterator, success bool) error {
	if !success {
		it.Rollback(m.encodeStart)
	}
	return nil
}

// Encode writes m with its pre-encoded Payload.
func (m *Msg) Encode(it *codec.EncodeIterator) error {
	if err := m.EncodeInit(it); err != nil {
		return err
	}
	if err := it.WriteBytes(m.Payload); err != nil {
		it.Rollback(m.encodeStart)
		return err
	}
	return nil
}

// Marshal encodes m into a new buffer, growing it on ErrBufferTooSmall.
func (m *Msg) Marshal() ([]byte, error) {
	size := 256 + len(m.Payload) + len(m.ExtendedHeader)
	if m.Key != nil {
		size += len(m.Key.Name) + len(m.Key.EncodedAttrib)
	}
	for {
		it := codec.NewEncodeIterator(make([]byte, size))
		err := m.Encode(it)
		if err == nil {
			return it.Bytes(), nil
		}
		if !failure.IsRecoverable(err) || size > 1<<24 {
			return nil, err
		}
		size *= 2
	}
}

func (m *Msg) encodeHeader(it *codec.EncodeIterator) error {
	lenPos, err := it.ReserveU16()
	if err != nil {
		return err
	}
	bodyStart := it.Pos()

	var present uint8
	if m.Key != nil {
		present |= presentKey
	}
	if m.ExtendedHeader != nil {
		present |= presentExtendedHeader
	}
	ct := m.ContainerType
	if ct == codec.DataTypeUnknown {
		ct = codec.DataTypeNoData
	}
	if !ct.IsContainer() {
		return failure.Usage("encode msg", "invalid container type %s", ct)
	}
	if err := it.WriteU8(uint8(m.Body.Class())); err != nil {
		return err
	}
	if err := it.WriteU8(uint8(m.Domain)); err != nil {
		return err
	}
	if err := it.WriteU32(uint32(m.StreamID)); err != nil {
		return err
	}
	if err := it.WriteU8(uint8(ct - codec.ContainerTypeMin)); err != nil {
		return err
	}
	if err := it.WriteU8(present); err != nil {
		return err
	}
	if err := m.Body.encode(it); err != nil {
		return err
	}
	if m.Key != nil {
		if err := m.Key.encode(it); err != nil {
			return err
		}
	}
	if m.ExtendedHeader != nil {
		if err := it.WriteBuffer8(m.ExtendedHeader); err != nil {
			return err
		}
	}
	n := it.Pos() - bodyStart
	if n > 0xFFFF {
		return failure.Usage("encode msg", "header length %d exceeds 65535", n)
	}
	it.PatchU16(lenPos, uint16(n))
	return nil
}

// Decode decodes b into m. Byte fields of m borrow from b.
func Decode(b []byte, m *Msg) error {
	return DecodeVersion(b, m, codec.CurrentVersion)
}

// DecodeVersion decodes b with the negotiated wire version.
func DecodeVersion(b []byte, m *Msg, _ codec.Version) error {
	r := codec.NewReader(b, "decode msg")
	headerLen := int(r.U16())
	header := r.Bytes(headerLen)
	if err := r.Err(); err != nil {
		return err
	}
	if headerLen < headerFixedLen {
		return failure.Decode("decode msg", "header length %d shorter than %d", headerLen, headerFixedLen)
	}
	payload := r.Rest()

	h := codec.NewReader(header, "decode msg header")
	class := Class(h.U8())
	*m = Msg{
		Domain:   Domain(h.U8()),
		StreamID: int32(h.U32()),
	}
	m.ContainerType = codec.DataType(h.U8()) + codec.ContainerTypeMin
	present := h.U8()

	body, err := newBody(class)
	if err != nil {
		return err
	}
	body.decode(h)
	m.Body = body
	if present&presentKey != 0 {
		m.Key = decodeKey(h)
	}
	if present&presentExtendedHeader != 0 {
		m.ExtendedHeader = h.Buffer8()
	}
	if err := h.Err(); err != nil {
		return err
	}
	m.Payload = payload
	return nil
}

func newBody(c Class) (Body, error) {
	switch c {
	case ClassRequest:
		return &Request{}, nil
	case ClassRefresh:
		return &Refresh{}, nil
	case ClassStatus:
		return &Status{}, nil
	case ClassUpdate:
		return &Update{}, nil
	case ClassClose:
		return &Close{}, nil
	case ClassAck:
		return &Ack{}, nil
	case ClassGeneric:
		return &Generic{}, nil
	case ClassPost:
		return &Post{}, nil
	}
	return nil, failure.Decode("decode msg", "unknown class %d", c)
}

// PeekStreamID returns the stream id of an encoded message without
// decoding the rest of it.
func PeekStreamID(b []byte) (int32, error) {
	r := codec.NewReader(b, "peek stream id")
	r.Skip(4)
	id := int32(r.U32())
	return id, r.Err()
}

func writePostUserInfo(it *codec.EncodeIterator, p PostUserInfo) error {
	if err := it.WriteU32(p.Address); err != nil {
		return err
	}
	return it.WriteU32(p.UserID)
}

func readPostUserInfo(r *codec.Reader) PostUserInfo {
	return PostUserInfo{Address: r.U32(), UserID: r.U32()}
}

func (b *Request) encode(it *codec.EncodeIterator) error {
	if err := it.WriteU15rb(uint16(b.Flags)); err != nil {
		return err
	}
	if b.Flags&RequestHasPriority != 0 {
		if err := it.WriteU8(b.PriorityClass); err != nil {
			return err
		}
		if err := it.WriteU16(b.PriorityCount); err != nil {
			return err
		}
	}
	if b.Flags&RequestHasQos != 0 {
		if err := codec.WriteQos(it, b.Qos); err != nil {
			return err
		}
	}
	if b.Flags&RequestHasWorstQos != 0 {
		return codec.WriteQos(it, b.WorstQos)
	}
	return nil
}

func (b *Request) decode(r *codec.Reader) {
	b.Flags = RequestFlags(r.U15rb())
	if b.Flags&RequestHasPriority != 0 {
		b.PriorityClass = r.U8()
		b.PriorityCount = r.U16()
	}
	if b.Flags&RequestHasQos != 0 {
		b.Qos = codec.ReadQos(r)
	}
	if b.Flags&RequestHasWorstQos != 0 {
		b.WorstQos = codec.ReadQos(r)
	}
}

func (b *Refresh) encode(it *codec.EncodeIterator) error {
	if err := it.WriteU15rb(uint16(b.Flags)); err != nil {
		return err
	}
	if b.Flags&RefreshHasSeqNum != 0 {
		if err := it.WriteU32(b.SeqNum); err != nil {
			return err
		}
	}
	if err := codec.WriteState(it, b.State); err != nil {
		return err
	}
	if err := it.WriteBuffer8(b.GroupID); err != nil {
		return err
	}
	if b.Flags&RefreshHasPermData != 0 {
		if err := it.WriteBuffer15(b.PermData); err != nil {
			return err
		}
	}
	if b.Flags&RefreshHasQos != 0 {
		if err := codec.WriteQos(it, b.Qos); err != nil {
			return err
		}
	}
	if b.Flags&RefreshHasPartNum != 0 {
		if err := it.WriteU15rb(b.PartNum); err != nil {
			return err
		}
	}
	if b.Flags&RefreshHasPostUserInfo != 0 {
		return writePostUserInfo(it, b.PostUserInfo)
	}
	return nil
}

func (b *Refresh) decode(r *codec.Reader) {
	b.Flags = RefreshFlags(r.U15rb())
	if b.Flags&RefreshHasSeqNum != 0 {
		b.SeqNum = r.U32()
	}
	b.State = codec.ReadState(r)
	b.GroupID = r.Buffer8()
	if b.Flags&RefreshHasPermData != 0 {
		b.PermData = r.Buffer15()
	}
	if b.Flags&RefreshHasQos != 0 {
		b.Qos = codec.ReadQos(r)
	}
	if b.Flags&RefreshHasPartNum != 0 {
		b.PartNum = r.U15rb()
	}
	if b.Flags&RefreshHasPostUserInfo != 0 {
		b.PostUserInfo = readPostUserInfo(r)
	}
}

func (b *Update) encode(it *codec.EncodeIterator) error {
	if err := it.WriteU15rb(uint16(b.Flags)); err != nil {
		return err
	}
	if err := it.WriteU8(uint8(b.UpdateType)); err != nil {
		return err
	}
	if b.Flags&UpdateHasSeqNum != 0 {
		if err := it.WriteU32(b.SeqNum); err != nil {
			return err
		}
	}
	if b.Flags&UpdateHasConfInfo != 0 {
		if err := it.WriteU15rb(b.ConflatedCount); err != nil {
			return err
		}
		if err := it.WriteU16(b.ConflatedTime); err != nil {
			return err
		}
	}
	if b.Flags&UpdateHasPermData != 0 {
		if err := it.WriteBuffer15(b.PermData); err != nil {
			return err
		}
	}
	if b.Flags&UpdateHasPostUserInfo != 0 {
		return writePostUserInfo(it, b.PostUserInfo)
	}
	return nil
}

func (b *Update) decode(r *codec.Reader) {
	b.Flags = UpdateFlags(r.U15rb())
	b.UpdateType = UpdateType(r.U8())
	if b.Flags&UpdateHasSeqNum != 0 {
		b.SeqNum = r.U32()
	}
	if b.Flags&UpdateHasConfInfo != 0 {
		b.ConflatedCount = r.U15rb()
		b.ConflatedTime = r.U16()
	}
	if b.Flags&UpdateHasPermData != 0 {
		b.PermData = r.Buffer15()
	}
	if b.Flags&UpdateHasPostUserInfo != 0 {
		b.PostUserInfo = readPostUserInfo(r)
	}
}

func (b *Status) encode(it *codec.EncodeIterator) error {
	if err := it.WriteU15rb(uint16(b.Flags)); err != nil {
		return err
	}
	if b.Flags&StatusHasState != 0 {
		if err := codec.WriteState(it, b.State); err != nil {
			return err
		}
	}
	if b.Flags&StatusHasGroupID != 0 {
		if err := it.WriteBuffer8(b.GroupID); err != nil {
			return err
		}
	}
	if b.Flags&StatusHasPermData != 0 {
		if err := it.WriteBuffer15(b.PermData); err != nil {
			return err
		}
	}
	if b.Flags&StatusHasPostUserInfo != 0 {
		return writePostUserInfo(it, b.PostUserInfo)
	}
	return nil
}

func (b *Status) decode(r *codec.Reader) {
	b.Flags = StatusFlags(r.U15rb())
	if b.Flags&StatusHasState != 0 {
		b.State = codec.ReadState(r)
	}
	if b.Flags&StatusHasGroupID != 0 {
		b.GroupID = r.Buffer8()
	}
	if b.Flags&StatusHasPermData != 0 {
		b.PermData = r.Buffer15()
	}
	if b.Flags&StatusHasPostUserInfo != 0 {
		b.PostUserInfo = readPostUserInfo(r)
	}
}

func (b *Close) encode(it *codec.EncodeIterator) error {
	return it.WriteU15rb(uint16(b.Flags))
}

func (b *Close) decode(r *codec.Reader) {
	b.Flags = CloseFlags(r.U15rb())
}

func (b *Post) encode(it *codec.EncodeIterator) error {
	if err := it.WriteU15rb(uint16(b.Flags)); err != nil {
		return err
	}
	if err := writePostUserInfo(it, b.PostUserInfo); err != nil {
		return err
	}
	if b.Flags&PostHasPostID != 0 {
		if err := it.WriteU32(b.PostID); err != nil {
			return err
		}
	}
	if b.Flags&PostHasSeqNum != 0 {
		if err := it.WriteU32(b.SeqNum); err != nil {
			return err
		}
	}
	if b.Flags&PostHasPartNum != 0 {
		if err := it.WriteU15rb(b.PartNum); err != nil {
			return err
		}
	}
	if b.Flags&PostHasPostUserRights != 0 {
		if err := it.WriteU15rb(b.PostUserRights); err != nil {
			return err
		}
	}
	if b.Flags&PostHasPermData != 0 {
		return it.WriteBuffer15(b.PermData)
	}
	return nil
}

func (b *Post) decode(r *codec.Reader) {
	b.Flags = PostFlags(r.U15rb())
	b.PostUserInfo = readPostUserInfo(r)
	if b.Flags&PostHasPostID != 0 {
		b.PostID = r.U32()
	}
	if b.Flags&PostHasSeqNum != 0 {
		b.SeqNum = r.U32()
	}
	if b.Flags&PostHasPartNum != 0 {
		b.PartNum = r.U15rb()
	}
	if b.Flags&PostHasPostUserRights != 0 {
		b.PostUserRights = r.U15rb()
	}
	if b.Flags&PostHasPermData != 0 {
		b.PermData = r.Buffer15()
	}
}

func (b *Ack) encode(it *codec.EncodeIterator) error {
	if err := it.WriteU15rb(uint16(b.Flags)); err != nil {
		return err
	}
	if err := it.WriteU32(b.AckID); err != nil {
		return err
	}
	if b.Flags&AckHasNakCode != 0 {
		if err := it.WriteU8(uint8(b.NakCode)); err != nil {
			return err
		}
	}
	if b.Flags&AckHasText != 0 {
		if err := it.WriteBuffer16(b.Text); err != nil {
			return err
		}
	}
	if b.Flags&AckHasSeqNum != 0 {
		return it.WriteU32(b.SeqNum)
	}
	return nil
}

func (b *Ack) decode(r *codec.Reader) {
	b.Flags = AckFlags(r.U15rb())
	b.AckID = r.U32()
	if b.Flags&AckHasNakCode != 0 {
		b.NakCode = NakCode(r.U8())
	}
	if b.Flags&AckHasText != 0 {
		b.Text = r.Buffer16()
	}
	if b.Flags&AckHasSeqNum != 0 {
		b.SeqNum = r.U32()
	}
}

func (b *Generic) encode(it *codec.EncodeIterator) error {
	if err := it.WriteU15rb(uint16(b.Flags)); err != nil {
		return err
	}
	if b.Flags&GenericHasSeqNum != 0 {
		if err := it.WriteU32(b.SeqNum); err != nil {
			return err
		}
	}
	if b.Flags&GenericHasSecondarySeqNum != 0 {
		if err := it.WriteU32(b.SecondarySeqNum); err != nil {
			return err
		}
	}
	if b.Flags&GenericHasPartNum != 0 {
		if err := it.WriteU15rb(b.PartNum); err != nil {
			return err
		}
	}
	if b.Flags&GenericHasPermData != 0 {
		return it.WriteBuffer15(b.PermData)
	}
	return nil
}

func (b *Generic) decode(r *codec.Reader) {
	b.Flags = GenericFlags(r.U15rb())
	if b.Flags&GenericHasSeqNum != 0 {
		b.SeqNum = r.U32()
	}
	if b.Flags&GenericHasSecondarySeqNum != 0 {
		b.SecondarySeqNum = r.U32()
	}
	if b.Flags&GenericHasPartNum != 0 {
		b.PartNum = r.U15rb()
	}
	if b.Flags&GenericHasPermData != 0 {
		b.PermData = r.Buffer15()
	}
}
