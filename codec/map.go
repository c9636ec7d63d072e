package codec

import "github.com/pithecene-io/sluice/failure"

// MapFlags describe the optional parts of a Map header.
type MapFlags uint8

const (
	MapHasSetDefs          MapFlags = 0x01
	MapHasSummaryData      MapFlags = 0x02
	MapHasPerEntryPermData MapFlags = 0x04
	MapHasTotalCountHint   MapFlags = 0x08
	MapHasKeyFieldID       MapFlags = 0x10
)

// MapAction is the action of a MapEntry.
type MapAction uint8

const (
	MapUpdate MapAction = 1
	MapAdd    MapAction = 2
	MapDelete MapAction = 3
)

func (a MapAction) String() string {
	switch a {
	case MapUpdate:
		return "Update"
	case MapAdd:
		return "Add"
	case MapDelete:
		return "Delete"
	}
	return "Unknown"
}

// MapEntryFlags qualify a MapEntry.
type MapEntryFlags uint8

const MapEntryHasPermData MapEntryFlags = 0x01

// Map is a container of entries keyed by a primitive. Every entry payload
// has ContainerType.
//
// Summary data is written from EncodedSummaryData; encode it into a
// separate buffer first.
type Map struct {
	Flags              MapFlags
	KeyType            DataType
	ContainerType      DataType
	KeyFieldID         int16
	EncodedSetDefs     []byte
	EncodedSummaryData []byte
	TotalCountHint     uint32

	EncodedEntries []byte

	level int
}

// MapEntry is one keyed entry. Key takes precedence over EncodedKey on
// encode; decode fills EncodedKey only, see Map.DecodeKey.
type MapEntry struct {
	Action      MapAction
	Flags       MapEntryFlags
	PermData    []byte
	Key         Primitive
	EncodedKey  []byte
	EncodedData []byte
}

// EncodeInit writes the Map header.
func (m *Map) EncodeInit(it *EncodeIterator) error {
	const op = "encode map"
	if !m.KeyType.IsPrimitive() || m.KeyType == DataTypeArray {
		return failure.Usage(op, "invalid key type %s", m.KeyType)
	}
	if !m.ContainerType.IsContainer() {
		return failure.Usage(op, "invalid container type %s", m.ContainerType)
	}
	start := it.pos
	err := it.WriteU8(uint8(m.Flags))
	if err == nil {
		err = it.WriteU8(uint8(m.KeyType))
	}
	if err == nil {
		err = it.WriteU8(wireContainer(m.ContainerType))
	}
	if err == nil && m.Flags&MapHasKeyFieldID != 0 {
		err = it.WriteU16(uint16(m.KeyFieldID))
	}
	if err == nil && m.Flags&MapHasSetDefs != 0 {
		err = it.WriteBuffer15(m.EncodedSetDefs)
	}
	if err == nil && m.Flags&MapHasSummaryData != 0 {
		err = it.WriteBuffer15(m.EncodedSummaryData)
	}
	if err == nil && m.Flags&MapHasTotalCountHint != 0 {
		err = it.WriteU30rb(m.TotalCountHint)
	}
	if err != nil {
		it.pos = start
		return err
	}
	return it.beginContainer(op, DataTypeMap, start, 2, encodeLevel{
		flags:         uint8(m.Flags),
		keyType:       m.KeyType,
		containerType: m.ContainerType,
	})
}

// EncodeComplete patches the entry count, or rewinds when success is false.
func (m *Map) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeContainer("encode map complete", DataTypeMap, success)
}

func (me *MapEntry) writeHead(op string, it *EncodeIterator, parent *encodeLevel, key Primitive) error {
	if me.Action < MapUpdate || me.Action > MapDelete {
		return failure.Usage(op, "invalid action %d", me.Action)
	}
	flags := me.Flags
	if MapFlags(parent.flags)&MapHasPerEntryPermData == 0 {
		flags &^= MapEntryHasPermData
	}
	if err := it.WriteU8(uint8(flags)<<4 | uint8(me.Action)); err != nil {
		return err
	}
	if flags&MapEntryHasPermData != 0 {
		if err := it.WriteBuffer15(me.PermData); err != nil {
			return err
		}
	}
	if key == nil {
		key = me.Key
	}
	if key != nil {
		if key.DataType() != parent.keyType && !(key.IsBlank() && key.DataType() == DataTypeUnknown) {
			return failure.Usage(op, "key type %s, map keys are %s", key.DataType(), parent.keyType)
		}
		return it.encodeKey(op, key)
	}
	return it.WriteBuffer15(me.EncodedKey)
}

func (me *MapEntry) hasData(parent *encodeLevel) bool {
	return me.Action != MapDelete && parent.containerType != DataTypeNoData
}

// Encode appends the entry with pre-encoded data. key overrides me.Key
// and me.EncodedKey when non-nil.
func (me *MapEntry) Encode(it *EncodeIterator, key Primitive) error {
	const op = "encode map entry"
	parent, err := it.entryParent(op, DataTypeMap)
	if err != nil {
		return err
	}
	start := it.pos
	if err = me.writeHead(op, it, parent, key); err == nil && me.hasData(parent) {
		err = it.WriteBuffer16(me.EncodedData)
	}
	return it.finishEntry(parent, start, err)
}

// EncodeInit starts an entry whose container payload is encoded in place.
func (me *MapEntry) EncodeInit(it *EncodeIterator, key Primitive) error {
	const op = "encode map entry init"
	parent, err := it.entryParent(op, DataTypeMap)
	if err != nil {
		return err
	}
	if !me.hasData(parent) {
		return failure.Usage(op, "%s entry carries no data", me.Action)
	}
	start := it.pos
	if err := me.writeHead(op, it, parent, key); err != nil {
		it.pos = start
		return err
	}
	return it.beginNested(op, start)
}

// EncodeComplete finishes an entry started with EncodeInit.
func (me *MapEntry) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeNested("encode map entry complete", success)
}

// Decode reads the Map header. When summary data is present the payload
// is narrowed to it, so the caller can decode it before the entries.
func (m *Map) Decode(it *DecodeIterator) error {
	const op = "decode map"
	*m = Map{}
	l := decodeLevel{container: DataTypeMap}
	summaryStart, summaryEnd := -1, -1

	if r := it.decodeHeaderStart(op); r != nil {
		m.Flags = MapFlags(r.U8())
		m.KeyType = DataType(r.U8())
		m.ContainerType = fromWireContainer(r.U8())
		if m.Flags&MapHasKeyFieldID != 0 {
			m.KeyFieldID = int16(r.U16())
		}
		if m.Flags&MapHasSetDefs != 0 {
			m.EncodedSetDefs = r.Buffer15()
		}
		if m.Flags&MapHasSummaryData != 0 {
			m.EncodedSummaryData = r.Buffer15()
			summaryEnd = r.Pos()
			summaryStart = summaryEnd - len(m.EncodedSummaryData)
		}
		if m.Flags&MapHasTotalCountHint != 0 {
			m.TotalCountHint = r.U30rb()
		}
		l.count = int(r.U16())
		checkCount(r, l.count, 2)
		if r.Err() == nil && (!m.KeyType.IsPrimitive() || m.KeyType == DataTypeArray) {
			r.Fail("invalid key type %d", m.KeyType)
		}
		if err := r.Err(); err != nil {
			return err
		}
		l.next = r.Pos()
		l.flags = uint8(m.Flags)
		l.keyType = m.KeyType
		l.containerType = m.ContainerType
		m.EncodedEntries = it.buf[r.Pos():it.end:it.end]
	}
	idx, err := it.pushEntries(op, l)
	if err != nil {
		return err
	}
	m.level = idx
	if summaryStart >= 0 {
		it.setPayload(summaryStart, summaryEnd)
	}
	return nil
}

// DecodeEntry reads the next entry and narrows the payload to its data.
// Returns ErrEndOfContainer after the last entry.
func (m *Map) DecodeEntry(it *DecodeIterator, me *MapEntry) error {
	l, err := it.enter(m.level, DataTypeMap)
	if err != nil {
		return err
	}
	if l.index >= l.count {
		return it.finish(m.level)
	}
	r := it.levelReader("decode map entry", l)
	b := r.U8()
	e := MapEntry{Action: MapAction(b & 0x0F), Flags: MapEntryFlags(b >> 4)}
	if e.Flags&MapEntryHasPermData != 0 {
		e.PermData = r.Buffer15()
	}
	e.EncodedKey = r.Buffer15()
	if e.Action != MapDelete && l.containerType != DataTypeNoData {
		e.EncodedData = r.Buffer16()
	}
	if r.Err() == nil && (e.Action < MapUpdate || e.Action > MapDelete) {
		r.Fail("invalid map action %d", e.Action)
	}
	if err := r.Err(); err != nil {
		return err
	}
	*me = e
	it.entryDone(l, r, e.EncodedData)
	return nil
}

// DecodeKey decodes an entry key as the map's key type.
func (m *Map) DecodeKey(it *DecodeIterator, me *MapEntry) (Primitive, error) {
	return DecodePrimitive(m.KeyType, me.EncodedKey, it.version)
}
