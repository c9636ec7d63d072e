package codec

import "github.com/pithecene-io/sluice/failure"

// FilterListFlags describe the optional parts of a FilterList header.
type FilterListFlags uint8

const (
	FilterListHasPerEntryPermData FilterListFlags = 0x01
	FilterListHasTotalCountHint   FilterListFlags = 0x02
)

// FilterAction is the action of a FilterEntry.
type FilterAction uint8

const (
	FilterUpdate FilterAction = 1
	FilterSet    FilterAction = 2
	FilterClear  FilterAction = 3
)

// FilterEntryFlags qualify a FilterEntry.
type FilterEntryFlags uint8

const (
	FilterEntryHasPermData      FilterEntryFlags = 0x01
	FilterEntryHasContainerType FilterEntryFlags = 0x02
)

// FilterList is a small container of entries addressed by a one byte id.
// An entry may override the list's container type.
type FilterList struct {
	Flags          FilterListFlags
	ContainerType  DataType
	TotalCountHint uint8

	EncodedEntries []byte

	level int
}

// FilterEntry is one entry of a FilterList.
type FilterEntry struct {
	Action        FilterAction
	Flags         FilterEntryFlags
	ID            uint8
	ContainerType DataType
	PermData      []byte
	EncodedData   []byte
}

// EncodeInit writes the FilterList header.
func (fl *FilterList) EncodeInit(it *EncodeIterator) error {
	const op = "encode filter list"
	if !fl.ContainerType.IsContainer() {
		return failure.Usage(op, "invalid container type %s", fl.ContainerType)
	}
	start := it.pos
	err := it.WriteU8(uint8(fl.Flags))
	if err == nil {
		err = it.WriteU8(wireContainer(fl.ContainerType))
	}
	if err == nil && fl.Flags&FilterListHasTotalCountHint != 0 {
		err = it.WriteU8(fl.TotalCountHint)
	}
	if err != nil {
		it.pos = start
		return err
	}
	return it.beginContainer(op, DataTypeFilterList, start, 1, encodeLevel{
		flags:         uint8(fl.Flags),
		containerType: fl.ContainerType,
	})
}

// EncodeComplete patches the entry count, or rewinds when success is false.
func (fl *FilterList) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeContainer("encode filter list complete", DataTypeFilterList, success)
}

func (fe *FilterEntry) containerType(parent *encodeLevel) DataType {
	if fe.Flags&FilterEntryHasContainerType != 0 {
		return fe.ContainerType
	}
	return parent.containerType
}

func (fe *FilterEntry) writeHead(op string, it *EncodeIterator, parent *encodeLevel) error {
	if fe.Action < FilterUpdate || fe.Action > FilterClear {
		return failure.Usage(op, "invalid action %d", fe.Action)
	}
	flags := fe.Flags
	if FilterListFlags(parent.flags)&FilterListHasPerEntryPermData == 0 {
		flags &^= FilterEntryHasPermData
	}
	if flags&FilterEntryHasContainerType != 0 && !fe.ContainerType.IsContainer() {
		return failure.Usage(op, "invalid container type %s", fe.ContainerType)
	}
	if err := it.WriteU8(uint8(flags)<<4 | uint8(fe.Action)); err != nil {
		return err
	}
	if err := it.WriteU8(fe.ID); err != nil {
		return err
	}
	if flags&FilterEntryHasContainerType != 0 {
		if err := it.WriteU8(wireContainer(fe.ContainerType)); err != nil {
			return err
		}
	}
	if flags&FilterEntryHasPermData != 0 {
		return it.WriteBuffer15(fe.PermData)
	}
	return nil
}

func (fe *FilterEntry) hasData(parent *encodeLevel) bool {
	return fe.Action != FilterClear && fe.containerType(parent) != DataTypeNoData
}

// Encode appends the entry with pre-encoded data.
func (fe *FilterEntry) Encode(it *EncodeIterator) error {
	const op = "encode filter entry"
	parent, err := it.entryParent(op, DataTypeFilterList)
	if err != nil {
		return err
	}
	start := it.pos
	if err = fe.writeHead(op, it, parent); err == nil && fe.hasData(parent) {
		err = it.WriteBuffer16(fe.EncodedData)
	}
	return it.finishEntry(parent, start, err)
}

// EncodeInit starts an entry whose container payload is encoded in place.
func (fe *FilterEntry) EncodeInit(it *EncodeIterator) error {
	const op = "encode filter entry init"
	parent, err := it.entryParent(op, DataTypeFilterList)
	if err != nil {
		return err
	}
	if !fe.hasData(parent) {
		return failure.Usage(op, "entry %d carries no data", fe.ID)
	}
	start := it.pos
	if err := fe.writeHead(op, it, parent); err != nil {
		it.pos = start
		return err
	}
	return it.beginNested(op, start)
}

// EncodeComplete finishes an entry started with EncodeInit.
func (fe *FilterEntry) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeNested("encode filter entry complete", success)
}

// Decode reads the FilterList header.
func (fl *FilterList) Decode(it *DecodeIterator) error {
	const op = "decode filter list"
	*fl = FilterList{}
	l := decodeLevel{container: DataTypeFilterList}

	if r := it.decodeHeaderStart(op); r != nil {
		fl.Flags = FilterListFlags(r.U8())
		fl.ContainerType = fromWireContainer(r.U8())
		if fl.Flags&FilterListHasTotalCountHint != 0 {
			fl.TotalCountHint = r.U8()
		}
		l.count = int(r.U8())
		checkCount(r, l.count, 2)
		if err := r.Err(); err != nil {
			return err
		}
		l.next = r.Pos()
		l.containerType = fl.ContainerType
		fl.EncodedEntries = it.buf[r.Pos():it.end:it.end]
	}
	idx, err := it.pushEntries(op, l)
	if err != nil {
		return err
	}
	fl.level = idx
	return nil
}

// DecodeEntry reads the next entry and narrows the payload to its data.
// ContainerType is always set to the entry's effective type.
func (fl *FilterList) DecodeEntry(it *DecodeIterator, fe *FilterEntry) error {
	l, err := it.enter(fl.level, DataTypeFilterList)
	if err != nil {
		return err
	}
	if l.index >= l.count {
		return it.finish(fl.level)
	}
	r := it.levelReader("decode filter entry", l)
	b := r.U8()
	e := FilterEntry{Action: FilterAction(b & 0x0F), Flags: FilterEntryFlags(b >> 4), ContainerType: l.containerType}
	e.ID = r.U8()
	if e.Flags&FilterEntryHasContainerType != 0 {
		e.ContainerType = fromWireContainer(r.U8())
	}
	if e.Flags&FilterEntryHasPermData != 0 {
		e.PermData = r.Buffer15()
	}
	if e.Action != FilterClear && e.ContainerType != DataTypeNoData {
		e.EncodedData = r.Buffer16()
	}
	if r.Err() == nil && (e.Action < FilterUpdate || e.Action > FilterClear) {
		r.Fail("invalid filter action %d", e.Action)
	}
	if err := r.Err(); err != nil {
		return err
	}
	*fe = e
	it.entryDone(l, r, e.EncodedData)
	return nil
}
