package codec

import "github.com/pithecene-io/sluice/failure"

// VectorFlags describe the optional parts of a Vector header.
type VectorFlags uint8

const (
	VectorHasSetDefs          VectorFlags = 0x01
	VectorHasSummaryData      VectorFlags = 0x02
	VectorHasPerEntryPermData VectorFlags = 0x04
	VectorHasTotalCountHint   VectorFlags = 0x08
	VectorSupportsSorting     VectorFlags = 0x10
)

// VectorAction is the action of a VectorEntry.
type VectorAction uint8

const (
	VectorUpdate VectorAction = 1
	VectorSet    VectorAction = 2
	VectorClear  VectorAction = 3
	VectorInsert VectorAction = 4
	VectorDelete VectorAction = 5
)

func (a VectorAction) carriesData() bool {
	return a != VectorClear && a != VectorDelete
}

// VectorEntryFlags qualify a VectorEntry.
type VectorEntryFlags uint8

const VectorEntryHasPermData VectorEntryFlags = 0x01

// Vector is a container of entries addressed by index.
type Vector struct {
	Flags              VectorFlags
	ContainerType      DataType
	EncodedSetDefs     []byte
	EncodedSummaryData []byte
	TotalCountHint     uint32

	EncodedEntries []byte

	level int
}

// VectorEntry is one indexed entry.
type VectorEntry struct {
	Action      VectorAction
	Flags       VectorEntryFlags
	Index       uint32
	PermData    []byte
	EncodedData []byte
}

// EncodeInit writes the Vector header.
func (v *Vector) EncodeInit(it *EncodeIterator) error {
	const op = "encode vector"
	if !v.ContainerType.IsContainer() {
		return failure.Usage(op, "invalid container type %s", v.ContainerType)
	}
	start := it.pos
	err := it.WriteU8(uint8(v.Flags))
	if err == nil {
		err = it.WriteU8(wireContainer(v.ContainerType))
	}
	if err == nil && v.Flags&VectorHasSetDefs != 0 {
		err = it.WriteBuffer15(v.EncodedSetDefs)
	}
	if err == nil && v.Flags&VectorHasSummaryData != 0 {
		err = it.WriteBuffer15(v.EncodedSummaryData)
	}
	if err == nil && v.Flags&VectorHasTotalCountHint != 0 {
		err = it.WriteU30rb(v.TotalCountHint)
	}
	if err != nil {
		it.pos = start
		return err
	}
	return it.beginContainer(op, DataTypeVector, start, 2, encodeLevel{
		flags:         uint8(v.Flags),
		containerType: v.ContainerType,
	})
}

// EncodeComplete patches the entry count, or rewinds when success is false.
func (v *Vector) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeContainer("encode vector complete", DataTypeVector, success)
}

func (ve *VectorEntry) writeHead(op string, it *EncodeIterator, parent *encodeLevel) error {
	if ve.Action < VectorUpdate || ve.Action > VectorDelete {
		return failure.Usage(op, "invalid action %d", ve.Action)
	}
	flags := ve.Flags
	if VectorFlags(parent.flags)&VectorHasPerEntryPermData == 0 {
		flags &^= VectorEntryHasPermData
	}
	if err := it.WriteU8(uint8(flags)<<4 | uint8(ve.Action)); err != nil {
		return err
	}
	if err := it.WriteU30rb(ve.Index); err != nil {
		return err
	}
	if flags&VectorEntryHasPermData != 0 {
		return it.WriteBuffer15(ve.PermData)
	}
	return nil
}

func (ve *VectorEntry) hasData(parent *encodeLevel) bool {
	return ve.Action.carriesData() && parent.containerType != DataTypeNoData
}

// Encode appends the entry with pre-encoded data.
func (ve *VectorEntry) Encode(it *EncodeIterator) error {
	const op = "encode vector entry"
	parent, err := it.entryParent(op, DataTypeVector)
	if err != nil {
		return err
	}
	start := it.pos
	if err = ve.writeHead(op, it, parent); err == nil && ve.hasData(parent) {
		err = it.WriteBuffer16(ve.EncodedData)
	}
	return it.finishEntry(parent, start, err)
}

// EncodeInit starts an entry whose container payload is encoded in place.
func (ve *VectorEntry) EncodeInit(it *EncodeIterator) error {
	const op = "encode vector entry init"
	parent, err := it.entryParent(op, DataTypeVector)
	if err != nil {
		return err
	}
	if !ve.hasData(parent) {
		return failure.Usage(op, "action %d carries no data", ve.Action)
	}
	start := it.pos
	if err := ve.writeHead(op, it, parent); err != nil {
		it.pos = start
		return err
	}
	return it.beginNested(op, start)
}

// EncodeComplete finishes an entry started with EncodeInit.
func (ve *VectorEntry) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeNested("encode vector entry complete", success)
}

// Decode reads the Vector header. When summary data is present the
// payload is narrowed to it.
func (v *Vector) Decode(it *DecodeIterator) error {
	const op = "decode vector"
	*v = Vector{}
	l := decodeLevel{container: DataTypeVector}
	summaryStart, summaryEnd := -1, -1

	if r := it.decodeHeaderStart(op); r != nil {
		v.Flags = VectorFlags(r.U8())
		v.ContainerType = fromWireContainer(r.U8())
		if v.Flags&VectorHasSetDefs != 0 {
			v.EncodedSetDefs = r.Buffer15()
		}
		if v.Flags&VectorHasSummaryData != 0 {
			v.EncodedSummaryData = r.Buffer15()
			summaryEnd = r.Pos()
			summaryStart = summaryEnd - len(v.EncodedSummaryData)
		}
		if v.Flags&VectorHasTotalCountHint != 0 {
			v.TotalCountHint = r.U30rb()
		}
		l.count = int(r.U16())
		checkCount(r, l.count, 2)
		if err := r.Err(); err != nil {
			return err
		}
		l.next = r.Pos()
		l.containerType = v.ContainerType
		v.EncodedEntries = it.buf[r.Pos():it.end:it.end]
	}
	idx, err := it.pushEntries(op, l)
	if err != nil {
		return err
	}
	v.level = idx
	if summaryStart >= 0 {
		it.setPayload(summaryStart, summaryEnd)
	}
	return nil
}

// DecodeEntry reads the next entry and narrows the payload to its data.
func (v *Vector) DecodeEntry(it *DecodeIterator, ve *VectorEntry) error {
	l, err := it.enter(v.level, DataTypeVector)
	if err != nil {
		return err
	}
	if l.index >= l.count {
		return it.finish(v.level)
	}
	r := it.levelReader("decode vector entry", l)
	b := r.U8()
	e := VectorEntry{Action: VectorAction(b & 0x0F), Flags: VectorEntryFlags(b >> 4)}
	e.Index = r.U30rb()
	if e.Flags&VectorEntryHasPermData != 0 {
		e.PermData = r.Buffer15()
	}
	if e.Action.carriesData() && l.containerType != DataTypeNoData {
		e.EncodedData = r.Buffer16()
	}
	if r.Err() == nil && (e.Action < VectorUpdate || e.Action > VectorDelete) {
		r.Fail("invalid vector action %d", e.Action)
	}
	if err := r.Err(); err != nil {
		return err
	}
	*ve = e
	it.entryDone(l, r, e.EncodedData)
	return nil
}
