package codec

// ElementListFlags describe the optional parts of an ElementList header.
type ElementListFlags uint8

const (
	ElementListHasInfo         ElementListFlags = 0x01
	ElementListHasSetData      ElementListFlags = 0x02
	ElementListHasSetID        ElementListFlags = 0x04
	ElementListHasStandardData ElementListFlags = 0x08
)

// ElementList is a container of self-describing entries: each carries
// a name and a data type on the wire.
type ElementList struct {
	Flags          ElementListFlags
	ElementListNum int16
	SetID          uint16
	EncodedSetData []byte

	EncodedEntries []byte

	level int
}

// ElementEntry is one named element.
type ElementEntry struct {
	Name        string
	DataType    DataType
	EncodedData []byte
}

// EncodeInit writes the ElementList header.
func (el *ElementList) EncodeInit(it *EncodeIterator) error {
	const op = "encode element list"
	start := it.pos
	err := it.WriteU8(uint8(el.Flags))
	if err == nil && el.Flags&ElementListHasInfo != 0 {
		if err = it.WriteU8(2); err == nil {
			err = it.WriteU16(uint16(el.ElementListNum))
		}
	}
	if err == nil && el.Flags&ElementListHasSetData != 0 {
		if el.Flags&ElementListHasSetID != 0 {
			err = it.WriteU15rb(el.SetID)
		}
		if err == nil {
			if el.Flags&ElementListHasStandardData != 0 {
				err = it.WriteBuffer15(el.EncodedSetData)
			} else {
				err = it.WriteBytes(el.EncodedSetData)
			}
		}
	}
	if err != nil {
		it.pos = start
		return err
	}
	countSize := 0
	if el.Flags&ElementListHasStandardData != 0 {
		countSize = 2
	}
	return it.beginContainer(op, DataTypeElementList, start, countSize, encodeLevel{})
}

// EncodeComplete patches the entry count, or rewinds when success is false.
func (el *ElementList) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeContainer("encode element list complete", DataTypeElementList, success)
}

func (ee *ElementEntry) writeHead(it *EncodeIterator, t DataType) error {
	if err := it.WriteBuffer15([]byte(ee.Name)); err != nil {
		return err
	}
	return it.WriteU8(uint8(t))
}

// Encode appends the element. With p set, the entry type is p's type;
// otherwise ee.DataType and ee.EncodedData are written as given.
func (ee *ElementEntry) Encode(it *EncodeIterator, p Primitive) error {
	const op = "encode element entry"
	parent, err := it.entryParent(op, DataTypeElementList)
	if err != nil {
		return err
	}
	start := it.pos
	t := ee.DataType
	if p != nil {
		t = p.DataType()
	}
	if err = ee.writeHead(it, t); err == nil && t != DataTypeNoData {
		err = it.writeData(op, p, ee.EncodedData)
	}
	return it.finishEntry(parent, start, err)
}

// EncodeInit starts an element whose container payload of type
// ee.DataType is encoded in place.
func (ee *ElementEntry) EncodeInit(it *EncodeIterator) error {
	const op = "encode element entry init"
	if _, err := it.entryParent(op, DataTypeElementList); err != nil {
		return err
	}
	start := it.pos
	if err := ee.writeHead(it, ee.DataType); err != nil {
		it.pos = start
		return err
	}
	return it.beginNested(op, start)
}

// EncodeComplete finishes an element started with EncodeInit.
func (ee *ElementEntry) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeNested("encode element entry complete", success)
}

// Decode reads the ElementList header from the current payload.
func (el *ElementList) Decode(it *DecodeIterator) error {
	const op = "decode element list"
	*el = ElementList{}
	l := decodeLevel{container: DataTypeElementList}

	if r := it.decodeHeaderStart(op); r != nil {
		el.Flags = ElementListFlags(r.U8())
		if el.Flags&ElementListHasInfo != 0 {
			infoLen := int(r.U8())
			infoStart := r.Pos()
			el.ElementListNum = int16(r.U16())
			skipInfo(r, infoStart, infoLen)
		}
		if el.Flags&ElementListHasSetData != 0 {
			if el.Flags&ElementListHasSetID != 0 {
				el.SetID = r.U15rb()
			}
			if el.Flags&ElementListHasStandardData != 0 {
				el.EncodedSetData = r.Buffer15()
			} else {
				el.EncodedSetData = r.Rest()
			}
		}
		if el.Flags&ElementListHasStandardData != 0 {
			l.count = int(r.U16())
			checkCount(r, l.count, 2)
			l.next = r.Pos()
			if r.Err() == nil {
				el.EncodedEntries = it.buf[r.Pos():it.end:it.end]
			}
		}
		if err := r.Err(); err != nil {
			return err
		}
	}
	idx, err := it.pushEntries(op, l)
	if err != nil {
		return err
	}
	el.level = idx
	return nil
}

// DecodeEntry reads the next element. Returns ErrEndOfContainer after the
// last one.
func (el *ElementList) DecodeEntry(it *DecodeIterator, ee *ElementEntry) error {
	l, err := it.enter(el.level, DataTypeElementList)
	if err != nil {
		return err
	}
	if l.index >= l.count {
		return it.finish(el.level)
	}
	r := it.levelReader("decode element entry", l)
	name := r.Buffer15()
	t := DataType(r.U8())
	var data []byte
	if t != DataTypeNoData {
		data = r.Buffer16()
	}
	if err := r.Err(); err != nil {
		return err
	}
	ee.Name = string(name)
	ee.DataType = t
	ee.EncodedData = data
	it.entryDone(l, r, data)
	return nil
}
