package codec

// FieldListFlags describe the optional parts of a FieldList header.
type FieldListFlags uint8

const (
	FieldListHasInfo         FieldListFlags = 0x01
	FieldListHasSetData      FieldListFlags = 0x02
	FieldListHasSetID        FieldListFlags = 0x04
	FieldListHasStandardData FieldListFlags = 0x08
)

// FieldList is a container of entries keyed by field id. Field types come
// from the dictionary, not the wire.
//
// Set-defined data is carried as an opaque (SetID, EncodedSetData) pair.
type FieldList struct {
	Flags          FieldListFlags
	DictionaryID   uint16
	FieldListNum   int16
	SetID          uint16
	EncodedSetData []byte

	// EncodedEntries is the borrowed entry region after Decode.
	EncodedEntries []byte

	level int
}

// FieldEntry is one field of a FieldList.
type FieldEntry struct {
	FieldID int16
	// DataType is informational on encode and unknown on decode.
	DataType    DataType
	EncodedData []byte
}

// EncodeInit writes the FieldList header.
func (fl *FieldList) EncodeInit(it *EncodeIterator) error {
	const op = "encode field list"
	start := it.pos
	if err := it.WriteU8(uint8(fl.Flags)); err != nil {
		return err
	}
	err := fl.encodeHeader(it)
	if err != nil {
		it.pos = start
		return err
	}
	countSize := 0
	if fl.Flags&FieldListHasStandardData != 0 {
		countSize = 2
	}
	return it.beginContainer(op, DataTypeFieldList, start, countSize, encodeLevel{})
}

func (fl *FieldList) encodeHeader(it *EncodeIterator) error {
	if fl.Flags&FieldListHasInfo != 0 {
		infoLen := u15rbLen(fl.DictionaryID) + 2
		if err := it.WriteU8(uint8(infoLen)); err != nil {
			return err
		}
		if err := it.WriteU15rb(fl.DictionaryID); err != nil {
			return err
		}
		if err := it.WriteU16(uint16(fl.FieldListNum)); err != nil {
			return err
		}
	}
	if fl.Flags&FieldListHasSetData != 0 {
		if fl.Flags&FieldListHasSetID != 0 {
			if err := it.WriteU15rb(fl.SetID); err != nil {
				return err
			}
		}
		if fl.Flags&FieldListHasStandardData != 0 {
			return it.WriteBuffer15(fl.EncodedSetData)
		}
		return it.WriteBytes(fl.EncodedSetData)
	}
	return nil
}

// EncodeComplete patches the entry count, or rewinds the whole FieldList
// when success is false.
func (fl *FieldList) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeContainer("encode field list complete", DataTypeFieldList, success)
}

// Encode appends the entry. The payload is p when non-nil, otherwise
// fe.EncodedData. A blank primitive writes an empty payload.
func (fe *FieldEntry) Encode(it *EncodeIterator, p Primitive) error {
	const op = "encode field entry"
	parent, err := it.entryParent(op, DataTypeFieldList)
	if err != nil {
		return err
	}
	start := it.pos
	if err = it.WriteU16(uint16(fe.FieldID)); err == nil {
		err = it.writeData(op, p, fe.EncodedData)
	}
	return it.finishEntry(parent, start, err)
}

// EncodeInit starts an entry whose payload is a container encoded in place.
func (fe *FieldEntry) EncodeInit(it *EncodeIterator) error {
	const op = "encode field entry init"
	if _, err := it.entryParent(op, DataTypeFieldList); err != nil {
		return err
	}
	start := it.pos
	if err := it.WriteU16(uint16(fe.FieldID)); err != nil {
		return err
	}
	return it.beginNested(op, start)
}

// EncodeComplete finishes an entry started with EncodeInit.
func (fe *FieldEntry) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeNested("encode field entry complete", success)
}

// Decode reads the FieldList header from the iterator's current payload.
func (fl *FieldList) Decode(it *DecodeIterator) error {
	const op = "decode field list"
	*fl = FieldList{}
	var l decodeLevel
	l.container = DataTypeFieldList

	if r := it.decodeHeaderStart(op); r != nil {
		fl.Flags = FieldListFlags(r.U8())
		if fl.Flags&FieldListHasInfo != 0 {
			infoLen := int(r.U8())
			infoStart := r.Pos()
			fl.DictionaryID = r.U15rb()
			fl.FieldListNum = int16(r.U16())
			skipInfo(r, infoStart, infoLen)
		}
		if fl.Flags&FieldListHasSetData != 0 {
			if fl.Flags&FieldListHasSetID != 0 {
				fl.SetID = r.U15rb()
			}
			if fl.Flags&FieldListHasStandardData != 0 {
				fl.EncodedSetData = r.Buffer15()
			} else {
				fl.EncodedSetData = r.Rest()
			}
		}
		if fl.Flags&FieldListHasStandardData != 0 {
			l.count = int(r.U16())
			checkCount(r, l.count, 3)
			l.next = r.Pos()
			if r.Err() == nil {
				fl.EncodedEntries = it.buf[r.Pos():it.end:it.end]
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
	fl.level = idx
	return nil
}

// DecodeEntry reads the next entry into fe and points the iterator's
// payload at its data. Returns ErrEndOfContainer after the last entry.
func (fl *FieldList) DecodeEntry(it *DecodeIterator, fe *FieldEntry) error {
	l, err := it.enter(fl.level, DataTypeFieldList)
	if err != nil {
		return err
	}
	if l.index >= l.count {
		return it.finish(fl.level)
	}
	r := it.levelReader("decode field entry", l)
	fid := int16(r.U16())
	data := r.Buffer16()
	if err := r.Err(); err != nil {
		return err
	}
	fe.FieldID = fid
	fe.DataType = DataTypeUnknown
	fe.EncodedData = data
	it.entryDone(l, r, data)
	return nil
}
