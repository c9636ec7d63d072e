package codec

import "github.com/pithecene-io/sluice/failure"

// SeriesFlags describe the optional parts of a Series header.
type SeriesFlags uint8

const (
	SeriesHasSetDefs        SeriesFlags = 0x01
	SeriesHasSummaryData    SeriesFlags = 0x02
	SeriesHasTotalCountHint SeriesFlags = 0x04
)

// Series is an ordered list of unkeyed entries of one container type.
type Series struct {
	Flags              SeriesFlags
	ContainerType      DataType
	EncodedSetDefs     []byte
	EncodedSummaryData []byte
	TotalCountHint     uint32

	EncodedEntries []byte

	level int
}

// SeriesEntry is one entry of a Series.
type SeriesEntry struct {
	EncodedData []byte
}

// EncodeInit writes the Series header.
func (s *Series) EncodeInit(it *EncodeIterator) error {
	const op = "encode series"
	if !s.ContainerType.IsContainer() {
		return failure.Usage(op, "invalid container type %s", s.ContainerType)
	}
	start := it.pos
	err := it.WriteU8(uint8(s.Flags))
	if err == nil {
		err = it.WriteU8(wireContainer(s.ContainerType))
	}
	if err == nil && s.Flags&SeriesHasSetDefs != 0 {
		err = it.WriteBuffer15(s.EncodedSetDefs)
	}
	if err == nil && s.Flags&SeriesHasSummaryData != 0 {
		err = it.WriteBuffer15(s.EncodedSummaryData)
	}
	if err == nil && s.Flags&SeriesHasTotalCountHint != 0 {
		err = it.WriteU30rb(s.TotalCountHint)
	}
	if err != nil {
		it.pos = start
		return err
	}
	return it.beginContainer(op, DataTypeSeries, start, 2, encodeLevel{containerType: s.ContainerType})
}

// EncodeComplete patches the entry count, or rewinds when success is false.
func (s *Series) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeContainer("encode series complete", DataTypeSeries, success)
}

// Encode appends an entry with pre-encoded data.
func (se *SeriesEntry) Encode(it *EncodeIterator) error {
	const op = "encode series entry"
	parent, err := it.entryParent(op, DataTypeSeries)
	if err != nil {
		return err
	}
	start := it.pos
	if parent.containerType != DataTypeNoData {
		err = it.WriteBuffer16(se.EncodedData)
	}
	return it.finishEntry(parent, start, err)
}

// EncodeInit starts an entry whose container payload is encoded in place.
func (se *SeriesEntry) EncodeInit(it *EncodeIterator) error {
	const op = "encode series entry init"
	parent, err := it.entryParent(op, DataTypeSeries)
	if err != nil {
		return err
	}
	if parent.containerType == DataTypeNoData {
		return failure.Usage(op, "series entries carry no data")
	}
	return it.beginNested(op, it.pos)
}

// EncodeComplete finishes an entry started with EncodeInit.
func (se *SeriesEntry) EncodeComplete(it *EncodeIterator, success bool) error {
	return it.completeNested("encode series entry complete", success)
}

// Decode reads the Series header. When summary data is present the
// payload is narrowed to it.
func (s *Series) Decode(it *DecodeIterator) error {
	const op = "decode series"
	*s = Series{}
	l := decodeLevel{container: DataTypeSeries}
	summaryStart, summaryEnd := -1, -1

	if r := it.decodeHeaderStart(op); r != nil {
		s.Flags = SeriesFlags(r.U8())
		s.ContainerType = fromWireContainer(r.U8())
		if s.Flags&SeriesHasSetDefs != 0 {
			s.EncodedSetDefs = r.Buffer15()
		}
		if s.Flags&SeriesHasSummaryData != 0 {
			s.EncodedSummaryData = r.Buffer15()
			summaryEnd = r.Pos()
			summaryStart = summaryEnd - len(s.EncodedSummaryData)
		}
		if s.Flags&SeriesHasTotalCountHint != 0 {
			s.TotalCountHint = r.U30rb()
		}
		l.count = int(r.U16())
		if s.ContainerType != DataTypeNoData {
			checkCount(r, l.count, 1)
		}
		if err := r.Err(); err != nil {
			return err
		}
		l.next = r.Pos()
		l.containerType = s.ContainerType
		s.EncodedEntries = it.buf[r.Pos():it.end:it.end]
	}
	idx, err := it.pushEntries(op, l)
	if err != nil {
		return err
	}
	s.level = idx
	if summaryStart >= 0 {
		it.setPayload(summaryStart, summaryEnd)
	}
	return nil
}

// DecodeEntry reads the next entry and narrows the payload to its data.
func (s *Series) DecodeEntry(it *DecodeIterator, se *SeriesEntry) error {
	l, err := it.enter(s.level, DataTypeSeries)
	if err != nil {
		return err
	}
	if l.index >= l.count {
		return it.finish(s.level)
	}
	r := it.levelReader("decode series entry", l)
	var data []byte
	if l.containerType != DataTypeNoData {
		data = r.Buffer16()
	}
	if err := r.Err(); err != nil {
		return err
	}
	se.EncodedData = data
	it.entryDone(l, r, data)
	return nil
}
