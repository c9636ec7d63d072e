package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pithecene-io/sluice/failure"
)

// nestedFieldTypes resolves container-valued field ids for walk.
var nestedFieldTypes = map[int16]DataType{100: DataTypeMap}

// walk decodes every level of a container and returns the first error.
func walk(it *DecodeIterator, t DataType) error {
	switch t {
	case DataTypeFieldList:
		var fl FieldList
		if err := fl.Decode(it); err != nil {
			return err
		}
		for {
			var fe FieldEntry
			err := fl.DecodeEntry(it, &fe)
			if errors.Is(err, ErrEndOfContainer) {
				return nil
			}
			if err != nil {
				return err
			}
			if nt, ok := nestedFieldTypes[fe.FieldID]; ok {
				if err := walk(it, nt); err != nil {
					return err
				}
			}
		}
	case DataTypeElementList:
		var el ElementList
		if err := el.Decode(it); err != nil {
			return err
		}
		for {
			var ee ElementEntry
			err := el.DecodeEntry(it, &ee)
			if errors.Is(err, ErrEndOfContainer) {
				return nil
			}
			if err != nil {
				return err
			}
			if ee.DataType.IsContainer() {
				if err := walk(it, ee.DataType); err != nil {
					return err
				}
			} else if _, err := DecodePrimitive(ee.DataType, ee.EncodedData, it.Version()); err != nil {
				return err
			}
		}
	case DataTypeMap:
		var m Map
		if err := m.Decode(it); err != nil {
			return err
		}
		for {
			var me MapEntry
			err := m.DecodeEntry(it, &me)
			if errors.Is(err, ErrEndOfContainer) {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := m.DecodeKey(it, &me); err != nil {
				return err
			}
			if me.EncodedData != nil {
				if err := walk(it, m.ContainerType); err != nil {
					return err
				}
			}
		}
	case DataTypeSeries:
		var s Series
		if err := s.Decode(it); err != nil {
			return err
		}
		for {
			var se SeriesEntry
			err := s.DecodeEntry(it, &se)
			if errors.Is(err, ErrEndOfContainer) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := walk(it, s.ContainerType); err != nil {
				return err
			}
		}
	case DataTypeVector:
		var v Vector
		if err := v.Decode(it); err != nil {
			return err
		}
		for {
			var ve VectorEntry
			err := v.DecodeEntry(it, &ve)
			if errors.Is(err, ErrEndOfContainer) {
				return nil
			}
			if err != nil {
				return err
			}
			if ve.EncodedData != nil {
				if err := walk(it, v.ContainerType); err != nil {
					return err
				}
			}
		}
	case DataTypeFilterList:
		var fl FilterList
		if err := fl.Decode(it); err != nil {
			return err
		}
		for {
			var fe FilterEntry
			err := fl.DecodeEntry(it, &fe)
			if errors.Is(err, ErrEndOfContainer) {
				return nil
			}
			if err != nil {
				return err
			}
			if fe.EncodedData != nil {
				if err := walk(it, fe.ContainerType); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func mustOK(t *testing.T, what string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s failed: %v", what, err)
	}
}

// encodeNested builds FieldList{22: Real, 25: Real, 100: Map{7: FieldList{3: "abc"}, 8: delete}}.
func encodeNested(t *testing.T) []byte {
	t.Helper()
	it := NewEncodeIterator(make([]byte, 512))

	fl := FieldList{Flags: FieldListHasInfo | FieldListHasStandardData, DictionaryID: 1, FieldListNum: 79}
	mustOK(t, "FieldList.EncodeInit", fl.EncodeInit(it))
	mustOK(t, "encode fid 22", (&FieldEntry{FieldID: 22}).Encode(it, MustReal("39.90")))
	mustOK(t, "encode fid 25", (&FieldEntry{FieldID: 25}).Encode(it, MustReal("39.94")))

	fe := FieldEntry{FieldID: 100}
	mustOK(t, "FieldEntry.EncodeInit", fe.EncodeInit(it))
	m := Map{Flags: MapHasKeyFieldID, KeyType: DataTypeUInt, ContainerType: DataTypeFieldList, KeyFieldID: 3}
	mustOK(t, "Map.EncodeInit", m.EncodeInit(it))

	me := MapEntry{Action: MapAdd}
	mustOK(t, "MapEntry.EncodeInit", me.EncodeInit(it, UInt{Value: 7}))
	inner := FieldList{Flags: FieldListHasStandardData}
	mustOK(t, "inner EncodeInit", inner.EncodeInit(it))
	mustOK(t, "encode fid 3", (&FieldEntry{FieldID: 3}).Encode(it, ASCII("abc")))
	mustOK(t, "inner EncodeComplete", inner.EncodeComplete(it, true))
	mustOK(t, "MapEntry.EncodeComplete", me.EncodeComplete(it, true))

	mustOK(t, "encode delete", (&MapEntry{Action: MapDelete}).Encode(it, UInt{Value: 8}))
	mustOK(t, "Map.EncodeComplete", m.EncodeComplete(it, true))
	mustOK(t, "FieldEntry.EncodeComplete", fe.EncodeComplete(it, true))
	mustOK(t, "FieldList.EncodeComplete", fl.EncodeComplete(it, true))

	if it.Depth() != 0 {
		t.Fatalf("Depth() = %d after complete, want 0", it.Depth())
	}
	return append([]byte(nil), it.Bytes()...)
}

func TestFieldList_NestedRoundTrip(t *testing.T) {
	buf := encodeNested(t)
	it := NewDecodeIterator(buf)

	var fl FieldList
	mustOK(t, "FieldList.Decode", fl.Decode(it))
	if fl.DictionaryID != 1 || fl.FieldListNum != 79 {
		t.Errorf("info = %d/%d, want 1/79", fl.DictionaryID, fl.FieldListNum)
	}

	var fids []int16
	for {
		var fe FieldEntry
		err := fl.DecodeEntry(it, &fe)
		if errors.Is(err, ErrEndOfContainer) {
			break
		}
		mustOK(t, "FieldList.DecodeEntry", err)
		fids = append(fids, fe.FieldID)

		switch fe.FieldID {
		case 22, 25:
			r, err := DecodeReal(fe.EncodedData)
			mustOK(t, "DecodeReal", err)
			want := map[int16]string{22: "39.90", 25: "39.94"}[fe.FieldID]
			d, _ := r.Decimal()
			if !d.Equal(decimal.RequireFromString(want)) {
				t.Errorf("fid %d = %s, want %s", fe.FieldID, d, want)
			}
		case 100:
			var m Map
			mustOK(t, "Map.Decode", m.Decode(it))
			if m.KeyFieldID != 3 || m.ContainerType != DataTypeFieldList {
				t.Errorf("map header = %+v", m)
			}
			var actions []MapAction
			for {
				var me MapEntry
				err := m.DecodeEntry(it, &me)
				if errors.Is(err, ErrEndOfContainer) {
					break
				}
				mustOK(t, "Map.DecodeEntry", err)
				actions = append(actions, me.Action)
				key, err := m.DecodeKey(it, &me)
				mustOK(t, "DecodeKey", err)
				if me.Action != MapAdd {
					continue
				}
				if key.(UInt).Value != 7 {
					t.Errorf("key = %v, want 7", key)
				}
				var inner FieldList
				mustOK(t, "inner Decode", inner.Decode(it))
				var ie FieldEntry
				mustOK(t, "inner DecodeEntry", inner.DecodeEntry(it, &ie))
				if ie.FieldID != 3 || string(ie.EncodedData) != "abc" {
					t.Errorf("inner entry = %d %q, want 3 abc", ie.FieldID, ie.EncodedData)
				}
			}
			if len(actions) != 2 || actions[1] != MapDelete {
				t.Errorf("actions = %v, want [Add Delete]", actions)
			}
		}
	}
	if len(fids) != 3 || fids[0] != 22 || fids[1] != 25 || fids[2] != 100 {
		t.Errorf("fids = %v, want [22 25 100]", fids)
	}
	if it.Depth() != 0 {
		t.Errorf("Depth() = %d after walk, want 0", it.Depth())
	}
}

func TestFieldList_EncodedBytesAreBorrowed(t *testing.T) {
	buf := encodeNested(t)
	it := NewDecodeIterator(buf)
	var fl FieldList
	mustOK(t, "Decode", fl.Decode(it))
	var fe FieldEntry
	mustOK(t, "DecodeEntry", fl.DecodeEntry(it, &fe))
	if &fe.EncodedData[0] != &buf[it.start] {
		t.Error("entry data is not a view into the source buffer")
	}
}

func TestDecode_EmptyPayloadIsEmptyContainer(t *testing.T) {
	it := NewDecodeIterator(nil)
	var fl FieldList
	mustOK(t, "Decode", fl.Decode(it))
	var fe FieldEntry
	if err := fl.DecodeEntry(it, &fe); !errors.Is(err, ErrEndOfContainer) {
		t.Errorf("DecodeEntry = %v, want ErrEndOfContainer", err)
	}
}

func TestDecode_TruncationFails(t *testing.T) {
	buf := encodeNested(t)
	for cut := 1; cut < len(buf); cut++ {
		it := NewDecodeIterator(buf[:cut])
		err := walk(it, DataTypeFieldList)
		if !errors.Is(err, failure.ErrDecodeFailure) {
			t.Fatalf("walk(buf[:%d]) error = %v, want ErrDecodeFailure", cut, err)
		}
	}
	if err := walk(NewDecodeIterator(buf), DataTypeFieldList); err != nil {
		t.Fatalf("walk(full) failed: %v", err)
	}
}

func TestDecode_GarbageNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	roots := []DataType{DataTypeFieldList, DataTypeElementList, DataTypeMap, DataTypeSeries, DataTypeVector, DataTypeFilterList}
	buf := make([]byte, 96)
	for i := range 5000 {
		n := rng.Intn(len(buf))
		rng.Read(buf[:n])
		_ = walk(NewDecodeIterator(buf[:n]), roots[i%len(roots)])
	}
}

func TestEncode_RollbackRestoresPosition(t *testing.T) {
	it := NewEncodeIterator(make([]byte, 256))
	fl := FieldList{Flags: FieldListHasStandardData}
	mustOK(t, "EncodeInit", fl.EncodeInit(it))
	mustOK(t, "Encode", (&FieldEntry{FieldID: 1}).Encode(it, UInt{Value: 5}))
	mark := it.Pos()

	fe := FieldEntry{FieldID: 2}
	mustOK(t, "EncodeInit nested", fe.EncodeInit(it))
	el := ElementList{Flags: ElementListHasStandardData}
	mustOK(t, "ElementList.EncodeInit", el.EncodeInit(it))
	mustOK(t, "element", (&ElementEntry{Name: "x"}).Encode(it, Int{Value: -3}))
	mustOK(t, "ElementList.EncodeComplete", el.EncodeComplete(it, true))
	mustOK(t, "rollback entry", fe.EncodeComplete(it, false))

	if it.Pos() != mark {
		t.Fatalf("Pos() = %d after rollback, want %d", it.Pos(), mark)
	}
	mustOK(t, "EncodeComplete", fl.EncodeComplete(it, true))

	dit := NewDecodeIterator(it.Bytes())
	var got FieldList
	mustOK(t, "Decode", got.Decode(dit))
	count := 0
	for {
		var e FieldEntry
		if err := got.DecodeEntry(dit, &e); errors.Is(err, ErrEndOfContainer) {
			break
		} else {
			mustOK(t, "DecodeEntry", err)
		}
		count++
	}
	if count != 1 {
		t.Errorf("entries = %d, want 1", count)
	}
}

func TestEncode_RollbackWholeContainer(t *testing.T) {
	it := NewEncodeIterator(make([]byte, 64))
	fl := FieldList{Flags: FieldListHasStandardData}
	mustOK(t, "EncodeInit", fl.EncodeInit(it))
	mustOK(t, "Encode", (&FieldEntry{FieldID: 1}).Encode(it, UInt{Value: 5}))
	mustOK(t, "EncodeComplete", fl.EncodeComplete(it, false))
	if it.Pos() != 0 || it.Depth() != 0 {
		t.Errorf("Pos/Depth = %d/%d, want 0/0", it.Pos(), it.Depth())
	}
}

func TestEncode_BufferTooSmall(t *testing.T) {
	it := NewEncodeIterator(make([]byte, 8))
	fl := FieldList{Flags: FieldListHasStandardData}
	mustOK(t, "EncodeInit", fl.EncodeInit(it))
	before := it.Pos()
	err := (&FieldEntry{FieldID: 1}).Encode(it, ASCII("too long for the buffer"))
	if !errors.Is(err, failure.ErrBufferTooSmall) {
		t.Fatalf("Encode error = %v, want ErrBufferTooSmall", err)
	}
	if it.Pos() != before {
		t.Errorf("Pos() = %d after failed entry, want %d", it.Pos(), before)
	}
}

func TestEncode_MaxLevels(t *testing.T) {
	it := NewEncodeIterator(make([]byte, 1024))
	var err error
	pushes := 0
	for err == nil {
		if pushes%2 == 0 {
			err = (&FieldList{Flags: FieldListHasStandardData}).EncodeInit(it)
		} else {
			err = (&FieldEntry{FieldID: 1}).EncodeInit(it)
		}
		if err == nil {
			pushes++
		}
	}
	if pushes != MaxLevels {
		t.Errorf("pushes = %d, want %d", pushes, MaxLevels)
	}
	if !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("error = %v, want ErrInvalidUsage", err)
	}
}

func TestEncode_EntryWithoutContainer(t *testing.T) {
	it := NewEncodeIterator(make([]byte, 64))
	err := (&FieldEntry{FieldID: 1}).Encode(it, UInt{Value: 1})
	if !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("Encode error = %v, want ErrInvalidUsage", err)
	}
}

func TestElementList_RoundTrip(t *testing.T) {
	it := NewEncodeIterator(make([]byte, 256))
	el := ElementList{Flags: ElementListHasStandardData | ElementListHasInfo, ElementListNum: 5}
	mustOK(t, "EncodeInit", el.EncodeInit(it))
	mustOK(t, "name", (&ElementEntry{Name: "Name"}).Encode(it, ASCII("user")))
	mustOK(t, "blank", (&ElementEntry{Name: "Position"}).Encode(it, Blank{Type: DataTypeAsciiString}))
	mustOK(t, "nodata", (&ElementEntry{Name: "Flag", DataType: DataTypeNoData}).Encode(it, nil))
	nested := ElementEntry{Name: "Inner", DataType: DataTypeElementList}
	mustOK(t, "nested init", nested.EncodeInit(it))
	inner := ElementList{Flags: ElementListHasStandardData}
	mustOK(t, "inner init", inner.EncodeInit(it))
	mustOK(t, "inner entry", (&ElementEntry{Name: "n"}).Encode(it, UInt{Value: 300}))
	mustOK(t, "inner complete", inner.EncodeComplete(it, true))
	mustOK(t, "nested complete", nested.EncodeComplete(it, true))
	mustOK(t, "EncodeComplete", el.EncodeComplete(it, true))

	dit := NewDecodeIterator(it.Bytes())
	var got ElementList
	mustOK(t, "Decode", got.Decode(dit))
	if got.ElementListNum != 5 {
		t.Errorf("ElementListNum = %d, want 5", got.ElementListNum)
	}
	var entries []ElementEntry
	for {
		var ee ElementEntry
		err := got.DecodeEntry(dit, &ee)
		if errors.Is(err, ErrEndOfContainer) {
			break
		}
		mustOK(t, "DecodeEntry", err)
		entries = append(entries, ee)
		if ee.DataType == DataTypeElementList {
			var in ElementList
			mustOK(t, "inner Decode", in.Decode(dit))
			var ie ElementEntry
			mustOK(t, "inner DecodeEntry", in.DecodeEntry(dit, &ie))
			u, err := DecodeUInt(ie.EncodedData)
			if err != nil || u.Value != 300 {
				t.Errorf("inner value = %v, %v; want 300", u, err)
			}
		}
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].Name != "Name" || entries[0].DataType != DataTypeAsciiString || string(entries[0].EncodedData) != "user" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if len(entries[1].EncodedData) != 0 {
		t.Errorf("blank entry data = %x, want empty", entries[1].EncodedData)
	}
	if entries[2].DataType != DataTypeNoData {
		t.Errorf("entries[2].DataType = %s, want NoData", entries[2].DataType)
	}
}

func TestMap_SummaryNarrowsPayload(t *testing.T) {
	summary := encodeSimpleFieldList(t, 1, UInt{Value: 9})
	it := NewEncodeIterator(make([]byte, 256))
	m := Map{
		Flags:              MapHasSummaryData | MapHasTotalCountHint | MapHasPerEntryPermData,
		KeyType:            DataTypeAsciiString,
		ContainerType:      DataTypeFieldList,
		EncodedSummaryData: summary,
		TotalCountHint:     1000,
	}
	mustOK(t, "EncodeInit", m.EncodeInit(it))
	me := MapEntry{Action: MapUpdate, Flags: MapEntryHasPermData, PermData: []byte{0x03, 0x01}, EncodedData: summary}
	mustOK(t, "Encode", me.Encode(it, ASCII("IBM.N")))
	mustOK(t, "EncodeComplete", m.EncodeComplete(it, true))

	dit := NewDecodeIterator(it.Bytes())
	var got Map
	mustOK(t, "Decode", got.Decode(dit))
	if !bytes.Equal(dit.Payload(), summary) {
		t.Errorf("Payload() = %x, want summary %x", dit.Payload(), summary)
	}
	if got.TotalCountHint != 1000 {
		t.Errorf("TotalCountHint = %d, want 1000", got.TotalCountHint)
	}
	mustOK(t, "walk summary", walk(dit, DataTypeFieldList))

	var e MapEntry
	mustOK(t, "DecodeEntry", got.DecodeEntry(dit, &e))
	if !bytes.Equal(e.PermData, []byte{0x03, 0x01}) {
		t.Errorf("PermData = %x", e.PermData)
	}
	key, err := got.DecodeKey(dit, &e)
	mustOK(t, "DecodeKey", err)
	if key.(Buffer).String() != "IBM.N" {
		t.Errorf("key = %v, want IBM.N", key)
	}
}

func TestMap_KeyTypeMismatch(t *testing.T) {
	it := NewEncodeIterator(make([]byte, 64))
	m := Map{KeyType: DataTypeUInt, ContainerType: DataTypeNoData}
	mustOK(t, "EncodeInit", m.EncodeInit(it))
	err := (&MapEntry{Action: MapAdd}).Encode(it, ASCII("x"))
	if !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("Encode error = %v, want ErrInvalidUsage", err)
	}
}

func encodeSimpleFieldList(t *testing.T, fid int16, p Primitive) []byte {
	t.Helper()
	it := NewEncodeIterator(make([]byte, 64))
	fl := FieldList{Flags: FieldListHasStandardData}
	mustOK(t, "EncodeInit", fl.EncodeInit(it))
	mustOK(t, "Encode", (&FieldEntry{FieldID: fid}).Encode(it, p))
	mustOK(t, "EncodeComplete", fl.EncodeComplete(it, true))
	return append([]byte(nil), it.Bytes()...)
}

func TestSeries_RoundTrip(t *testing.T) {
	row := encodeSimpleFieldList(t, 2, Int{Value: -7})
	it := NewEncodeIterator(make([]byte, 256))
	s := Series{ContainerType: DataTypeFieldList, Flags: SeriesHasTotalCountHint, TotalCountHint: 3}
	mustOK(t, "EncodeInit", s.EncodeInit(it))
	for range 3 {
		mustOK(t, "Encode", (&SeriesEntry{EncodedData: row}).Encode(it))
	}
	mustOK(t, "EncodeComplete", s.EncodeComplete(it, true))

	dit := NewDecodeIterator(it.Bytes())
	var got Series
	mustOK(t, "Decode", got.Decode(dit))
	n := 0
	for {
		var se SeriesEntry
		err := got.DecodeEntry(dit, &se)
		if errors.Is(err, ErrEndOfContainer) {
			break
		}
		mustOK(t, "DecodeEntry", err)
		if !bytes.Equal(se.EncodedData, row) {
			t.Errorf("row %d = %x, want %x", n, se.EncodedData, row)
		}
		n++
	}
	if n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}
}

func TestVector_Actions(t *testing.T) {
	row := encodeSimpleFieldList(t, 1, UInt{Value: 1})
	it := NewEncodeIterator(make([]byte, 256))
	v := Vector{ContainerType: DataTypeFieldList, Flags: VectorSupportsSorting}
	mustOK(t, "EncodeInit", v.EncodeInit(it))
	mustOK(t, "set", (&VectorEntry{Action: VectorSet, Index: 0, EncodedData: row}).Encode(it))
	mustOK(t, "insert", (&VectorEntry{Action: VectorInsert, Index: 70000, EncodedData: row}).Encode(it))
	mustOK(t, "delete", (&VectorEntry{Action: VectorDelete, Index: 3}).Encode(it))
	mustOK(t, "EncodeComplete", v.EncodeComplete(it, true))

	dit := NewDecodeIterator(it.Bytes())
	var got Vector
	mustOK(t, "Decode", got.Decode(dit))
	var entries []VectorEntry
	for {
		var ve VectorEntry
		err := got.DecodeEntry(dit, &ve)
		if errors.Is(err, ErrEndOfContainer) {
			break
		}
		mustOK(t, "DecodeEntry", err)
		entries = append(entries, ve)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[1].Index != 70000 || entries[1].Action != VectorInsert {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if entries[2].EncodedData != nil {
		t.Errorf("delete entry carries data %x", entries[2].EncodedData)
	}
}

func TestFilterList_ContainerTypeOverride(t *testing.T) {
	row := encodeSimpleFieldList(t, 1, UInt{Value: 1})
	it := NewEncodeIterator(make([]byte, 256))
	fl := FilterList{ContainerType: DataTypeFieldList}
	mustOK(t, "EncodeInit", fl.EncodeInit(it))
	mustOK(t, "info", (&FilterEntry{Action: FilterSet, ID: 1, EncodedData: row}).Encode(it))

	ee := FilterEntry{Action: FilterSet, ID: 2, Flags: FilterEntryHasContainerType, ContainerType: DataTypeElementList}
	mustOK(t, "EncodeInit entry", ee.EncodeInit(it))
	el := ElementList{Flags: ElementListHasStandardData}
	mustOK(t, "ElementList init", el.EncodeInit(it))
	mustOK(t, "element", (&ElementEntry{Name: "Name"}).Encode(it, ASCII("svc")))
	mustOK(t, "ElementList complete", el.EncodeComplete(it, true))
	mustOK(t, "EncodeComplete entry", ee.EncodeComplete(it, true))
	mustOK(t, "clear", (&FilterEntry{Action: FilterClear, ID: 3}).Encode(it))
	mustOK(t, "EncodeComplete", fl.EncodeComplete(it, true))

	dit := NewDecodeIterator(it.Bytes())
	var got FilterList
	mustOK(t, "Decode", got.Decode(dit))
	var types []DataType
	for {
		var fe FilterEntry
		err := got.DecodeEntry(dit, &fe)
		if errors.Is(err, ErrEndOfContainer) {
			break
		}
		mustOK(t, "DecodeEntry", err)
		types = append(types, fe.ContainerType)
		if fe.EncodedData != nil {
			mustOK(t, "walk", walk(dit, fe.ContainerType))
		}
	}
	want := []DataType{DataTypeFieldList, DataTypeElementList, DataTypeFieldList}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}
