package watchlist

import (
	"errors"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
)

// Request payload element names.
const (
	elemViewType = ":ViewType"
	elemViewData = ":ViewData"
	elemItemList = ":ItemList"

	// viewTypeFieldIDs selects fields by id.
	viewTypeFieldIDs = 1
)

// encodeElements encodes an ElementList built by fn into a fresh buffer.
func encodeElements(fn func(put func(name string, p codec.Primitive) error) error) ([]byte, error) {
	size := 256
	for {
		it := codec.NewEncodeIterator(make([]byte, size))
		err := encodeElementList(it, fn)
		if err == nil {
			return it.Bytes(), nil
		}
		if !failure.IsRecoverable(err) || size > 1<<24 {
			return nil, err
		}
		size *= 2
	}
}

func encodeElementList(it *codec.EncodeIterator, fn func(put func(string, codec.Primitive) error) error) error {
	el := codec.ElementList{Flags: codec.ElementListHasStandardData}
	if err := el.EncodeInit(it); err != nil {
		return err
	}
	put := func(name string, p codec.Primitive) error {
		return (&codec.ElementEntry{Name: name}).Encode(it, p)
	}
	if err := fn(put); err != nil {
		_ = el.EncodeComplete(it, false)
		return err
	}
	return el.EncodeComplete(it, true)
}

// decodeElements returns the primitive elements of an ElementList payload.
// Container-typed elements are skipped.
func decodeElements(payload []byte) (map[string]codec.Primitive, error) {
	it := codec.NewDecodeIterator(payload)
	var el codec.ElementList
	if err := el.Decode(it); err != nil {
		return nil, err
	}
	out := make(map[string]codec.Primitive)
	for {
		var ee codec.ElementEntry
		err := el.DecodeEntry(it, &ee)
		if errors.Is(err, codec.ErrEndOfContainer) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if !ee.DataType.IsPrimitive() || ee.DataType == codec.DataTypeNoData {
			continue
		}
		p, err := codec.DecodePrimitive(ee.DataType, ee.EncodedData, it.Version())
		if err != nil {
			return nil, err
		}
		out[ee.Name] = p
	}
}

// requestPayload encodes the view and batch item list of a request.
func requestPayload(view *View, items []string) ([]byte, error) {
	return encodeElements(func(put func(string, codec.Primitive) error) error {
		if view != nil {
			if err := put(elemViewType, codec.UInt{Value: viewTypeFieldIDs}); err != nil {
				return err
			}
			ids := codec.Array{ItemType: codec.DataTypeInt, ItemLength: 2}
			for _, id := range view.FieldIDs {
				ids.Items = append(ids.Items, codec.Int{Value: int64(id)})
			}
			if err := put(elemViewData, ids); err != nil {
				return err
			}
		}
		if len(items) > 0 {
			list := codec.Array{ItemType: codec.DataTypeAsciiString}
			for _, name := range items {
				list.Items = append(list.Items, codec.ASCII(name))
			}
			if err := put(elemItemList, list); err != nil {
				return err
			}
		}
		return nil
	})
}

// ParseRequestPayload extracts the view and batch item list from a request
// payload. Providers use it to answer batch and view requests.
func ParseRequestPayload(payload []byte) (*View, []string, error) {
	elems, err := decodeElements(payload)
	if err != nil {
		return nil, nil, err
	}
	var view *View
	if a, ok := elems[elemViewData].(codec.Array); ok {
		view = &View{}
		for _, item := range a.Items {
			if i, ok := item.(codec.Int); ok {
				view.FieldIDs = append(view.FieldIDs, int16(i.Value))
			}
		}
	}
	var items []string
	if a, ok := elems[elemItemList].(codec.Array); ok {
		for _, item := range a.Items {
			if b, ok := item.(codec.Buffer); ok {
				items = append(items, string(b.Data))
			}
		}
	}
	return view, items, nil
}
