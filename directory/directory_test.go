package directory

import (
	"testing"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/msg"
)

func encode(t *testing.T, entries []Entry, mask uint32) []byte {
	t.Helper()
	it := codec.NewEncodeIterator(make([]byte, 1024))
	if err := Encode(it, entries, mask); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return it.Bytes()
}

func TestDirectory_RoundTrip(t *testing.T) {
	svc := Service{
		ID:                1,
		Name:              "ELEKTRON_DD",
		Vendor:            "sluice",
		Capabilities:      []msg.Domain{msg.DomainMarketPrice, msg.DomainMarketByOrder},
		Qos:               []codec.Qos{codec.RealtimeTickByTick},
		ItemList:          "_ITEMLIST",
		Up:                true,
		AcceptingRequests: true,
	}
	b := encode(t, []Entry{
		{Action: codec.MapAdd, Service: svc},
		{Action: codec.MapDelete, Service: Service{ID: 9}},
	}, MaskAll)

	got, err := Decode(codec.NewDecodeIterator(b))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(got))
	}
	s := got[0].Service
	if got[0].Filters != MaskAll {
		t.Errorf("Filters = %#x, want %#x", got[0].Filters, MaskAll)
	}
	if s.ID != 1 || s.Name != "ELEKTRON_DD" || s.Vendor != "sluice" || s.ItemList != "_ITEMLIST" {
		t.Errorf("info = %+v", s)
	}
	if !s.Supports(msg.DomainMarketByOrder) || s.Supports(msg.DomainSymbolList) {
		t.Errorf("Capabilities = %v", s.Capabilities)
	}
	if len(s.Qos) != 1 || s.Qos[0] != codec.RealtimeTickByTick {
		t.Errorf("Qos = %v", s.Qos)
	}
	if !s.Available() {
		t.Error("service should be available")
	}
	if got[1].Action != codec.MapDelete || got[1].Service.ID != 9 {
		t.Errorf("entry 1 = %+v, want delete 9", got[1])
	}
}

func TestDirectory_StateOnlyFilter(t *testing.T) {
	b := encode(t, []Entry{{Action: codec.MapUpdate, Service: Service{ID: 2, Up: false, AcceptingRequests: true}}}, MaskState)
	got, err := Decode(codec.NewDecodeIterator(b))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got[0].Filters != MaskState {
		t.Errorf("Filters = %#x, want state only", got[0].Filters)
	}
	if got[0].Service.Name != "" || got[0].Service.Up || !got[0].Service.AcceptingRequests {
		t.Errorf("service = %+v", got[0].Service)
	}
}

func TestDirectory_DecodeRejectsWrongMap(t *testing.T) {
	it := codec.NewEncodeIterator(make([]byte, 64))
	m := codec.Map{KeyType: codec.DataTypeAsciiString, ContainerType: codec.DataTypeFieldList}
	if err := m.EncodeInit(it); err != nil {
		t.Fatalf("EncodeInit failed: %v", err)
	}
	if err := m.EncodeComplete(it, true); err != nil {
		t.Fatalf("EncodeComplete failed: %v", err)
	}
	if _, err := Decode(codec.NewDecodeIterator(it.Bytes())); err == nil {
		t.Error("Decode of a non-directory map should fail")
	}
}

func TestView_Apply(t *testing.T) {
	v := NewView()
	changes := v.Apply([]Entry{
		{Action: codec.MapAdd, Filters: MaskAll, Service: Service{ID: 1, Name: "A", Capabilities: []msg.Domain{msg.DomainMarketPrice}, Up: true, AcceptingRequests: true}},
		{Action: codec.MapAdd, Filters: MaskInfo, Service: Service{ID: 2, Name: "B", Capabilities: []msg.Domain{msg.DomainMarketPrice}}},
	})
	if len(changes) != 2 || !changes[0].Available || changes[0].WasAvailable {
		t.Fatalf("changes = %+v", changes)
	}
	if id, ok := v.Resolve("B", msg.DomainMarketPrice); !ok || id != 2 {
		t.Errorf("Resolve(B) = %d, %v; want 2 (no state filter means up)", id, ok)
	}
	if _, ok := v.Resolve("A", msg.DomainMarketByPrice); ok {
		t.Error("Resolve should check capabilities")
	}

	changes = v.Apply([]Entry{{Action: codec.MapUpdate, Filters: MaskState, Service: Service{ID: 1, Up: false, AcceptingRequests: true}}})
	if !changes[0].WasAvailable || changes[0].Available || changes[0].Name != "A" {
		t.Errorf("down change = %+v", changes[0])
	}
	if s, _ := v.Service(1); s.Name != "A" || s.Up {
		t.Errorf("merged service = %+v, want name kept and down", s)
	}

	changes = v.Apply([]Entry{{Action: codec.MapDelete, Service: Service{ID: 2}}})
	if !changes[0].Removed || changes[0].Name != "B" {
		t.Errorf("delete change = %+v", changes[0])
	}
	if v.Len() != 1 {
		t.Errorf("Len() = %d, want 1", v.Len())
	}
	if got := v.Entries(); len(got) != 1 || got[0].Service.ID != 1 {
		t.Errorf("Entries() = %+v", got)
	}
	v.Reset()
	if v.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", v.Len())
	}
}
