package dictionary

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
)

func entry(t *testing.T, fid int16, p codec.Primitive) *codec.FieldEntry {
	t.Helper()
	b, err := codec.EncodePrimitive(p, codec.CurrentVersion)
	if err != nil {
		t.Fatalf("EncodePrimitive failed: %v", err)
	}
	return &codec.FieldEntry{FieldID: fid, EncodedData: b}
}

func TestDictionary_AddFieldConflicts(t *testing.T) {
	d := New("test")
	bid := FieldDef{FieldID: 22, Acronym: "BID", Type: codec.DataTypeReal}
	if err := d.AddField(bid); err != nil {
		t.Fatalf("AddField failed: %v", err)
	}
	if err := d.AddField(bid); err != nil {
		t.Errorf("re-adding identical field failed: %v", err)
	}

	tests := []struct {
		name string
		def  FieldDef
	}{
		{"same fid different type", FieldDef{FieldID: 22, Acronym: "BID", Type: codec.DataTypeUInt}},
		{"same acronym different fid", FieldDef{FieldID: 23, Acronym: "BID", Type: codec.DataTypeReal}},
		{"no acronym", FieldDef{FieldID: 24, Type: codec.DataTypeReal}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.AddField(tt.def); !errors.Is(err, failure.ErrInvalidUsage) {
				t.Errorf("AddField error = %v, want ErrInvalidUsage", err)
			}
		})
	}
}

func TestDictionary_Lookup(t *testing.T) {
	d := Builtin()
	def, ok := d.FieldByName("ASK")
	if !ok || def.FieldID != 25 {
		t.Fatalf("FieldByName(ASK) = %+v, %v", def, ok)
	}
	ev, ok := d.Enum(15, 840)
	if !ok || ev.Display != "USD" {
		t.Errorf("Enum(15, 840) = %+v, %v; want USD", ev, ok)
	}
	if _, ok := d.Enum(22, 1); ok {
		t.Error("Enum on a non-enum field should fail")
	}
}

func TestDictionary_Format(t *testing.T) {
	d := Builtin()
	tests := []struct {
		fe      *codec.FieldEntry
		acronym string
		text    string
	}{
		{entry(t, 22, codec.MustReal("39.90")), "BID", "39.90"},
		{entry(t, 15, codec.Enum{Value: 978}), "CURRENCY", "EUR"},
		{entry(t, 3, codec.RMTES([]byte("IBM"))), "DSPLY_NAME", "IBM"},
		{entry(t, 25, codec.Blank{Type: codec.DataTypeReal}), "ASK", ""},
	}
	for _, tt := range tests {
		acronym, text, err := d.Format(tt.fe, codec.CurrentVersion)
		if err != nil {
			t.Fatalf("Format(%d) failed: %v", tt.fe.FieldID, err)
		}
		if acronym != tt.acronym || text != tt.text {
			t.Errorf("Format(%d) = %s %q, want %s %q", tt.fe.FieldID, acronym, text, tt.acronym, tt.text)
		}
	}
}

func TestDictionary_Validate(t *testing.T) {
	d := Builtin()
	if err := d.Validate(entry(t, 22, codec.MustReal("1.5")), codec.CurrentVersion); err != nil {
		t.Errorf("Validate(BID) failed: %v", err)
	}
	if err := d.Validate(entry(t, 15, codec.Enum{Value: 1}), codec.CurrentVersion); !errors.Is(err, failure.ErrDecodeFailure) {
		t.Errorf("Validate(bad enum) error = %v, want ErrDecodeFailure", err)
	}
	long := entry(t, 3, codec.RMTES(bytes.Repeat([]byte("x"), 40)))
	if err := d.Validate(long, codec.CurrentVersion); !errors.Is(err, failure.ErrDecodeFailure) {
		t.Errorf("Validate(long name) error = %v, want ErrDecodeFailure", err)
	}
	bad := &codec.FieldEntry{FieldID: 16, EncodedData: []byte{1, 2, 3}}
	if err := d.Validate(bad, codec.CurrentVersion); !errors.Is(err, failure.ErrDecodeFailure) {
		t.Errorf("Validate(bad date) error = %v, want ErrDecodeFailure", err)
	}
	if err := d.Validate(&codec.FieldEntry{FieldID: 9999}, codec.CurrentVersion); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Validate(unknown) error = %v, want ErrUnknownField", err)
	}
}

func TestSnapshot_SaveLoad(t *testing.T) {
	d := Builtin()
	path := filepath.Join(t.TempDir(), "dict.msgpack")
	if err := d.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if got.Len() != d.Len() {
		t.Errorf("Len() = %d, want %d", got.Len(), d.Len())
	}
	if got.Version() != "builtin" {
		t.Errorf("Version() = %q, want builtin", got.Version())
	}
	def, _ := got.Field(14)
	want, _ := d.Field(14)
	if def != want {
		t.Errorf("Field(14) = %+v, want %+v", def, want)
	}
	if ev, ok := got.Enum(14, 1); !ok || ev.Display != "^" {
		t.Errorf("Enum(14, 1) = %+v, %v", ev, ok)
	}
}

func TestLoad_Garbage(t *testing.T) {
	if _, err := Load(bytes.NewReader([]byte{0xc1, 0x00})); err == nil {
		t.Error("Load(garbage) should fail")
	}
}

func TestRedisCache_FetchOrLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+mr.Addr(), "", time.Hour)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer func() { _ = cache.Close() }()

	if _, err := cache.Fetch(t.Context()); !errors.Is(err, ErrNotCached) {
		t.Fatalf("Fetch(empty) error = %v, want ErrNotCached", err)
	}

	loads := 0
	load := func() (*Dictionary, error) {
		loads++
		return Builtin(), nil
	}
	for range 2 {
		d, err := cache.FetchOrLoad(t.Context(), load)
		if err != nil {
			t.Fatalf("FetchOrLoad failed: %v", err)
		}
		if _, ok := d.FieldByName("BID"); !ok {
			t.Error("cached dictionary lost BID")
		}
	}
	if loads != 1 {
		t.Errorf("loads = %d, want 1", loads)
	}
	if !mr.Exists(DefaultCacheKey) {
		t.Errorf("key %s not set", DefaultCacheKey)
	}
	if ttl := mr.TTL(DefaultCacheKey); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache("", "", 0); err == nil {
		t.Error("empty URL should fail")
	}
	if _, err := NewRedisCache("not-a-url", "", 0); err == nil {
		t.Error("invalid URL should fail")
	}
}
