// Package dictionary holds field and enumeration metadata used to interpret
// FieldList entries.
//
// A Dictionary is read-mostly: it is filled once (from a snapshot, a cache
// or Builtin) and then shared by every session, so lookups take a read lock.
package dictionary

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
)

// ErrUnknownField is returned for field ids the dictionary does not define.
var ErrUnknownField = errors.New("unknown field")

// FieldDef describes one field id.
type FieldDef struct {
	FieldID    int16          `msgpack:"fid" json:"fid"`
	Acronym    string         `msgpack:"acronym" json:"acronym"`
	DDEAcronym string         `msgpack:"dde_acronym,omitempty" json:"dde_acronym,omitempty"`
	Type       codec.DataType `msgpack:"type" json:"type"`
	Length     uint16         `msgpack:"length,omitempty" json:"length,omitempty"`
	RippleTo   int16          `msgpack:"ripple_to,omitempty" json:"ripple_to,omitempty"`
	// EnumTable names the shared enum table for Enum fields, 0 if none.
	EnumTable int `msgpack:"enum_table,omitempty" json:"enum_table,omitempty"`
}

// EnumValue is one entry of an enum table.
type EnumValue struct {
	Value   uint16 `msgpack:"value" json:"value"`
	Display string `msgpack:"display" json:"display"`
	Meaning string `msgpack:"meaning,omitempty" json:"meaning,omitempty"`
}

// EnumTable is a set of enum values shared by one or more fields.
type EnumTable struct {
	ID     int         `msgpack:"id" json:"id"`
	Values []EnumValue `msgpack:"values" json:"values"`
}

// Dictionary maps field ids to definitions.
type Dictionary struct {
	mu      sync.RWMutex
	version string
	fields  map[int16]FieldDef
	byName  map[string]int16
	enums   map[int]map[uint16]EnumValue
	tables  map[int]EnumTable
}

// New returns an empty dictionary.
func New(version string) *Dictionary {
	return &Dictionary{
		version: version,
		fields:  make(map[int16]FieldDef),
		byName:  make(map[string]int16),
		enums:   make(map[int]map[uint16]EnumValue),
		tables:  make(map[int]EnumTable),
	}
}

// Version returns the dictionary version string.
func (d *Dictionary) Version() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// AddField registers a field definition. Redefining a field id or an
// acronym with a different definition fails.
func (d *Dictionary) AddField(def FieldDef) error {
	const op = "add field"
	if def.Acronym == "" {
		return failure.Usage(op, "field %d has no acronym", def.FieldID)
	}
	if !def.Type.IsPrimitive() && !def.Type.IsContainer() {
		return failure.Usage(op, "field %s has invalid type %d", def.Acronym, def.Type)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.fields[def.FieldID]; ok && cur != def {
		return failure.Usage(op, "field %d already defined as %s", def.FieldID, cur.Acronym)
	}
	if fid, ok := d.byName[def.Acronym]; ok && fid != def.FieldID {
		return failure.Usage(op, "acronym %s already used by field %d", def.Acronym, fid)
	}
	d.fields[def.FieldID] = def
	d.byName[def.Acronym] = def.FieldID
	return nil
}

// AddEnumTable registers an enum table. Fields refer to it by ID.
func (d *Dictionary) AddEnumTable(t EnumTable) error {
	if t.ID <= 0 {
		return failure.Usage("add enum table", "table id must be positive, got %d", t.ID)
	}
	values := make(map[uint16]EnumValue, len(t.Values))
	for _, v := range t.Values {
		values[v.Value] = v
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.enums[t.ID] = values
	d.tables[t.ID] = t
	return nil
}

// Field returns the definition of fid.
func (d *Dictionary) Field(fid int16) (FieldDef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.fields[fid]
	return def, ok
}

// FieldByName returns the definition with the given acronym.
func (d *Dictionary) FieldByName(acronym string) (FieldDef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fid, ok := d.byName[acronym]
	if !ok {
		return FieldDef{}, false
	}
	return d.fields[fid], true
}

// Enum resolves an enum value of field fid.
func (d *Dictionary) Enum(fid int16, value uint16) (EnumValue, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.fields[fid]
	if !ok || def.EnumTable == 0 {
		return EnumValue{}, false
	}
	v, ok := d.enums[def.EnumTable][value]
	return v, ok
}

// Len returns the number of fields.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.fields)
}

// Fields returns every definition ordered by field id.
func (d *Dictionary) Fields() []FieldDef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]FieldDef, 0, len(d.fields))
	for _, def := range d.fields {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldID < out[j].FieldID })
	return out
}

// EnumTables returns every enum table ordered by id.
func (d *Dictionary) EnumTables() []EnumTable {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EnumTable, 0, len(d.tables))
	for _, t := range d.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Decode interprets a field entry with the type the dictionary assigns to
// its field id. Container fields are returned as nil with no error; the
// caller decodes them from the iterator payload.
func (d *Dictionary) Decode(fe *codec.FieldEntry, v codec.Version) (FieldDef, codec.Primitive, error) {
	def, ok := d.Field(fe.FieldID)
	if !ok {
		return FieldDef{}, nil, fmt.Errorf("field %d: %w", fe.FieldID, ErrUnknownField)
	}
	if def.Type.IsContainer() {
		return def, nil, nil
	}
	p, err := codec.DecodePrimitive(def.Type, fe.EncodedData, v)
	if err != nil {
		return def, nil, fmt.Errorf("field %s: %w", def.Acronym, err)
	}
	return def, p, nil
}

// Validate checks that a field entry decodes as its dictionary type and,
// for fixed-length string fields, fits the declared length.
func (d *Dictionary) Validate(fe *codec.FieldEntry, v codec.Version) error {
	def, p, err := d.Decode(fe, v)
	if err != nil {
		return err
	}
	if p == nil || p.IsBlank() {
		return nil
	}
	if def.Type.IsBuffer() && def.Length > 0 && len(fe.EncodedData) > int(def.Length) {
		return failure.Decode("validate field", "%s length %d exceeds %d", def.Acronym, len(fe.EncodedData), def.Length)
	}
	if e, ok := p.(codec.Enum); ok && def.EnumTable != 0 {
		if _, ok := d.Enum(fe.FieldID, e.Value); !ok {
			return failure.Decode("validate field", "%s enum value %d not in table %d", def.Acronym, e.Value, def.EnumTable)
		}
	}
	return nil
}

// Format renders a field entry as (acronym, text). Enum values are shown
// with their display string.
func (d *Dictionary) Format(fe *codec.FieldEntry, v codec.Version) (string, string, error) {
	def, p, err := d.Decode(fe, v)
	if err != nil {
		return "", "", err
	}
	if p == nil {
		return def.Acronym, fmt.Sprintf("<%s %d bytes>", def.Type, len(fe.EncodedData)), nil
	}
	if p.IsBlank() {
		return def.Acronym, "", nil
	}
	if e, ok := p.(codec.Enum); ok {
		if ev, ok := d.Enum(fe.FieldID, e.Value); ok {
			return def.Acronym, ev.Display, nil
		}
	}
	if s, ok := p.(fmt.Stringer); ok {
		return def.Acronym, s.String(), nil
	}
	return def.Acronym, fmt.Sprintf("%v", p), nil
}
