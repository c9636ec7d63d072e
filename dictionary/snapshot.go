package dictionary

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotFormat is bumped when the snapshot layout changes.
const snapshotFormat = 1

// snapshot is the msgpack form of a Dictionary.
type snapshot struct {
	Format  int         `msgpack:"format"`
	Version string      `msgpack:"version"`
	Fields  []FieldDef  `msgpack:"fields"`
	Enums   []EnumTable `msgpack:"enums"`
}

// MarshalBinary encodes the dictionary as a msgpack snapshot.
func (d *Dictionary) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(&snapshot{
		Format:  snapshotFormat,
		Version: d.Version(),
		Fields:  d.Fields(),
		Enums:   d.EnumTables(),
	})
}

// Save writes a msgpack snapshot to w.
func (d *Dictionary) Save(w io.Writer) error {
	b, err := d.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode dictionary snapshot: %w", err)
	}
	_, err = w.Write(b)
	return err
}

// Unmarshal decodes a msgpack snapshot into a new dictionary.
func Unmarshal(b []byte) (*Dictionary, error) {
	return Load(bytes.NewReader(b))
}

// Load reads a msgpack snapshot from r.
func Load(r io.Reader) (*Dictionary, error) {
	var snap snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode dictionary snapshot: %w", err)
	}
	if snap.Format != snapshotFormat {
		return nil, fmt.Errorf("unsupported dictionary snapshot format %d", snap.Format)
	}

	d := New(snap.Version)
	for _, t := range snap.Enums {
		if err := d.AddEnumTable(t); err != nil {
			return nil, err
		}
	}
	for _, f := range snap.Fields {
		if err := d.AddField(f); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// LoadFile reads a snapshot file.
func LoadFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// SaveFile writes a snapshot file.
func (d *Dictionary) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
