package msg

import (
	"bytes"

	"github.com/pithecene-io/sluice/codec"
)

// KeyFlags mark which Key fields are present.
type KeyFlags uint16

const (
	KeyHasServiceID  KeyFlags = 0x01
	KeyHasName       KeyFlags = 0x02
	KeyHasNameType   KeyFlags = 0x04
	KeyHasFilter     KeyFlags = 0x08
	KeyHasIdentifier KeyFlags = 0x10
	KeyHasAttrib     KeyFlags = 0x20
)

// Name types.
const (
	NameTypeRIC        uint8 = 1
	NameTypeUserName   uint8 = 1
	NameTypeToken      uint8 = 2
	NameTypeContribute uint8 = 3
)

// Key identifies the item a stream is about.
type Key struct {
	Flags      KeyFlags
	ServiceID  uint16
	Name       []byte
	NameType   uint8
	Filter     uint32
	Identifier int32

	AttribContainerType codec.DataType
	EncodedAttrib       []byte
}

// NameKey returns a key with a service id and a name.
func NameKey(serviceID uint16, name string) *Key {
	return &Key{
		Flags:     KeyHasServiceID | KeyHasName,
		ServiceID: serviceID,
		Name:      []byte(name),
	}
}

// HasServiceID reports whether the key names a service id.
func (k *Key) HasServiceID() bool { return k != nil && k.Flags&KeyHasServiceID != 0 }

// NameString returns the key name as a string.
func (k *Key) NameString() string {
	if k == nil {
		return ""
	}
	return string(k.Name)
}

// Equal reports whether two keys carry the same present fields.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	if k.Flags != o.Flags {
		return false
	}
	return (k.Flags&KeyHasServiceID == 0 || k.ServiceID == o.ServiceID) &&
		(k.Flags&KeyHasName == 0 || bytes.Equal(k.Name, o.Name)) &&
		(k.Flags&KeyHasNameType == 0 || k.NameType == o.NameType) &&
		(k.Flags&KeyHasFilter == 0 || k.Filter == o.Filter) &&
		(k.Flags&KeyHasIdentifier == 0 || k.Identifier == o.Identifier) &&
		(k.Flags&KeyHasAttrib == 0 || (k.AttribContainerType == o.AttribContainerType && bytes.Equal(k.EncodedAttrib, o.EncodedAttrib)))
}

// Clone deep-copies the key.
func (k *Key) Clone() *Key {
	if k == nil {
		return nil
	}
	c := *k
	c.Name = cloneBytes(k.Name)
	c.EncodedAttrib = cloneBytes(k.EncodedAttrib)
	return &c
}

func (k *Key) encode(it *codec.EncodeIterator) error {
	if err := it.WriteU15rb(uint16(k.Flags)); err != nil {
		return err
	}
	if k.Flags&KeyHasServiceID != 0 {
		if err := it.WriteU16(k.ServiceID); err != nil {
			return err
		}
	}
	if k.Flags&KeyHasName != 0 {
		if err := it.WriteBuffer8(k.Name); err != nil {
			return err
		}
	}
	if k.Flags&KeyHasNameType != 0 {
		if err := it.WriteU8(k.NameType); err != nil {
			return err
		}
	}
	if k.Flags&KeyHasFilter != 0 {
		if err := it.WriteU32(k.Filter); err != nil {
			return err
		}
	}
	if k.Flags&KeyHasIdentifier != 0 {
		if err := it.WriteU32(uint32(k.Identifier)); err != nil {
			return err
		}
	}
	if k.Flags&KeyHasAttrib != 0 {
		if err := it.WriteU8(uint8(k.AttribContainerType - codec.ContainerTypeMin)); err != nil {
			return err
		}
		if err := it.WriteBuffer15(k.EncodedAttrib); err != nil {
			return err
		}
	}
	return nil
}

func decodeKey(r *codec.Reader) *Key {
	k := &Key{Flags: KeyFlags(r.U15rb())}
	if k.Flags&KeyHasServiceID != 0 {
		k.ServiceID = r.U16()
	}
	if k.Flags&KeyHasName != 0 {
		k.Name = r.Buffer8()
	}
	if k.Flags&KeyHasNameType != 0 {
		k.NameType = r.U8()
	}
	if k.Flags&KeyHasFilter != 0 {
		k.Filter = r.U32()
	}
	if k.Flags&KeyHasIdentifier != 0 {
		k.Identifier = int32(r.U32())
	}
	if k.Flags&KeyHasAttrib != 0 {
		k.AttribContainerType = codec.DataType(r.U8()) + codec.ContainerTypeMin
		k.EncodedAttrib = r.Buffer15()
	}
	return k
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
