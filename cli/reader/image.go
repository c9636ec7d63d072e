package reader

import (
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/msg"
)

// Apply folds m into the image. A refresh that clears the cache replaces
// the fields; other messages overwrite fields by id. RMTES fields keep
// their value across updates so partial updates apply to it. A payload
// that does not decode stops at the bad entry and returns the error.
func (img *ItemImage) Apply(m *msg.Msg, dict *dictionary.Dictionary, v codec.Version) error {
	if st, ok := State(m); ok {
		img.State = st.Stream.String() + "/" + st.Data.String()
		img.Text = string(st.Text)
	}
	switch b := m.Body.(type) {
	case *msg.Refresh:
		if b.Flags&msg.RefreshClearCache != 0 {
			img.Fields = nil
			img.rmtes = nil
		}
	case *msg.Update:
		img.Updates++
	}
	if dict == nil || m.ContainerType != codec.DataTypeFieldList || len(m.Payload) == 0 {
		return nil
	}
	return dictionary.RangeFieldList(m.Payload, v, func(fe *codec.FieldEntry) error {
		if def, ok := dict.Field(fe.FieldID); ok && def.Type == codec.DataTypeRmtesString {
			return img.applyRmtes(def, fe)
		}
		f, err := dict.FormatEntry(fe, v)
		if err != nil {
			return err
		}
		img.set(f)
		return nil
	})
}

func (img *ItemImage) applyRmtes(def dictionary.FieldDef, fe *codec.FieldEntry) error {
	if img.rmtes == nil {
		img.rmtes = make(map[int16]*codec.RmtesCache)
	}
	c, ok := img.rmtes[fe.FieldID]
	if !ok {
		c = &codec.RmtesCache{}
		img.rmtes[fe.FieldID] = c
	}
	if err := c.Apply(fe.EncodedData); err != nil {
		return err
	}
	img.set(dictionary.Value{FieldID: fe.FieldID, Acronym: def.Acronym, Text: c.String()})
	return nil
}

func (img *ItemImage) set(f dictionary.Value) {
	for i := range img.Fields {
		if img.Fields[i].FieldID == f.FieldID {
			img.Fields[i] = f
			return
		}
	}
	img.Fields = append(img.Fields, f)
}

// Field returns the formatted value of acronym.
func (img *ItemImage) Field(acronym string) (string, bool) {
	for _, f := range img.Fields {
		if f.Acronym == acronym {
			return f.Text, true
		}
	}
	return "", false
}
