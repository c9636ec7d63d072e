package dictionary

import "github.com/pithecene-io/sluice/codec"

// Enum table ids used by Builtin.
const (
	EnumTableCurrency = 1
	EnumTableTickDir  = 2
)

// Builtin returns a small dictionary with the common market price fields.
// Used by the CLI and the demo provider when no snapshot is configured.
func Builtin() *Dictionary {
	d := New("builtin")
	_ = d.AddEnumTable(EnumTable{ID: EnumTableCurrency, Values: []EnumValue{
		{Value: 0, Display: "   "},
		{Value: 124, Display: "CAD", Meaning: "Canadian Dollar"},
		{Value: 392, Display: "JPY", Meaning: "Japanese Yen"},
		{Value: 826, Display: "GBP", Meaning: "UK Pound Sterling"},
		{Value: 840, Display: "USD", Meaning: "US Dollar"},
		{Value: 978, Display: "EUR", Meaning: "Euro"},
	}})
	_ = d.AddEnumTable(EnumTable{ID: EnumTableTickDir, Values: []EnumValue{
		{Value: 0, Display: " "},
		{Value: 1, Display: "^", Meaning: "up tick"},
		{Value: 2, Display: "v", Meaning: "down tick"},
		{Value: 3, Display: "-", Meaning: "unchanged"},
	}})

	for _, f := range []FieldDef{
		{FieldID: 1, Acronym: "PROD_PERM", DDEAcronym: "PROD PERM", Type: codec.DataTypeUInt, Length: 5},
		{FieldID: 2, Acronym: "RDNDISPLAY", DDEAcronym: "RDNDISPLAY", Type: codec.DataTypeUInt, Length: 3},
		{FieldID: 3, Acronym: "DSPLY_NAME", DDEAcronym: "DISPLAY NAME", Type: codec.DataTypeRmtesString, Length: 16},
		{FieldID: 4, Acronym: "RDN_EXCHID", DDEAcronym: "IDN EXCHANGE ID", Type: codec.DataTypeEnum, Length: 1},
		{FieldID: 6, Acronym: "TRDPRC_1", DDEAcronym: "LAST", Type: codec.DataTypeReal, Length: 8, RippleTo: 7},
		{FieldID: 7, Acronym: "TRDPRC_2", DDEAcronym: "LAST 1", Type: codec.DataTypeReal, Length: 8, RippleTo: 8},
		{FieldID: 8, Acronym: "TRDPRC_3", DDEAcronym: "LAST 2", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 11, Acronym: "NETCHNG_1", DDEAcronym: "NET.CHNG", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 12, Acronym: "HIGH_1", DDEAcronym: "HIGH", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 13, Acronym: "LOW_1", DDEAcronym: "LOW", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 14, Acronym: "PRCTCK_1", DDEAcronym: "TICK", Type: codec.DataTypeEnum, Length: 1, EnumTable: EnumTableTickDir},
		{FieldID: 15, Acronym: "CURRENCY", DDEAcronym: "CURRENCY", Type: codec.DataTypeEnum, Length: 3, EnumTable: EnumTableCurrency},
		{FieldID: 16, Acronym: "TRADE_DATE", DDEAcronym: "DATE", Type: codec.DataTypeDate, Length: 4},
		{FieldID: 18, Acronym: "TRDTIM_1", DDEAcronym: "LAST TIME", Type: codec.DataTypeTime, Length: 5},
		{FieldID: 22, Acronym: "BID", DDEAcronym: "BID", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 25, Acronym: "ASK", DDEAcronym: "ASK", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 30, Acronym: "BIDSIZE", DDEAcronym: "BID SIZE", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 31, Acronym: "ASKSIZE", DDEAcronym: "ASK SIZE", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 32, Acronym: "ACVOL_1", DDEAcronym: "VOL ACCUMULATED", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 1080, Acronym: "PREF_DISP", DDEAcronym: "PREF DISP", Type: codec.DataTypeUInt, Length: 2},
		{FieldID: 3427, Acronym: "ORDER_PRC", DDEAcronym: "ORDER PRICE", Type: codec.DataTypeReal, Length: 8},
		{FieldID: 3428, Acronym: "ORDER_SIDE", DDEAcronym: "ORDER SIDE", Type: codec.DataTypeEnum, Length: 1},
		{FieldID: 3429, Acronym: "ORDER_SIZE", DDEAcronym: "ORDER SIZE", Type: codec.DataTypeReal, Length: 8},
	} {
		_ = d.AddField(f)
	}
	return d
}
