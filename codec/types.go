// Package codec encodes and decodes the RWF-style binary container format.
//
// Encoding is iterator based: each container's EncodeInit writes its header
// and reserves the count (and, for nested entries, the length) placeholders,
// entries are appended, and EncodeComplete patches the placeholders. Passing
// success=false to EncodeComplete rewinds the iterator to the exact position
// recorded at EncodeInit.
//
// Decoding never copies payloads. Entries expose sub-slices of the input
// buffer which stay valid only while the caller keeps the buffer unchanged.
package codec

import "fmt"

// DataType identifies a primitive or container type on the wire.
type DataType uint8

// Primitive types.
const (
	DataTypeUnknown     DataType = 0
	DataTypeInt         DataType = 3
	DataTypeUInt        DataType = 4
	DataTypeFloat       DataType = 5
	DataTypeDouble      DataType = 6
	DataTypeReal        DataType = 8
	DataTypeDate        DataType = 9
	DataTypeTime        DataType = 10
	DataTypeDateTime    DataType = 11
	DataTypeQos         DataType = 12
	DataTypeState       DataType = 13
	DataTypeEnum        DataType = 14
	DataTypeArray       DataType = 15
	DataTypeBuffer      DataType = 16
	DataTypeAsciiString DataType = 17
	DataTypeUtf8String  DataType = 18
	DataTypeRmtesString DataType = 19
)

// Container types. On the wire a container type is written as the value
// minus ContainerTypeMin so it fits the same byte as older encodings.
const (
	DataTypeNoData      DataType = 128
	DataTypeOpaque      DataType = 130
	DataTypeXML         DataType = 131
	DataTypeFieldList   DataType = 132
	DataTypeElementList DataType = 133
	DataTypeAnsiPage    DataType = 134
	DataTypeFilterList  DataType = 135
	DataTypeVector      DataType = 136
	DataTypeMap         DataType = 137
	DataTypeSeries      DataType = 138
	DataTypeMsg         DataType = 141
	DataTypeJSON        DataType = 142

	ContainerTypeMin DataType = 128
)

var dataTypeNames = map[DataType]string{
	DataTypeUnknown:     "Unknown",
	DataTypeInt:         "Int",
	DataTypeUInt:        "UInt",
	DataTypeFloat:       "Float",
	DataTypeDouble:      "Double",
	DataTypeReal:        "Real",
	DataTypeDate:        "Date",
	DataTypeTime:        "Time",
	DataTypeDateTime:    "DateTime",
	DataTypeQos:         "Qos",
	DataTypeState:       "State",
	DataTypeEnum:        "Enum",
	DataTypeArray:       "Array",
	DataTypeBuffer:      "Buffer",
	DataTypeAsciiString: "AsciiString",
	DataTypeUtf8String:  "Utf8String",
	DataTypeRmtesString: "RmtesString",
	DataTypeNoData:      "NoData",
	DataTypeOpaque:      "Opaque",
	DataTypeXML:         "Xml",
	DataTypeFieldList:   "FieldList",
	DataTypeElementList: "ElementList",
	DataTypeAnsiPage:    "AnsiPage",
	DataTypeFilterList:  "FilterList",
	DataTypeVector:      "Vector",
	DataTypeMap:         "Map",
	DataTypeSeries:      "Series",
	DataTypeMsg:         "Msg",
	DataTypeJSON:        "Json",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", uint8(t))
}

// IsContainer reports whether t is a container type.
func (t DataType) IsContainer() bool {
	return t >= ContainerTypeMin
}

// IsPrimitive reports whether t is a known primitive type.
func (t DataType) IsPrimitive() bool {
	return t >= DataTypeInt && t <= DataTypeRmtesString && t != 7
}

// IsBuffer reports whether t is carried as raw bytes.
func (t DataType) IsBuffer() bool {
	switch t {
	case DataTypeBuffer, DataTypeAsciiString, DataTypeUtf8String, DataTypeRmtesString:
		return true
	}
	return false
}

// wireContainer converts a container type to its on-wire byte.
func wireContainer(t DataType) uint8 {
	return uint8(t - ContainerTypeMin)
}

// fromWireContainer converts an on-wire byte back to a container type.
func fromWireContainer(b uint8) DataType {
	return DataType(b) + ContainerTypeMin
}

// Version is a negotiated wire format version.
type Version struct {
	Major uint8
	Minor uint8
}

// CurrentVersion is the newest wire version this package speaks.
var CurrentVersion = Version{Major: 14, Minor: 1}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// supportsFineTime reports whether microsecond and nanosecond time
// extensions may appear on the wire.
func (v Version) supportsFineTime() bool {
	return v.Minor >= 1
}
