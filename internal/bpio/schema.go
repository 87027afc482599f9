// internal/bpio/schema.go
package bpio

import "fmt"

// BPIO2 packet version carried in every request.
const (
	VersionMajor uint8 = 2
	VersionMinor uint8 = 0
)

// Field is one populated schema field. Only fields present in a list are
// written to the wire; everything else keeps the schema default on the
// adapter side.
//
// Value types by schema kind: bool, uint8, uint16, uint32, string, []byte
// for [ubyte], []uint32 for [uint32] and []Field for nested tables.
type Field struct {
	Name  string
	Value any
}

// RequestKind tags the contents of a RequestPacket.
type RequestKind uint8

const (
	RequestNone RequestKind = iota
	RequestStatus
	RequestConfiguration
	RequestData
)

func (k RequestKind) String() string {
	switch k {
	case RequestNone:
		return "NONE"
	case RequestStatus:
		return "StatusRequest"
	case RequestConfiguration:
		return "ConfigurationRequest"
	case RequestData:
		return "DataRequest"
	default:
		return fmt.Sprintf("RequestPacketContents(%d)", uint8(k))
	}
}

// ResponseKind tags the contents of a ResponsePacket.
type ResponseKind uint8

const (
	ResponseNone ResponseKind = iota
	ResponseError
	ResponseStatus
	ResponseConfiguration
	ResponseData
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseNone:
		return "NONE"
	case ResponseError:
		return "ErrorResponse"
	case ResponseStatus:
		return "StatusResponse"
	case ResponseConfiguration:
		return "ConfigurationResponse"
	case ResponseData:
		return "DataResponse"
	default:
		return fmt.Sprintf("ResponsePacketContents(%d)", uint8(k))
	}
}

type kind int

const (
	kindBool kind = iota
	kindUint8
	kindUint16
	kindUint32
	kindString
	kindBytes
	kindUint32s
	kindTable
)

func (k kind) String() string {
	switch k {
	case kindBool:
		return "bool"
	case kindUint8:
		return "uint8"
	case kindUint16:
		return "uint16"
	case kindUint32:
		return "uint32"
	case kindString:
		return "string"
	case kindBytes:
		return "[ubyte]"
	case kindUint32s:
		return "[uint32]"
	default:
		return "table"
	}
}

type fieldSpec struct {
	name   string
	slot   int
	kind   kind
	nested *tableSpec
}

type tableSpec struct {
	name   string
	fields []fieldSpec
	byName map[string]fieldSpec
}

func newTable(name string, fields ...fieldSpec) *tableSpec {
	t := &tableSpec{name: name, fields: fields, byName: make(map[string]fieldSpec, len(fields))}
	for i := range t.fields {
		t.fields[i].slot = i
		t.byName[t.fields[i].name] = t.fields[i]
	}
	return t
}

func (t *tableSpec) numFields() int {
	return len(t.fields)
}

func f(name string, k kind) fieldSpec {
	return fieldSpec{name: name, kind: k}
}

func nested(name string, t *tableSpec) fieldSpec {
	return fieldSpec{name: name, kind: kindTable, nested: t}
}

// Tables are declared in schema order; a field's slot is its position.
var (
	modeConfigurationTable = newTable("ModeConfiguration",
		f("speed", kindUint32),
		f("data_bits", kindUint8),
		f("parity", kindBool),
		f("stop_bits", kindUint8),
		f("flow_control", kindBool),
		f("signal_inversion", kindBool),
		f("clock_stretch", kindBool),
		f("clock_polarity", kindBool),
		f("clock_phase", kindBool),
		f("chip_select_idle", kindBool),
		f("submode", kindUint8),
		f("tx_modulation", kindUint32),
		f("rx_sensor", kindUint8),
	)

	configurationRequestTable = newTable("ConfigurationRequest",
		f("mode", kindString),
		nested("mode_configuration", modeConfigurationTable),
		f("mode_bitorder_msb", kindBool),
		f("mode_bitorder_lsb", kindBool),
		f("psu_disable", kindBool),
		f("psu_enable", kindBool),
		f("psu_set_mv", kindUint32),
		f("psu_set_ma", kindUint16),
		f("pullup_disable", kindBool),
		f("pullup_enable", kindBool),
		f("pullx_config", kindUint32),
		f("io_direction_mask", kindUint8),
		f("io_direction", kindUint8),
		f("io_value_mask", kindUint8),
		f("io_value", kindUint8),
		f("led_resume", kindBool),
		f("led_color", kindUint32s),
		f("print_string", kindString),
		f("hardware_bootloader", kindBool),
		f("hardware_reset", kindBool),
		f("hardware_selftest", kindBool),
	)

	dataRequestTable = newTable("DataRequest",
		f("start_main", kindBool),
		f("start_alt", kindBool),
		f("data_write", kindBytes),
		f("bytes_read", kindUint16),
		f("stop_main", kindBool),
		f("stop_alt", kindBool),
	)

	errorResponseTable = newTable("ErrorResponse",
		f("error", kindString),
	)

	statusResponseTable = newTable("StatusResponse",
		f("error", kindString),
	)

	configurationResponseTable = newTable("ConfigurationResponse",
		f("error", kindString),
	)

	dataResponseTable = newTable("DataResponse",
		f("error", kindString),
		f("data_read", kindBytes),
	)
)

// Packet header slots.
const (
	requestSlotVersionMajor = iota
	requestSlotVersionMinor
	requestSlotContentsType
	requestSlotContents
	requestNumFields
)

const (
	responseSlotError = iota
	responseSlotContentsType
	responseSlotContents
	responseNumFields
)

func requestTable(k RequestKind) (*tableSpec, bool) {
	switch k {
	case RequestConfiguration:
		return configurationRequestTable, true
	case RequestData:
		return dataRequestTable, true
	default:
		return nil, false
	}
}

func responseTable(k ResponseKind) (*tableSpec, bool) {
	switch k {
	case ResponseError:
		return errorResponseTable, true
	case ResponseStatus:
		return statusResponseTable, true
	case ResponseConfiguration:
		return configurationResponseTable, true
	case ResponseData:
		return dataResponseTable, true
	default:
		return nil, false
	}
}

// Lookup returns the value of the named field, if present.
func Lookup(fields []Field, name string) (any, bool) {
	for _, fld := range fields {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return nil, false
}
