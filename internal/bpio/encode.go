// internal/bpio/encode.go
package bpio

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

const initialBuilderSize = 256

// EncodeConfigurationRequest serializes a RequestPacket carrying a
// ConfigurationRequest built from fields.
func EncodeConfigurationRequest(fields []Field) ([]byte, error) {
	return EncodeRequest(RequestConfiguration, fields)
}

// EncodeDataRequest serializes a RequestPacket carrying a DataRequest built
// from fields.
func EncodeDataRequest(fields []Field) ([]byte, error) {
	return EncodeRequest(RequestData, fields)
}

// EncodeRequest serializes a RequestPacket of the given kind.
func EncodeRequest(k RequestKind, fields []Field) ([]byte, error) {
	spec, ok := requestTable(k)
	if !ok {
		return nil, fmt.Errorf("bpio: cannot encode request contents %s", k)
	}

	b := flatbuffers.NewBuilder(initialBuilderSize)
	contents, err := buildTable(b, spec, fields)
	if err != nil {
		return nil, err
	}

	b.StartObject(requestNumFields)
	b.PrependUint8(VersionMajor)
	b.Slot(requestSlotVersionMajor)
	b.PrependUint8(VersionMinor)
	b.Slot(requestSlotVersionMinor)
	b.PrependUint8(uint8(k))
	b.Slot(requestSlotContentsType)
	b.PrependUOffsetTSlot(requestSlotContents, contents, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes(), nil
}

// EncodeResponse serializes a ResponsePacket. The adapter is the only real
// producer of responses; this exists for bridges and test doubles.
func EncodeResponse(k ResponseKind, fields []Field) ([]byte, error) {
	spec, ok := responseTable(k)
	if !ok {
		return nil, fmt.Errorf("bpio: cannot encode response contents %s", k)
	}

	b := flatbuffers.NewBuilder(initialBuilderSize)
	contents, err := buildTable(b, spec, fields)
	if err != nil {
		return nil, err
	}

	b.StartObject(responseNumFields)
	b.PrependUint8(uint8(k))
	b.Slot(responseSlotContentsType)
	b.PrependUOffsetTSlot(responseSlotContents, contents, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes(), nil
}

// buildTable writes one table. Offsets for strings, vectors and nested
// tables must exist before the table is started, so fields are walked twice.
func buildTable(b *flatbuffers.Builder, spec *tableSpec, fields []Field) (flatbuffers.UOffsetT, error) {
	offsets := make(map[string]flatbuffers.UOffsetT)
	seen := make(map[string]bool, len(fields))

	for _, fld := range fields {
		fs, ok := spec.byName[fld.Name]
		if !ok {
			return 0, fmt.Errorf("bpio: %s has no field %q", spec.name, fld.Name)
		}
		if seen[fld.Name] {
			return 0, fmt.Errorf("bpio: %s.%s set twice", spec.name, fld.Name)
		}
		seen[fld.Name] = true

		off, err := buildOffset(b, spec, fs, fld.Value)
		if err != nil {
			return 0, err
		}
		if off != 0 {
			offsets[fld.Name] = off
		}
	}

	b.StartObject(spec.numFields())
	for _, fld := range fields {
		fs := spec.byName[fld.Name]
		if off, ok := offsets[fld.Name]; ok {
			b.PrependUOffsetTSlot(fs.slot, off, 0)
			continue
		}
		if err := prependScalar(b, spec, fs, fld.Value); err != nil {
			return 0, err
		}
	}
	return b.EndObject(), nil
}

func buildOffset(b *flatbuffers.Builder, spec *tableSpec, fs fieldSpec, v any) (flatbuffers.UOffsetT, error) {
	switch fs.kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return 0, typeError(spec, fs, v)
		}
		return b.CreateString(s), nil
	case kindBytes:
		data, ok := v.([]byte)
		if !ok {
			return 0, typeError(spec, fs, v)
		}
		return b.CreateByteVector(data), nil
	case kindUint32s:
		words, ok := v.([]uint32)
		if !ok {
			return 0, typeError(spec, fs, v)
		}
		b.StartVector(4, len(words), 4)
		for i := len(words) - 1; i >= 0; i-- {
			b.PrependUint32(words[i])
		}
		return b.EndVector(len(words)), nil
	case kindTable:
		sub, ok := v.([]Field)
		if !ok {
			return 0, typeError(spec, fs, v)
		}
		return buildTable(b, fs.nested, sub)
	default:
		return 0, nil
	}
}

// prependScalar always writes the slot, even when the value equals the
// schema default: a field in the list was set on purpose.
func prependScalar(b *flatbuffers.Builder, spec *tableSpec, fs fieldSpec, v any) error {
	switch fs.kind {
	case kindBool:
		x, ok := v.(bool)
		if !ok {
			return typeError(spec, fs, v)
		}
		b.PrependBool(x)
	case kindUint8:
		x, ok := v.(uint8)
		if !ok {
			return typeError(spec, fs, v)
		}
		b.PrependUint8(x)
	case kindUint16:
		x, ok := v.(uint16)
		if !ok {
			return typeError(spec, fs, v)
		}
		b.PrependUint16(x)
	case kindUint32:
		x, ok := v.(uint32)
		if !ok {
			return typeError(spec, fs, v)
		}
		b.PrependUint32(x)
	default:
		return fmt.Errorf("bpio: %s.%s is not a scalar", spec.name, fs.name)
	}
	b.Slot(fs.slot)
	return nil
}

func typeError(spec *tableSpec, fs fieldSpec, v any) error {
	return fmt.Errorf("bpio: %s.%s wants %s, got %T", spec.name, fs.name, fs.kind, v)
}
