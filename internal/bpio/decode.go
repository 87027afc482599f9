// internal/bpio/decode.go
package bpio

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

// ErrMalformed reports a buffer that is not a well-formed packet.
var ErrMalformed = errors.New("bpio: malformed packet")

// RequestPacket is a decoded request.
type RequestPacket struct {
	VersionMajor uint8
	VersionMinor uint8
	Kind         RequestKind
	Fields       []Field
}

// ResponsePacket is a decoded response. Fields holds the populated fields of
// the contents table; Error is the packet-level error string, if any.
type ResponsePacket struct {
	Error    string
	HasError bool
	Kind     ResponseKind
	Fields   []Field
}

// Message returns the contents table's error string, if present.
func (p *ResponsePacket) Message() (string, bool) {
	v, ok := Lookup(p.Fields, "error")
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// DataRead returns DataResponse.data_read, or nil when absent.
func (p *ResponsePacket) DataRead() []byte {
	v, ok := Lookup(p.Fields, "data_read")
	if !ok {
		return nil
	}
	data, _ := v.([]byte)
	return data
}

// DecodeRequest parses a RequestPacket.
func DecodeRequest(buf []byte) (pkt *RequestPacket, err error) {
	defer recoverMalformed(&err)

	root, err := rootTable(buf)
	if err != nil {
		return nil, err
	}

	pkt = &RequestPacket{VersionMajor: VersionMajor}
	if o := slotOffset(root, requestSlotVersionMajor); o != 0 {
		pkt.VersionMajor = root.GetUint8(o + root.Pos)
	}
	if o := slotOffset(root, requestSlotVersionMinor); o != 0 {
		pkt.VersionMinor = root.GetUint8(o + root.Pos)
	}
	if o := slotOffset(root, requestSlotContentsType); o != 0 {
		pkt.Kind = RequestKind(root.GetUint8(o + root.Pos))
	}

	spec, ok := requestTable(pkt.Kind)
	if !ok {
		return pkt, nil
	}
	var contents flatbuffers.Table
	if !unionTable(root, requestSlotContents, &contents) {
		return nil, fmt.Errorf("%w: %s tag without contents", ErrMalformed, pkt.Kind)
	}
	pkt.Fields = readTable(contents, spec)
	return pkt, nil
}

// DecodeResponse parses a ResponsePacket.
func DecodeResponse(buf []byte) (pkt *ResponsePacket, err error) {
	defer recoverMalformed(&err)

	root, err := rootTable(buf)
	if err != nil {
		return nil, err
	}

	pkt = &ResponsePacket{}
	if o := slotOffset(root, responseSlotError); o != 0 {
		pkt.Error = root.String(o + root.Pos)
		pkt.HasError = true
	}
	if o := slotOffset(root, responseSlotContentsType); o != 0 {
		pkt.Kind = ResponseKind(root.GetUint8(o + root.Pos))
	}

	spec, ok := responseTable(pkt.Kind)
	if !ok {
		return pkt, nil
	}
	var contents flatbuffers.Table
	if !unionTable(root, responseSlotContents, &contents) {
		return nil, fmt.Errorf("%w: %s tag without contents", ErrMalformed, pkt.Kind)
	}
	pkt.Fields = readTable(contents, spec)
	return pkt, nil
}

func recoverMalformed(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformed, r)
	}
}

func rootTable(buf []byte) (flatbuffers.Table, error) {
	if len(buf) < flatbuffers.SizeUOffsetT {
		return flatbuffers.Table{}, fmt.Errorf("%w: %d byte buffer", ErrMalformed, len(buf))
	}
	n := flatbuffers.GetUOffsetT(buf)
	if int(n) >= len(buf) {
		return flatbuffers.Table{}, fmt.Errorf("%w: root offset %d out of range", ErrMalformed, n)
	}
	return flatbuffers.Table{Bytes: buf, Pos: n}, nil
}

// slotOffset returns the field's offset relative to the table start, or 0
// when the field is absent.
func slotOffset(t flatbuffers.Table, slot int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
}

func unionTable(t flatbuffers.Table, slot int, out *flatbuffers.Table) bool {
	o := slotOffset(t, slot)
	if o == 0 {
		return false
	}
	t.Union(out, o)
	return true
}

func readTable(t flatbuffers.Table, spec *tableSpec) []Field {
	var fields []Field
	for _, fs := range spec.fields {
		o := slotOffset(t, fs.slot)
		if o == 0 {
			continue
		}
		fields = append(fields, Field{Name: fs.name, Value: readField(t, fs, o)})
	}
	return fields
}

func readField(t flatbuffers.Table, fs fieldSpec, o flatbuffers.UOffsetT) any {
	switch fs.kind {
	case kindBool:
		return t.GetBool(o + t.Pos)
	case kindUint8:
		return t.GetUint8(o + t.Pos)
	case kindUint16:
		return t.GetUint16(o + t.Pos)
	case kindUint32:
		return t.GetUint32(o + t.Pos)
	case kindString:
		return t.String(o + t.Pos)
	case kindBytes:
		raw := t.ByteVector(o + t.Pos)
		data := make([]byte, len(raw))
		copy(data, raw)
		return data
	case kindUint32s:
		n := t.VectorLen(o)
		start := t.Vector(o)
		words := make([]uint32, n)
		for i := range words {
			words[i] = t.GetUint32(start + flatbuffers.UOffsetT(i*4))
		}
		return words
	default:
		sub := flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(o + t.Pos)}
		return readTable(sub, fs.nested)
	}
}
