package bpio

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConfigurationRequestRoundTrip(t *testing.T) {
	fields := []Field{
		{Name: "mode", Value: "I2C"},
		{Name: "mode_configuration", Value: []Field{
			{Name: "speed", Value: uint32(400000)},
			{Name: "clock_stretch", Value: false},
		}},
		{Name: "psu_enable", Value: true},
		{Name: "psu_set_mv", Value: uint32(3300)},
		{Name: "psu_set_ma", Value: uint16(300)},
		{Name: "led_color", Value: []uint32{0xFF0000, 0x00FF00, 0x0000FF}},
		{Name: "print_string", Value: "hello"},
	}

	buf, err := EncodeConfigurationRequest(fields)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := DecodeRequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if pkt.VersionMajor != VersionMajor || pkt.VersionMinor != VersionMinor {
		t.Fatalf("version %d.%d, want %d.%d", pkt.VersionMajor, pkt.VersionMinor, VersionMajor, VersionMinor)
	}
	if pkt.Kind != RequestConfiguration {
		t.Fatalf("kind %s, want %s", pkt.Kind, RequestConfiguration)
	}
	// Decoded fields come back in slot order, which matches the input here.
	if diff := cmp.Diff(fields, pkt.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultValuedScalarsAreWritten(t *testing.T) {
	fields := []Field{
		{Name: "start_main", Value: false},
		{Name: "bytes_read", Value: uint16(0)},
		{Name: "stop_main", Value: false},
	}

	buf, err := EncodeDataRequest(fields)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := DecodeRequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(fields, pkt.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestOnlyListedFieldsArePresent(t *testing.T) {
	buf, err := EncodeConfigurationRequest([]Field{{Name: "led_resume", Value: true}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := DecodeRequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := []Field{{Name: "led_resume", Value: true}}
	if diff := cmp.Diff(want, pkt.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	for _, name := range []string{"mode", "mode_configuration", "psu_enable", "io_direction"} {
		if _, ok := Lookup(pkt.Fields, name); ok {
			t.Fatalf("unexpected field %q", name)
		}
	}
}

func TestDataRequestWithPayload(t *testing.T) {
	fields := []Field{
		{Name: "start_main", Value: true},
		{Name: "data_write", Value: []byte{0xA0, 0x00, 0x10}},
		{Name: "bytes_read", Value: uint16(4)},
		{Name: "stop_main", Value: true},
	}

	buf, err := EncodeDataRequest(fields)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := DecodeRequest(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Kind != RequestData {
		t.Fatalf("kind %s, want %s", pkt.Kind, RequestData)
	}
	if diff := cmp.Diff(fields, pkt.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	buf, err := EncodeResponse(ResponseData, []Field{{Name: "data_read", Value: []byte{1, 2, 3}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := DecodeResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Kind != ResponseData {
		t.Fatalf("kind %s, want %s", pkt.Kind, ResponseData)
	}
	if pkt.HasError {
		t.Fatalf("unexpected packet error %q", pkt.Error)
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, pkt.DataRead()); diff != "" {
		t.Fatalf("data_read mismatch (-want +got):\n%s", diff)
	}
	if _, ok := pkt.Message(); ok {
		t.Fatal("unexpected embedded error")
	}
}

func TestResponseEmbeddedError(t *testing.T) {
	buf, err := EncodeResponse(ResponseConfiguration, []Field{{Name: "error", Value: "Invalid mode name"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := DecodeResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := pkt.Message()
	if !ok || msg != "Invalid mode name" {
		t.Fatalf("Message() = %q, %v", msg, ok)
	}
}

func TestEncodeRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
		want   string
	}{
		{"unknown", []Field{{Name: "frobnicate", Value: true}}, `no field "frobnicate"`},
		{"wrong type", []Field{{Name: "bytes_read", Value: 4}}, "wants uint16"},
		{"duplicate", []Field{{Name: "stop_main", Value: true}, {Name: "stop_main", Value: false}}, "set twice"},
		{"wrong vector", []Field{{Name: "data_write", Value: "abc"}}, "wants [ubyte]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeDataRequest(tt.fields)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEncodeRejectsBadNestedField(t *testing.T) {
	_, err := EncodeConfigurationRequest([]Field{
		{Name: "mode_configuration", Value: []Field{{Name: "speed", Value: "fast"}}},
	})
	if err == nil || !strings.Contains(err.Error(), "ModeConfiguration.speed") {
		t.Fatalf("expected nested type error, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	inputs := map[string][]byte{
		"empty":             {},
		"short":             {0x01, 0x02},
		"root past end":     {0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00},
		"vtable past start": {0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeResponse(in); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestKindNames(t *testing.T) {
	if got := ResponseError.String(); got != "ErrorResponse" {
		t.Fatalf("ResponseError.String() = %q", got)
	}
	if got := ResponseKind(42).String(); got != "ResponsePacketContents(42)" {
		t.Fatalf("unknown kind = %q", got)
	}
	if got := RequestData.String(); got != "DataRequest" {
		t.Fatalf("RequestData.String() = %q", got)
	}
}
