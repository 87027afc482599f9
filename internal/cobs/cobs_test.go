package cobs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sequence(n int, start byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}

func TestEncodeKnownVectors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []byte
	}{
		{"empty", []byte{}, []byte{0x01, 0x00}},
		{"single zero", []byte{0x00}, []byte{0x01, 0x01, 0x00}},
		{"two zeros", []byte{0x00, 0x00}, []byte{0x01, 0x01, 0x01, 0x00}},
		{"zero in middle", []byte{0x11, 0x22, 0x00, 0x33}, []byte{0x03, 0x11, 0x22, 0x02, 0x33, 0x00}},
		{"no zeros", []byte{0x11, 0x22, 0x33, 0x44}, []byte{0x05, 0x11, 0x22, 0x33, 0x44, 0x00}},
		{"trailing zero", []byte{0x11, 0x00}, []byte{0x02, 0x11, 0x01, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.payload)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Encode(% X) mismatch (-want +got):\n%s", tt.payload, diff)
			}
		})
	}
}

func TestEncodeDelimiterOnlyTerminates(t *testing.T) {
	payloads := [][]byte{
		{0x00, 0x00, 0x00},
		sequence(300, 0),
		bytes.Repeat([]byte{0xAB}, 254),
		bytes.Repeat([]byte{0xAB}, 255),
		append(bytes.Repeat([]byte{0x01}, 253), 0x00),
	}

	for _, p := range payloads {
		enc := Encode(p)
		if idx := bytes.IndexByte(enc, Delimiter); idx != len(enc)-1 {
			t.Fatalf("delimiter at %d in %d byte frame", idx, len(enc))
		}
		if len(enc) > MaxEncodedLen(len(p)) {
			t.Fatalf("encoded length %d exceeds bound %d", len(enc), MaxEncodedLen(len(p)))
		}
	}
}

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		{0x00, 0x00},
		{0x01, 0x00, 0x02},
		sequence(253, 1),
		sequence(254, 1),
		sequence(255, 1),
		sequence(600, 0),
		bytes.Repeat([]byte{0x00}, 512),
		bytes.Repeat([]byte{0xFF}, 1000),
	}

	for _, p := range payloads {
		got, err := Decode(Encode(p), DefaultMaxFrameSize)
		if err != nil {
			t.Fatalf("Decode(Encode(%d bytes)): %v", len(p), err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("round trip of %d bytes mismatch", len(p))
		}
	}
}

func TestDecoderChunkedInput(t *testing.T) {
	payload := sequence(700, 0)
	enc := Encode(payload)

	for _, chunk := range []int{1, 2, 3, 7, 64, 255} {
		d := NewDecoder(DefaultMaxFrameSize)
		var frame []byte
		for off := 0; off < len(enc) && frame == nil; off += chunk {
			end := off + chunk
			if end > len(enc) {
				end = len(enc)
			}
			f, n, err := d.Push(enc[off:end])
			if err != nil {
				t.Fatalf("chunk %d: %v", chunk, err)
			}
			if f != nil && off+n != len(enc) {
				t.Fatalf("chunk %d: frame completed at %d, want %d", chunk, off+n, len(enc))
			}
			frame = f
		}
		if !bytes.Equal(frame, payload) {
			t.Fatalf("chunk %d: decoded frame mismatch", chunk)
		}
	}
}

func TestDecoderLeavesTrailingBytes(t *testing.T) {
	first := Encode([]byte{0x01, 0x02})
	second := Encode([]byte{0x03})
	stream := append(append([]byte{}, first...), second...)

	d := NewDecoder(16)
	frame, n, err := d.Push(stream)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if n != len(first) {
		t.Fatalf("consumed %d, want %d", n, len(first))
	}
	if diff := cmp.Diff([]byte{0x01, 0x02}, frame); diff != "" {
		t.Fatalf("first frame (-want +got):\n%s", diff)
	}

	frame, _, err = d.Push(stream[n:])
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if diff := cmp.Diff([]byte{0x03}, frame); diff != "" {
		t.Fatalf("second frame (-want +got):\n%s", diff)
	}
}

func TestDecoderSkipsStrayDelimiters(t *testing.T) {
	stream := append([]byte{0x00, 0x00}, Encode([]byte{0x42})...)
	frame, err := Decode(stream, 8)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff([]byte{0x42}, frame); diff != "" {
		t.Fatalf("frame (-want +got):\n%s", diff)
	}
}

func TestDecoderRejectsOversizedFrame(t *testing.T) {
	d := NewDecoder(DefaultMaxFrameSize)
	enc := Encode(sequence(DefaultMaxFrameSize+1, 1))

	_, _, err := d.Push(enc)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecoderAcceptsFrameAtCapacity(t *testing.T) {
	payload := sequence(DefaultMaxFrameSize, 1)
	frame, err := Decode(Encode(payload), DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frame) != DefaultMaxFrameSize {
		t.Fatalf("frame length %d, want %d", len(frame), DefaultMaxFrameSize)
	}
}

func TestDecoderRejectsTruncatedBlock(t *testing.T) {
	// Code byte promises three data bytes but the delimiter arrives after one.
	_, err := Decode([]byte{0x04, 0x11, 0x00}, 8)
	if !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("expected ErrCorruptFrame, got %v", err)
	}
}

func TestDecoderResynchronisesAfterCorruptFrame(t *testing.T) {
	stream := append([]byte{0x04, 0x11, 0x00}, Encode([]byte{0x55, 0x00, 0x66})...)
	d := NewDecoder(8)

	_, n, err := d.Push(stream)
	if !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("expected ErrCorruptFrame, got %v", err)
	}
	frame, _, err := d.Push(stream[n:])
	if err != nil {
		t.Fatalf("push after corruption: %v", err)
	}
	if diff := cmp.Diff([]byte{0x55, 0x00, 0x66}, frame); diff != "" {
		t.Fatalf("frame (-want +got):\n%s", diff)
	}
}
