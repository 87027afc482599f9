// internal/cobs/cobs.go
package cobs

import (
	"errors"
	"fmt"
)

// Delimiter terminates every encoded frame and never appears inside one.
const Delimiter byte = 0x00

// DefaultMaxFrameSize is the decoded frame capacity used by the adapter link.
const DefaultMaxFrameSize = 1024

var (
	ErrFrameTooLarge = errors.New("cobs: decoded frame exceeds buffer capacity")
	ErrCorruptFrame  = errors.New("cobs: frame terminated inside a block")
)

// MaxEncodedLen returns the worst-case encoded length of n payload bytes,
// including the trailing delimiter.
func MaxEncodedLen(n int) int {
	return n + n/254 + 2
}

// Encode returns the COBS encoding of payload followed by Delimiter.
func Encode(payload []byte) []byte {
	out := make([]byte, 1, MaxEncodedLen(len(payload)))
	codeIdx := 0
	code := byte(1)

	for _, b := range payload {
		if b == Delimiter {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}

		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}

	out[codeIdx] = code
	return append(out, Delimiter)
}

// Decoder reassembles frames from a byte stream delivered in arbitrary chunks.
// Decoded bytes are held in a fixed-capacity buffer; a frame that would not
// fit fails with ErrFrameTooLarge instead of being truncated.
type Decoder struct {
	buf         []byte
	n           int
	remaining   int
	code        byte
	pendingZero bool
	inFrame     bool
}

// NewDecoder creates a decoder whose frames hold at most capacity bytes.
func NewDecoder(capacity int) *Decoder {
	if capacity <= 0 {
		capacity = DefaultMaxFrameSize
	}
	return &Decoder{buf: make([]byte, capacity)}
}

// Cap returns the decoded frame capacity.
func (d *Decoder) Cap() int {
	return len(d.buf)
}

// Reset discards any partially decoded frame.
func (d *Decoder) Reset() {
	d.n = 0
	d.remaining = 0
	d.code = 0
	d.pendingZero = false
	d.inFrame = false
}

// Push feeds data into the decoder. When a delimiter completes a frame, Push
// returns a copy of the decoded frame and the number of bytes of data it
// consumed; bytes after the delimiter are left for the caller. A nil frame
// with consumed == len(data) means more input is needed.
//
// After an error the decoder is reset; bytes up to the next delimiter belong
// to the broken frame and will decode as garbage or fail again.
func (d *Decoder) Push(data []byte) (frame []byte, consumed int, err error) {
	for i, b := range data {
		if b == Delimiter {
			if !d.inFrame {
				// Stray delimiters between frames carry no payload.
				continue
			}
			if d.remaining > 0 {
				d.Reset()
				return nil, i + 1, ErrCorruptFrame
			}
			frame = make([]byte, d.n)
			copy(frame, d.buf[:d.n])
			d.Reset()
			return frame, i + 1, nil
		}

		if d.remaining == 0 {
			d.inFrame = true
			if d.pendingZero {
				if err := d.append(0); err != nil {
					return nil, i + 1, err
				}
			}
			d.code = b
			d.remaining = int(b) - 1
			d.pendingZero = d.remaining == 0 && d.code != 0xFF
			continue
		}

		if err := d.append(b); err != nil {
			return nil, i + 1, err
		}
		d.remaining--
		if d.remaining == 0 {
			d.pendingZero = d.code != 0xFF
		}
	}
	return nil, len(data), nil
}

func (d *Decoder) append(b byte) error {
	if d.n >= len(d.buf) {
		d.Reset()
		return fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, len(d.buf))
	}
	d.buf[d.n] = b
	d.n++
	return nil
}

// Decode decodes a single complete frame. The trailing delimiter is optional.
func Decode(encoded []byte, capacity int) ([]byte, error) {
	d := NewDecoder(capacity)
	if len(encoded) == 0 || encoded[len(encoded)-1] != Delimiter {
		encoded = append(encoded[:len(encoded):len(encoded)], Delimiter)
	}
	frame, _, err := d.Push(encoded)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return []byte{}, nil
	}
	return frame, nil
}
