package buspirate

import (
	"context"
	"io"
	"testing"

	"buspirate-host/internal/bpio"
	"buspirate-host/internal/cobs"
)

// reply is what fakeAdapter sends back for one request.
type reply struct {
	kind    bpio.ResponseKind
	fields  []bpio.Field
	raw     []byte
	readErr error
}

// fakeAdapter decodes request frames with the real framing and schema code
// and answers each one. Replies are handed out a few bytes per Read.
type fakeAdapter struct {
	t        *testing.T
	dec      *cobs.Decoder
	requests []*bpio.RequestPacket
	respond  func(req *bpio.RequestPacket) (reply, bool)
	pending  []byte
	readErr  error
	chunk    int
	closed   bool
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	t.Helper()
	return &fakeAdapter{
		t:     t,
		dec:   cobs.NewDecoder(cobs.DefaultMaxFrameSize),
		chunk: 3,
	}
}

func (f *fakeAdapter) Write(p []byte) (int, error) {
	data := p
	for len(data) > 0 {
		frame, n, err := f.dec.Push(data)
		if err != nil {
			f.t.Fatalf("fake adapter: bad request frame: %v", err)
		}
		data = data[n:]
		if frame == nil {
			continue
		}
		req, err := bpio.DecodeRequest(frame)
		if err != nil {
			f.t.Fatalf("fake adapter: bad request packet: %v", err)
		}
		f.requests = append(f.requests, req)
		f.answer(req)
	}
	return len(p), nil
}

func (f *fakeAdapter) answer(req *bpio.RequestPacket) {
	r, ok := reply{}, false
	if f.respond != nil {
		r, ok = f.respond(req)
	}
	if !ok {
		r = defaultReply(req)
	}
	if r.readErr != nil {
		f.readErr = r.readErr
		return
	}
	payload := r.raw
	if payload == nil {
		var err error
		payload, err = bpio.EncodeResponse(r.kind, r.fields)
		if err != nil {
			f.t.Fatalf("fake adapter: encode reply: %v", err)
		}
	}
	f.pending = append(f.pending, cobs.Encode(payload)...)
}

func (f *fakeAdapter) Read(p []byte) (int, error) {
	if len(f.pending) == 0 {
		if f.readErr != nil {
			err := f.readErr
			f.readErr = nil
			return 0, err
		}
		return 0, io.EOF
	}
	n := min(len(p), f.chunk, len(f.pending))
	copy(p, f.pending[:n])
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

// defaultReply acknowledges configuration and returns a counting pattern
// for data reads.
func defaultReply(req *bpio.RequestPacket) reply {
	if req.Kind != bpio.RequestData {
		return reply{kind: bpio.ResponseConfiguration}
	}
	n := readCount(req)
	if n == 0 {
		return reply{kind: bpio.ResponseData}
	}
	return reply{kind: bpio.ResponseData, fields: []bpio.Field{
		{Name: "data_read", Value: pattern(int(n))},
	}}
}

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0xA5 + byte(i)
	}
	return out
}

func deviceFailure(kind bpio.ResponseKind, msg string) reply {
	return reply{kind: kind, fields: []bpio.Field{{Name: "error", Value: msg}}}
}

// openFake opens a connection on fake and forgets the idle-mode request.
func openFake(t *testing.T, fake *fakeAdapter, opts ...Option) *Idle {
	t.Helper()
	idle, err := Open(context.Background(), fake, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fake.requests = nil
	return idle
}

func openI2C(t *testing.T, fake *fakeAdapter) *I2C {
	t.Helper()
	idle := openFake(t, fake)
	dev, err := idle.EnterI2C(context.Background(), I2CConfig{Speed: 400000}, nil)
	if err != nil {
		t.Fatalf("EnterI2C: %v", err)
	}
	fake.requests = nil
	return dev
}

func openSPI(t *testing.T, fake *fakeAdapter) *SPI {
	t.Helper()
	idle := openFake(t, fake)
	dev, err := idle.EnterSPI(context.Background(), SPIConfig{Speed: 1000000}, nil)
	if err != nil {
		t.Fatalf("EnterSPI: %v", err)
	}
	fake.requests = nil
	return dev
}

func flag(req *bpio.RequestPacket, name string) bool {
	v, ok := bpio.Lookup(req.Fields, name)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func writeData(req *bpio.RequestPacket) []byte {
	v, ok := bpio.Lookup(req.Fields, "data_write")
	if !ok {
		return nil
	}
	data, _ := v.([]byte)
	return data
}

func readCount(req *bpio.RequestPacket) uint16 {
	v, ok := bpio.Lookup(req.Fields, "bytes_read")
	if !ok {
		return 0
	}
	n, _ := v.(uint16)
	return n
}

func isStopOnly(req *bpio.RequestPacket) bool {
	return req.Kind == bpio.RequestData &&
		!flag(req, "start_main") && !flag(req, "start_alt") &&
		flag(req, "stop_main") && len(writeData(req)) == 0 && readCount(req) == 0
}
