// pkg/buspirate/transport.go
package buspirate

import (
	"bytes"
	"io"
	"time"

	"go.uber.org/zap"

	"buspirate-host/internal/cobs"
)

const defaultReadChunk = 256

// transport exchanges one COBS frame at a time over a byte channel.
type transport struct {
	ch           io.ReadWriter
	maxFrameSize int
	readChunk    int
	logger       *zap.Logger

	// discarded counts bytes thrown away outside a delivered frame.
	discarded int64
}

func newTransport(ch io.ReadWriter, opts *options) *transport {
	return &transport{
		ch:           ch,
		maxFrameSize: opts.maxFrameSize,
		readChunk:    opts.readChunk,
		logger:       opts.logger,
	}
}

// send writes payload as one frame and blocks until one complete frame has
// been read back.
func (t *transport) send(payload []byte) ([]byte, error) {
	start := time.Now()

	encoded := cobs.Encode(payload)
	if err := writeFull(t.ch, encoded); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	dec := cobs.NewDecoder(t.maxFrameSize)
	chunk := make([]byte, t.readChunk)
	for {
		n, err := t.ch.Read(chunk)
		if n > 0 {
			frame, consumed, ferr := dec.Push(chunk[:n])
			if ferr != nil {
				if chunk[consumed-1] != cobs.Delimiter {
					t.skipFrame(chunk[consumed:n])
				} else if consumed < n {
					t.discard(n-consumed, "trailing bytes after frame")
				}
				return nil, &FramingError{Err: ferr}
			}
			if frame != nil {
				if consumed < n {
					t.discard(n-consumed, "trailing bytes after frame")
				}
				t.logger.Debug("Frame exchanged",
					zap.Int("sent", len(payload)),
					zap.Int("received", len(frame)),
					zap.Duration("latency", time.Since(start)))
				return frame, nil
			}
		}
		if err != nil {
			return nil, &TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			return nil, &TransportError{Op: "read", Err: io.ErrNoProgress}
		}
	}
}

// skipFrame drops the rest of a broken frame, starting with rest, up to and
// including its delimiter so the next exchange starts on a frame boundary.
// A read error ends the skip early.
func (t *transport) skipFrame(rest []byte) {
	skipped := 0
	chunk := make([]byte, t.readChunk)
	for {
		if i := bytes.IndexByte(rest, cobs.Delimiter); i >= 0 {
			skipped += i + 1
			if tail := len(rest) - i - 1; tail > 0 {
				t.discard(tail, "trailing bytes after frame")
			}
			break
		}
		skipped += len(rest)

		n, err := t.ch.Read(chunk)
		if n == 0 || (err != nil && !bytes.Contains(chunk[:n], []byte{cobs.Delimiter})) {
			skipped += n
			t.logger.Warn("Channel failed while skipping a broken frame", zap.Error(err))
			break
		}
		rest = chunk[:n]
	}
	t.discard(skipped, "broken frame")
}

// discard records bytes dropped from the channel.
func (t *transport) discard(n int, reason string) {
	t.discarded += int64(n)
	t.logger.Debug("Discarding received bytes",
		zap.String("reason", reason),
		zap.Int("bytes", n),
		zap.Int64("total_discarded", t.discarded))
}

func writeFull(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
