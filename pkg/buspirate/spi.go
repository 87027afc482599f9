// pkg/buspirate/spi.go
package buspirate

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SPI is the capability for an adapter in SPI mode. Single-call methods
// assert chip select for the duration of the call; Transaction holds it
// across several operations.
type SPI struct {
	handle
}

type spiOpKind int

const (
	spiRead spiOpKind = iota
	spiWrite
	spiTransfer
	spiTransferInPlace
	spiDelay
)

// SPIOp is one operation of an SPI transaction.
type SPIOp struct {
	kind  spiOpKind
	read  []byte
	write []byte
	delay time.Duration
}

// SPIRead clocks in len(buf) bytes.
func SPIRead(buf []byte) SPIOp {
	return SPIOp{kind: spiRead, read: buf}
}

// SPIWrite clocks out data and discards what is clocked in.
func SPIWrite(data []byte) SPIOp {
	return SPIOp{kind: spiWrite, write: data}
}

// SPITransfer clocks out write while clocking into read.
func SPITransfer(read, write []byte) SPIOp {
	return SPIOp{kind: spiTransfer, read: read, write: write}
}

// SPITransferInPlace clocks out buf and replaces it with what is clocked in.
func SPITransferInPlace(buf []byte) SPIOp {
	return SPIOp{kind: spiTransferInPlace, read: buf, write: buf}
}

// SPIDelay waits with chip select held. It sends nothing.
func SPIDelay(d time.Duration) SPIOp {
	return SPIOp{kind: spiDelay, delay: d}
}

// request builds the DataRequest for a wire operation. When start is set,
// full-duplex kinds mark it with start_alt instead of start_main.
func (op SPIOp) request(start, stop bool) (dataRequest, error) {
	if err := checkReadLen(len(op.read)); err != nil {
		return dataRequest{}, err
	}
	req := dataRequest{
		write:     op.write,
		bytesRead: uint16(len(op.read)),
		stopMain:  stop,
	}
	if start {
		switch op.kind {
		case spiTransfer, spiTransferInPlace:
			req.startAlt = true
		default:
			req.startMain = true
		}
	}
	return req, nil
}

func (s *SPI) single(ctx context.Context, op SPIOp) error {
	if err := s.check(); err != nil {
		return err
	}
	req, err := op.request(true, true)
	if err != nil {
		return err
	}
	data, err := s.c.data(ctx, req)
	if err != nil {
		return err
	}
	return copyRead(data, op.read)
}

// Read clocks len(buf) bytes into buf.
func (s *SPI) Read(ctx context.Context, buf []byte) error {
	return s.single(ctx, SPIRead(buf))
}

// Write clocks out data.
func (s *SPI) Write(ctx context.Context, data []byte) error {
	return s.single(ctx, SPIWrite(data))
}

// Transfer clocks out write while reading into read. The lengths may
// differ; an empty read receives nothing.
func (s *SPI) Transfer(ctx context.Context, read, write []byte) error {
	return s.single(ctx, SPITransfer(read, write))
}

// TransferInPlace clocks out buf and overwrites it with the data read.
func (s *SPI) TransferInPlace(ctx context.Context, buf []byte) error {
	return s.single(ctx, SPITransferInPlace(buf))
}

// Flush sends nothing: every call completes its exchange before returning.
// Like every other method it fails with ErrModeUnavailable on a stale handle.
func (s *SPI) Flush() error {
	return s.check()
}

// Transaction runs ops with chip select asserted on the first wire
// operation and released after the last. Delays are local waits. If any
// operation fails, one stop-only request releases chip select and the
// operation's error is returned.
func (s *SPI) Transaction(ctx context.Context, ops ...SPIOp) error {
	if err := s.check(); err != nil {
		return err
	}

	first, last := -1, -1
	for i, op := range ops {
		if op.kind == spiDelay {
			continue
		}
		if err := checkReadLen(len(op.read)); err != nil {
			return err
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		// Delays only.
		for _, op := range ops {
			if err := wait(ctx, op.delay); err != nil {
				return err
			}
		}
		return nil
	}
	trailingDelay := last < len(ops)-1

	for i, op := range ops {
		if op.kind == spiDelay {
			if err := wait(ctx, op.delay); err != nil {
				if i > first {
					s.release(ctx, i)
				}
				return err
			}
			continue
		}

		req, err := op.request(i == first, i == last && !trailingDelay)
		if err != nil {
			s.release(ctx, i)
			return err
		}
		data, err := s.c.data(ctx, req)
		if err == nil {
			err = copyRead(data, op.read)
		}
		if err != nil {
			s.release(ctx, i)
			return err
		}
	}

	if trailingDelay {
		_, err := s.c.data(ctx, stopRequest)
		return err
	}
	return nil
}

// release forces chip select high after a failed operation. Its own error
// is logged and dropped.
func (s *SPI) release(ctx context.Context, failedOp int) {
	if _, err := s.c.data(context.WithoutCancel(ctx), stopRequest); err != nil {
		s.c.logger.Warn("SPI chip select release failed",
			zap.Int("operation", failedOp),
			zap.Error(err))
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
