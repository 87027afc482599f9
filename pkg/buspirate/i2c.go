// pkg/buspirate/i2c.go
package buspirate

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// I2C is the capability for an adapter in I2C mode. Addresses are 7-bit.
type I2C struct {
	handle
}

type i2cOpKind int

const (
	i2cNone i2cOpKind = iota
	i2cRead
	i2cWrite
)

// I2COp is one operation of an I2C transaction.
type I2COp struct {
	kind i2cOpKind
	data []byte
}

// I2CRead reads len(buf) bytes into buf.
func I2CRead(buf []byte) I2COp {
	return I2COp{kind: i2cRead, data: buf}
}

// I2CWrite writes data.
func I2CWrite(data []byte) I2COp {
	return I2COp{kind: i2cWrite, data: data}
}

func writeAddress(address uint8) byte {
	return address << 1
}

func readAddress(address uint8) byte {
	return address<<1 | 1
}

func checkReadLen(n int) error {
	if n > math.MaxUint16 {
		return fmt.Errorf("%w: %d", ErrReadTooLong, n)
	}
	return nil
}

// Transaction runs ops as one bus transaction ending in a single stop.
// Consecutive operations of the same kind share one start condition and
// address byte. If an operation fails, a stop is still sent before the
// operation's error is returned.
func (d *I2C) Transaction(ctx context.Context, address uint8, ops ...I2COp) error {
	if err := d.check(); err != nil {
		return err
	}
	for _, op := range ops {
		if op.kind == i2cRead {
			if err := checkReadLen(len(op.data)); err != nil {
				return err
			}
		}
	}

	prev := i2cNone
	for i, op := range ops {
		req := dataRequest{startMain: op.kind != prev}
		switch op.kind {
		case i2cWrite:
			req.write = op.data
			if req.startMain {
				req.write = withAddress(writeAddress(address), op.data)
			}
		case i2cRead:
			if req.startMain {
				req.write = []byte{readAddress(address)}
			}
			req.bytesRead = uint16(len(op.data))
		}
		prev = op.kind

		data, err := d.c.data(ctx, req)
		if err == nil && op.kind == i2cRead {
			err = copyRead(data, op.data)
		}
		if err != nil {
			d.release(ctx, i)
			return err
		}
	}

	_, err := d.c.data(ctx, stopRequest)
	return err
}

// release sends a best-effort stop after a failed operation.
func (d *I2C) release(ctx context.Context, failedOp int) {
	if _, err := d.c.data(context.WithoutCancel(ctx), stopRequest); err != nil {
		d.c.logger.Warn("I2C stop after failed operation did not complete",
			zap.Int("operation", failedOp),
			zap.Error(err))
	}
}

// Write writes data to the device at address in a single start/stop request.
func (d *I2C) Write(ctx context.Context, address uint8, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	_, err := d.c.data(ctx, dataRequest{
		startMain: true,
		write:     withAddress(writeAddress(address), data),
		stopMain:  true,
	})
	return err
}

// Read reads len(buf) bytes from the device at address.
func (d *I2C) Read(ctx context.Context, address uint8, buf []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := checkReadLen(len(buf)); err != nil {
		return err
	}
	data, err := d.c.data(ctx, dataRequest{
		startMain: true,
		write:     []byte{readAddress(address)},
		bytesRead: uint16(len(buf)),
		stopMain:  true,
	})
	if err != nil {
		return err
	}
	return copyRead(data, buf)
}

// WriteRead writes then reads in one request. The address is sent once;
// the adapter issues the repeated start for the read.
func (d *I2C) WriteRead(ctx context.Context, address uint8, write, read []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := checkReadLen(len(read)); err != nil {
		return err
	}
	data, err := d.c.data(ctx, dataRequest{
		startMain: true,
		write:     withAddress(writeAddress(address), write),
		bytesRead: uint16(len(read)),
		stopMain:  true,
	})
	if err != nil {
		return err
	}
	return copyRead(data, read)
}
