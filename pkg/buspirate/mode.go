// pkg/buspirate/mode.go
package buspirate

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"buspirate-host/internal/bpio"
)

// Mode is the adapter's active bus mode.
type Mode int

const (
	ModeIdle Mode = iota
	ModeI2C
	ModeSPI
)

// String returns the mode name used on the wire.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "HiZ"
	case ModeI2C:
		return "I2C"
	case ModeSPI:
		return "SPI"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// conn owns the channel and the current mode. epoch increases on every
// successful mode change; a handle is valid only while its epoch is current.
type conn struct {
	ch     io.ReadWriter
	t      *transport
	logger *zap.Logger
	mode   Mode
	epoch  uint64
	closed bool
}

// handle is the state shared by the mode capability types.
type handle struct {
	c     *conn
	mode  Mode
	epoch uint64
}

// Idle is the capability for an adapter in high-impedance mode.
type Idle struct {
	handle
}

// Open wraps ch and puts the adapter into idle mode. ch is used exclusively
// by the returned connection until Close.
func Open(ctx context.Context, ch io.ReadWriter, opts ...Option) (*Idle, error) {
	o := newOptions(opts)
	c := &conn{
		ch:     ch,
		t:      newTransport(ch, o),
		logger: o.logger,
		mode:   ModeIdle,
	}

	if err := c.configure(ctx, modeFields(ModeIdle, ModeConfiguration{}, nil)); err != nil {
		return nil, fmt.Errorf("failed to enter %s mode: %w", ModeIdle, err)
	}
	c.logger.Info("Adapter opened", zap.String("mode", ModeIdle.String()))
	return &Idle{handle{c: c, mode: ModeIdle, epoch: c.epoch}}, nil
}

func (h *handle) check() error {
	if h.c == nil || h.c.closed || h.c.epoch != h.epoch {
		return fmt.Errorf("%s handle: %w", h.mode, ErrModeUnavailable)
	}
	return nil
}

// Mode returns the mode this handle was issued for.
func (h *handle) Mode() Mode {
	return h.mode
}

// Valid reports whether the handle still represents the active mode.
func (h *handle) Valid() bool {
	return h.check() == nil
}

// transition changes mode. On failure the current handle stays valid.
func (h *handle) transition(ctx context.Context, target Mode, mc ModeConfiguration, extra *Configuration) (handle, error) {
	if err := h.check(); err != nil {
		return handle{}, err
	}
	c := h.c
	if err := c.configure(ctx, modeFields(target, mc, extra)); err != nil {
		c.logger.Warn("Mode change failed",
			zap.String("from", c.mode.String()),
			zap.String("to", target.String()),
			zap.Error(err))
		return handle{}, err
	}

	c.logger.Info("Mode changed",
		zap.String("from", c.mode.String()),
		zap.String("to", target.String()))
	c.epoch++
	c.mode = target
	return handle{c: c, mode: target, epoch: c.epoch}, nil
}

// EnterIdle puts the adapter into high-impedance mode. extra may carry
// settings to apply in the same request.
func (h *handle) EnterIdle(ctx context.Context, extra *Configuration) (*Idle, error) {
	next, err := h.transition(ctx, ModeIdle, ModeConfiguration{}, extra)
	if err != nil {
		return nil, err
	}
	return &Idle{next}, nil
}

// EnterI2C puts the adapter into I2C mode.
func (h *handle) EnterI2C(ctx context.Context, cfg I2CConfig, extra *Configuration) (*I2C, error) {
	next, err := h.transition(ctx, ModeI2C, cfg.mode(), extra)
	if err != nil {
		return nil, err
	}
	return &I2C{next}, nil
}

// EnterSPI puts the adapter into SPI mode.
func (h *handle) EnterSPI(ctx context.Context, cfg SPIConfig, extra *Configuration) (*SPI, error) {
	next, err := h.transition(ctx, ModeSPI, cfg.mode(), extra)
	if err != nil {
		return nil, err
	}
	return &SPI{next}, nil
}

// Configure applies settings without changing mode.
func (h *handle) Configure(ctx context.Context, cfg Configuration) error {
	if err := h.check(); err != nil {
		return err
	}
	fields := cfg.fields()
	if len(fields) == 0 {
		return nil
	}
	return h.c.configure(ctx, fields)
}

// SelfTest runs the adapter's hardware self test. A failing test is
// reported as a DeviceError.
func (h *handle) SelfTest(ctx context.Context) error {
	return h.Configure(ctx, Configuration{HardwareSelfTest: true})
}

// Reset restarts the adapter. The connection is closed afterwards since the
// adapter comes back in its power-on state.
func (h *handle) Reset(ctx context.Context) error {
	return h.restart(ctx, "hardware_reset")
}

// EnterBootloader restarts the adapter into its firmware bootloader and
// closes the connection.
func (h *handle) EnterBootloader(ctx context.Context) error {
	return h.restart(ctx, "hardware_bootloader")
}

func (h *handle) restart(ctx context.Context, field string) error {
	if err := h.check(); err != nil {
		return err
	}
	if err := h.c.configure(ctx, []bpio.Field{{Name: field, Value: true}}); err != nil {
		return err
	}
	h.c.logger.Info("Adapter restarting", zap.String("trigger", field))
	return h.c.close()
}

// Close releases the channel if it is an io.Closer. Every handle of the
// connection becomes invalid.
func (h *handle) Close() error {
	if err := h.check(); err != nil {
		return err
	}
	return h.c.close()
}

func (c *conn) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.epoch++
	if closer, ok := c.ch.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	return nil
}
