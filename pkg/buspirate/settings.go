// pkg/buspirate/settings.go
package buspirate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"buspirate-host/internal/bpio"
)

// BitOrder selects the shift direction of the active mode. The zero value
// leaves it unchanged.
type BitOrder int

const (
	BitOrderUnchanged BitOrder = iota
	BitOrderMSB
	BitOrderLSB
)

// PSU is a sparse power supply update. Nil fields are not sent.
type PSU struct {
	Enable     *bool
	Millivolts *uint32
	Milliamps  *uint16
}

// PSUEnable turns the supply on at the given voltage and current limit.
func PSUEnable(millivolts uint32, milliamps uint16) *PSU {
	on := true
	return &PSU{Enable: &on, Millivolts: &millivolts, Milliamps: &milliamps}
}

// PSUDisable turns the supply off.
func PSUDisable() *PSU {
	off := false
	return &PSU{Enable: &off}
}

var thousand = decimal.NewFromInt(1000)

// PSUVolts is PSUEnable with the voltage given as a decimal string in volts,
// for example "3.3". Sub-millivolt precision is rejected rather than rounded.
func PSUVolts(volts string, milliamps uint16) (*PSU, error) {
	v, err := decimal.NewFromString(volts)
	if err != nil {
		return nil, fmt.Errorf("invalid psu voltage %q: %w", volts, err)
	}
	mv := v.Mul(thousand)
	if !mv.IsInteger() {
		return nil, fmt.Errorf("psu voltage %s V is finer than 1 mV", v)
	}
	if mv.IsNegative() || mv.GreaterThan(decimal.NewFromInt(int64(^uint32(0)))) {
		return nil, fmt.Errorf("psu voltage %s V out of range", v)
	}
	return PSUEnable(uint32(mv.IntPart()), milliamps), nil
}

func (p *PSU) fields() []bpio.Field {
	var fields []bpio.Field
	if p.Enable != nil {
		if *p.Enable {
			fields = append(fields, bpio.Field{Name: "psu_enable", Value: true})
		} else {
			fields = append(fields, bpio.Field{Name: "psu_disable", Value: true})
		}
	}
	if p.Millivolts != nil {
		fields = append(fields, bpio.Field{Name: "psu_set_mv", Value: *p.Millivolts})
	}
	if p.Milliamps != nil {
		fields = append(fields, bpio.Field{Name: "psu_set_ma", Value: *p.Milliamps})
	}
	return fields
}

// IODirection is the direction of one IO pin.
type IODirection int

const (
	Input IODirection = iota
	Output
)

// LogicLevel is the output level of one IO pin.
type LogicLevel int

const (
	Low LogicLevel = iota
	High
)

// IO collects per-pin direction and level changes for the eight IO pins.
// Only pins that were set are included in the masks.
type IO struct {
	directionMask uint8
	direction     uint8
	valueMask     uint8
	value         uint8
}

// SetDirection marks pin as an input or output.
func (io *IO) SetDirection(pin int, dir IODirection) error {
	bit, err := pinBit(pin)
	if err != nil {
		return err
	}
	io.directionMask |= bit
	if dir == Output {
		io.direction |= bit
	} else {
		io.direction &^= bit
	}
	return nil
}

// SetLevel sets the output level of pin.
func (io *IO) SetLevel(pin int, level LogicLevel) error {
	bit, err := pinBit(pin)
	if err != nil {
		return err
	}
	io.valueMask |= bit
	if level == High {
		io.value |= bit
	} else {
		io.value &^= bit
	}
	return nil
}

func pinBit(pin int) (uint8, error) {
	if pin < 0 || pin > 7 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	return 1 << uint(pin), nil
}

func (io *IO) fields() []bpio.Field {
	return []bpio.Field{
		{Name: "io_direction_mask", Value: io.directionMask},
		{Name: "io_direction", Value: io.direction},
		{Name: "io_value_mask", Value: io.valueMask},
		{Name: "io_value", Value: io.value},
	}
}

// Configuration is a sparse settings update that may ride on any
// configuration request. Zero values and nil pointers are not sent.
type Configuration struct {
	BitOrder           BitOrder
	PSU                *PSU
	Pullups            *bool
	IO                 *IO
	LEDResume          bool
	LEDColor           []uint32
	PrintString        string
	HardwareBootloader bool
	HardwareReset      bool
	HardwareSelfTest   bool
}

// Bool returns a pointer to b, for the tri-state fields of Configuration.
func Bool(b bool) *bool {
	return &b
}

func (c *Configuration) fields() []bpio.Field {
	if c == nil {
		return nil
	}

	var fields []bpio.Field
	switch c.BitOrder {
	case BitOrderMSB:
		fields = append(fields, bpio.Field{Name: "mode_bitorder_msb", Value: true})
	case BitOrderLSB:
		fields = append(fields, bpio.Field{Name: "mode_bitorder_lsb", Value: true})
	}
	if c.PSU != nil {
		fields = append(fields, c.PSU.fields()...)
	}
	if c.Pullups != nil {
		if *c.Pullups {
			fields = append(fields, bpio.Field{Name: "pullup_enable", Value: true})
		} else {
			fields = append(fields, bpio.Field{Name: "pullup_disable", Value: true})
		}
	}
	if c.IO != nil {
		fields = append(fields, c.IO.fields()...)
	}
	if c.LEDResume {
		fields = append(fields, bpio.Field{Name: "led_resume", Value: true})
	}
	if len(c.LEDColor) > 0 {
		fields = append(fields, bpio.Field{Name: "led_color", Value: c.LEDColor})
	}
	if c.PrintString != "" {
		fields = append(fields, bpio.Field{Name: "print_string", Value: c.PrintString})
	}
	if c.HardwareBootloader {
		fields = append(fields, bpio.Field{Name: "hardware_bootloader", Value: true})
	}
	if c.HardwareReset {
		fields = append(fields, bpio.Field{Name: "hardware_reset", Value: true})
	}
	if c.HardwareSelfTest {
		fields = append(fields, bpio.Field{Name: "hardware_selftest", Value: true})
	}
	return fields
}

// ModeConfiguration holds the raw mode parameters. Nil fields are not sent.
// I2CConfig and SPIConfig build one from typed settings.
type ModeConfiguration struct {
	Speed           *uint32
	DataBits        *uint8
	Parity          *bool
	StopBits        *uint8
	FlowControl     *bool
	SignalInversion *bool
	ClockStretch    *bool
	ClockPolarity   *bool
	ClockPhase      *bool
	ChipSelectIdle  *bool
	Submode         *uint8
	TxModulation    *uint32
	RxSensor        *uint8
}

func (m ModeConfiguration) fields() []bpio.Field {
	var fields []bpio.Field
	add := func(name string, v any) {
		fields = append(fields, bpio.Field{Name: name, Value: v})
	}
	if m.Speed != nil {
		add("speed", *m.Speed)
	}
	if m.DataBits != nil {
		add("data_bits", *m.DataBits)
	}
	if m.Parity != nil {
		add("parity", *m.Parity)
	}
	if m.StopBits != nil {
		add("stop_bits", *m.StopBits)
	}
	if m.FlowControl != nil {
		add("flow_control", *m.FlowControl)
	}
	if m.SignalInversion != nil {
		add("signal_inversion", *m.SignalInversion)
	}
	if m.ClockStretch != nil {
		add("clock_stretch", *m.ClockStretch)
	}
	if m.ClockPolarity != nil {
		add("clock_polarity", *m.ClockPolarity)
	}
	if m.ClockPhase != nil {
		add("clock_phase", *m.ClockPhase)
	}
	if m.ChipSelectIdle != nil {
		add("chip_select_idle", *m.ChipSelectIdle)
	}
	if m.Submode != nil {
		add("submode", *m.Submode)
	}
	if m.TxModulation != nil {
		add("tx_modulation", *m.TxModulation)
	}
	if m.RxSensor != nil {
		add("rx_sensor", *m.RxSensor)
	}
	return fields
}

// modeFields is the request body of a mode change: the mode name, its
// parameters (possibly an empty table) and any extra settings.
func modeFields(mode Mode, mc ModeConfiguration, extra *Configuration) []bpio.Field {
	fields := []bpio.Field{
		{Name: "mode", Value: mode.String()},
		{Name: "mode_configuration", Value: mc.fields()},
	}
	return append(fields, extra.fields()...)
}
