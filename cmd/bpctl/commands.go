// cmd/bpctl/commands.go
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"buspirate-host/pkg/buspirate"
)

// output is what a command hands back for printing. text, when set, is
// printed verbatim in place of message.
type output struct {
	message string
	data    interface{}
	text    string
}

type command struct {
	name         string
	args         string
	help         string
	nargs        int
	needsAdapter bool
	run          func(ctx context.Context, app *Application, args []string) (*output, error)
}

var commands = []*command{
	{name: "selftest", help: "run the hardware self test", needsAdapter: true, run: runSelfTest},
	{name: "reset", help: "restart the adapter", needsAdapter: true, run: runReset},
	{name: "bootloader", help: "restart into the firmware bootloader", needsAdapter: true, run: runBootloader},
	{name: "psu on", args: "[volts] [mA]", help: "enable the power supply", needsAdapter: true, run: runPSUOn},
	{name: "psu off", help: "disable the power supply", needsAdapter: true, run: runPSUOff},
	{name: "pullups", args: "<on|off>", help: "switch the pull-up resistors", nargs: 1, needsAdapter: true, run: runPullups},
	{name: "led", args: "<rrggbb...|resume>", help: "set LED colors or resume the firmware animation", nargs: 1, needsAdapter: true, run: runLED},
	{name: "i2c scan", help: "probe 7-bit addresses 0x08-0x77", needsAdapter: true, run: runI2CScan},
	{name: "i2c read", args: "<addr> <count>", help: "read bytes from a device", nargs: 2, needsAdapter: true, run: runI2CRead},
	{name: "i2c write", args: "<addr> <hex>", help: "write bytes to a device", nargs: 2, needsAdapter: true, run: runI2CWrite},
	{name: "i2c writeread", args: "<addr> <hex> <count>", help: "write then read with a repeated start", nargs: 3, needsAdapter: true, run: runI2CWriteRead},
	{name: "eeprom read", args: "<addr> <offset> <count>", help: "read a 24x16 EEPROM", nargs: 3, needsAdapter: true, run: runEEPROMRead},
	{name: "sht4x", help: "measure temperature and humidity on an SHT4x", needsAdapter: true, run: runSHT4x},
	{name: "spi xfer", args: "<hex>", help: "full-duplex transfer", nargs: 1, needsAdapter: true, run: runSPITransfer},
	{name: "spi loopback", args: "[hex]", help: "check MOSI-MISO loopback", needsAdapter: true, run: runSPILoopback},
	{name: "spi jedec", help: "read a flash chip's JEDEC ID", needsAdapter: true, run: runSPIJedec},
	{name: "flash read", args: "<offset> <count>", help: "read SPI NOR flash", nargs: 2, needsAdapter: true, run: runFlashRead},
}

// lookup resolves a command from the positional arguments, preferring the
// two-word form.
func lookup(args []string) (*command, []string, error) {
	if len(args) == 0 {
		return nil, nil, errors.New("no command given")
	}

	var cmd *command
	rest := args[1:]
	if len(args) > 1 {
		cmd = find(args[0] + " " + args[1])
		if cmd != nil {
			rest = args[2:]
		}
	}
	if cmd == nil {
		cmd = find(args[0])
	}
	if cmd == nil {
		return nil, nil, fmt.Errorf("unknown command: %s", strings.Join(args, " "))
	}
	if len(rest) < cmd.nargs {
		return nil, nil, fmt.Errorf("usage: %s %s", cmd.name, cmd.args)
	}
	return cmd, rest, nil
}

func find(name string) *command {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd
		}
	}
	return nil
}

// hexBytes marshals as a hex string.
type hexBytes []byte

func (b hexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

func bytesOutput(message string, data []byte) *output {
	return &output{message: message, data: hexBytes(data), text: hex.Dump(data)}
}

func parseAddress(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 7)
	if err != nil {
		return 0, fmt.Errorf("invalid 7-bit address %q", s)
	}
	return uint8(v), nil
}

func parseCount(s string) (int, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return int(v), nil
}

func parseOffset(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 24)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return uint32(v), nil
}

// parseHex accepts "0x" prefixes and spaces, colons or commas between bytes.
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", ",", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

func runSelfTest(ctx context.Context, app *Application, _ []string) (*output, error) {
	if err := app.idle.SelfTest(ctx); err != nil {
		return nil, err
	}
	return &output{message: "Self test passed"}, nil
}

func runReset(ctx context.Context, app *Application, _ []string) (*output, error) {
	if err := app.idle.Reset(ctx); err != nil {
		return nil, err
	}
	return &output{message: "Adapter reset"}, nil
}

func runBootloader(ctx context.Context, app *Application, _ []string) (*output, error) {
	if err := app.idle.EnterBootloader(ctx); err != nil {
		return nil, err
	}
	return &output{message: "Adapter restarted into bootloader"}, nil
}

func runPSUOn(ctx context.Context, app *Application, args []string) (*output, error) {
	volts := app.config.PSU.Voltage
	current := app.config.PSU.CurrentMA
	if len(args) > 0 {
		volts = args[0]
	}
	if len(args) > 1 {
		v, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid current %q", args[1])
		}
		current = uint16(v)
	}

	psu, err := buspirate.PSUVolts(volts, current)
	if err != nil {
		return nil, err
	}
	if err := app.idle.Configure(ctx, buspirate.Configuration{PSU: psu}); err != nil {
		return nil, err
	}
	return &output{message: fmt.Sprintf("Power supply on at %s V, %d mA limit", volts, current)}, nil
}

func runPSUOff(ctx context.Context, app *Application, _ []string) (*output, error) {
	if err := app.idle.Configure(ctx, buspirate.Configuration{PSU: buspirate.PSUDisable()}); err != nil {
		return nil, err
	}
	return &output{message: "Power supply off"}, nil
}

func runPullups(ctx context.Context, app *Application, args []string) (*output, error) {
	var on bool
	switch args[0] {
	case "on":
		on = true
	case "off":
	default:
		return nil, fmt.Errorf("pullups: expected on or off, got %q", args[0])
	}
	if err := app.idle.Configure(ctx, buspirate.Configuration{Pullups: buspirate.Bool(on)}); err != nil {
		return nil, err
	}
	return &output{message: "Pull-ups " + args[0]}, nil
}

func runLED(ctx context.Context, app *Application, args []string) (*output, error) {
	cfg := buspirate.Configuration{}
	if args[0] == "resume" {
		cfg.LEDResume = true
	} else {
		for _, arg := range args {
			v, err := strconv.ParseUint(strings.TrimPrefix(arg, "#"), 16, 24)
			if err != nil {
				return nil, fmt.Errorf("invalid color %q", arg)
			}
			cfg.LEDColor = append(cfg.LEDColor, uint32(v))
		}
	}
	if err := app.idle.Configure(ctx, cfg); err != nil {
		return nil, err
	}
	return &output{message: "LEDs updated"}, nil
}
