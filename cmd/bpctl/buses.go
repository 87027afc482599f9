// cmd/bpctl/buses.go
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"buspirate-host/pkg/buspirate"
)

const (
	eepromPageSize = 256
	eepromPages    = 8
	flashChunk     = 512

	sht4xMeasureHigh = 0xFD
	sht4xAddress     = 0x44
	sht4xDelay       = 10 * time.Millisecond

	jedecReadID = 0x9F
	flashRead   = 0x03
)

func (app *Application) enterI2C(ctx context.Context) (*buspirate.I2C, error) {
	extra, err := app.psu()
	if err != nil {
		return nil, err
	}
	dev, err := app.idle.EnterI2C(ctx, buspirate.I2CConfig{
		Speed:        app.config.I2C.Speed,
		ClockStretch: app.config.I2C.ClockStretch,
	}, extra)
	if err != nil {
		return nil, err
	}
	app.active = dev
	return dev, nil
}

func (app *Application) enterSPI(ctx context.Context) (*buspirate.SPI, error) {
	extra, err := app.psu()
	if err != nil {
		return nil, err
	}

	cfg := buspirate.SPIConfig{
		Speed:    app.config.SPI.Speed,
		DataBits: app.config.SPI.DataBits,
	}
	if app.config.SPI.ClockPolarity == "idle-high" {
		cfg.ClockPolarity = buspirate.ClockActiveLow
	}
	if app.config.SPI.ClockPhase == "trailing" {
		cfg.ClockPhase = buspirate.TrailingEdge
	}
	if app.config.SPI.ChipSelect == "active-high" {
		cfg.ChipSelect = buspirate.ChipSelectActiveHigh
	}

	dev, err := app.idle.EnterSPI(ctx, cfg, extra)
	if err != nil {
		return nil, err
	}
	app.active = dev
	return dev, nil
}

// probeResult is one address answered during an I2C scan.
type probeResult struct {
	Address string `json:"address"`
}

func runI2CScan(ctx context.Context, app *Application, _ []string) (*output, error) {
	dev, err := app.enterI2C(ctx)
	if err != nil {
		return nil, err
	}

	var found []probeResult
	var sb strings.Builder
	buf := make([]byte, 1)
	for addr := uint8(0x08); addr <= 0x77; addr++ {
		err := dev.Read(ctx, addr, buf)
		var devErr *buspirate.DeviceError
		switch {
		case err == nil:
			found = append(found, probeResult{Address: fmt.Sprintf("0x%02x", addr)})
			fmt.Fprintf(&sb, "0x%02x\n", addr)
		case errors.As(err, &devErr), errors.Is(err, buspirate.ErrNoDataReceived):
			app.logger.Debug("No answer", zap.Uint8("address", addr), zap.Error(err))
		default:
			return nil, err
		}
	}

	return &output{
		message: fmt.Sprintf("%d devices answered", len(found)),
		data:    found,
		text:    sb.String(),
	}, nil
}

func runI2CRead(ctx context.Context, app *Application, args []string) (*output, error) {
	addr, err := parseAddress(args[0])
	if err != nil {
		return nil, err
	}
	n, err := parseCount(args[1])
	if err != nil {
		return nil, err
	}

	dev, err := app.enterI2C(ctx)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := dev.Read(ctx, addr, buf); err != nil {
		return nil, err
	}
	return bytesOutput(fmt.Sprintf("Read %d bytes from 0x%02x", n, addr), buf), nil
}

func runI2CWrite(ctx context.Context, app *Application, args []string) (*output, error) {
	addr, err := parseAddress(args[0])
	if err != nil {
		return nil, err
	}
	data, err := parseHex(strings.Join(args[1:], ""))
	if err != nil {
		return nil, err
	}

	dev, err := app.enterI2C(ctx)
	if err != nil {
		return nil, err
	}
	if err := dev.Write(ctx, addr, data); err != nil {
		return nil, err
	}
	return &output{message: fmt.Sprintf("Wrote %d bytes to 0x%02x", len(data), addr)}, nil
}

func runI2CWriteRead(ctx context.Context, app *Application, args []string) (*output, error) {
	addr, err := parseAddress(args[0])
	if err != nil {
		return nil, err
	}
	data, err := parseHex(args[1])
	if err != nil {
		return nil, err
	}
	n, err := parseCount(args[2])
	if err != nil {
		return nil, err
	}

	dev, err := app.enterI2C(ctx)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := dev.WriteRead(ctx, addr, data, buf); err != nil {
		return nil, err
	}
	return bytesOutput(fmt.Sprintf("Read %d bytes from 0x%02x", n, addr), buf), nil
}

// runEEPROMRead reads a 24x16: eight 256-byte blocks, the block number
// carried in the low address bits and a one-byte word address.
func runEEPROMRead(ctx context.Context, app *Application, args []string) (*output, error) {
	base, err := parseAddress(args[0])
	if err != nil {
		return nil, err
	}
	start, err := parseOffset(args[1])
	if err != nil {
		return nil, err
	}
	n, err := parseCount(args[2])
	if err != nil {
		return nil, err
	}
	offset := int(start)
	if offset+n > eepromPageSize*eepromPages {
		return nil, fmt.Errorf("range 0x%x+%d exceeds the %d byte device", offset, n, eepromPageSize*eepromPages)
	}

	dev, err := app.enterI2C(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	for pos := 0; pos < n; {
		at := offset + pos
		block, word := at/eepromPageSize, at%eepromPageSize
		chunk := min(eepromPageSize-word, n-pos)
		if err := dev.WriteRead(ctx, base+uint8(block), []byte{byte(word)}, out[pos:pos+chunk]); err != nil {
			return nil, fmt.Errorf("read at 0x%03x: %w", at, err)
		}
		pos += chunk
	}
	return bytesOutput(fmt.Sprintf("Read %d bytes at 0x%03x", n, offset), out), nil
}

// sht4xReading is a converted SHT4x measurement.
type sht4xReading struct {
	Celsius  string `json:"celsius"`
	Humidity string `json:"humidity"`
}

func runSHT4x(ctx context.Context, app *Application, _ []string) (*output, error) {
	dev, err := app.enterI2C(ctx)
	if err != nil {
		return nil, err
	}
	if err := dev.Write(ctx, sht4xAddress, []byte{sht4xMeasureHigh}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(sht4xDelay):
	}

	raw := make([]byte, 6)
	if err := dev.Read(ctx, sht4xAddress, raw); err != nil {
		return nil, err
	}
	reading, err := convertSHT4x(raw)
	if err != nil {
		return nil, err
	}
	return &output{
		message: fmt.Sprintf("%s °C, %s %%RH", reading.Celsius, reading.Humidity),
		data:    reading,
	}, nil
}

// convertSHT4x checks both words' CRC and applies the datasheet formulas
// T = -45 + 175*St/65535 and RH = -6 + 125*Srh/65535, clamping RH to 0..100.
func convertSHT4x(raw []byte) (*sht4xReading, error) {
	if len(raw) != 6 {
		return nil, fmt.Errorf("sht4x: expected 6 bytes, got %d", len(raw))
	}
	for i := 0; i < 6; i += 3 {
		if crc := sensirionCRC(raw[i : i+2]); crc != raw[i+2] {
			return nil, fmt.Errorf("sht4x: crc mismatch in word %d: got 0x%02x, want 0x%02x", i/3, raw[i+2], crc)
		}
	}

	full := decimal.NewFromInt(65535)
	st := decimal.NewFromInt(int64(raw[0])<<8 | int64(raw[1]))
	srh := decimal.NewFromInt(int64(raw[3])<<8 | int64(raw[4]))

	celsius := st.Mul(decimal.NewFromInt(175)).Div(full).Sub(decimal.NewFromInt(45))
	humidity := srh.Mul(decimal.NewFromInt(125)).Div(full).Sub(decimal.NewFromInt(6))
	humidity = decimal.Min(decimal.Max(humidity, decimal.Zero), decimal.NewFromInt(100))

	return &sht4xReading{
		Celsius:  celsius.StringFixed(1),
		Humidity: humidity.StringFixed(1),
	}, nil
}

// sensirionCRC is CRC-8 with polynomial 0x31 and initial value 0xFF.
func sensirionCRC(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func runSPITransfer(ctx context.Context, app *Application, args []string) (*output, error) {
	data, err := parseHex(strings.Join(args, ""))
	if err != nil {
		return nil, err
	}

	dev, err := app.enterSPI(ctx)
	if err != nil {
		return nil, err
	}
	if err := dev.TransferInPlace(ctx, data); err != nil {
		return nil, err
	}
	return bytesOutput(fmt.Sprintf("Transferred %d bytes", len(data)), data), nil
}

func runSPILoopback(ctx context.Context, app *Application, args []string) (*output, error) {
	write := []byte{0xAA}
	if len(args) > 0 {
		var err error
		if write, err = parseHex(strings.Join(args, "")); err != nil {
			return nil, err
		}
	}

	dev, err := app.enterSPI(ctx)
	if err != nil {
		return nil, err
	}
	read := make([]byte, len(write))
	if err := dev.Transfer(ctx, read, write); err != nil {
		return nil, err
	}
	if string(read) != string(write) {
		return nil, fmt.Errorf("loopback mismatch: wrote % x, read % x", write, read)
	}
	return &output{message: fmt.Sprintf("Loopback OK (%d bytes)", len(write))}, nil
}

// jedecID is a flash chip's manufacturer and device identification.
type jedecID struct {
	Manufacturer string `json:"manufacturer"`
	Device       string `json:"device"`
}

func runSPIJedec(ctx context.Context, app *Application, _ []string) (*output, error) {
	dev, err := app.enterSPI(ctx)
	if err != nil {
		return nil, err
	}

	id := make([]byte, 3)
	if err := dev.Transaction(ctx, buspirate.SPIWrite([]byte{jedecReadID}), buspirate.SPIRead(id)); err != nil {
		return nil, err
	}
	result := jedecID{
		Manufacturer: fmt.Sprintf("0x%02x", id[0]),
		Device:       fmt.Sprintf("0x%02x%02x", id[1], id[2]),
	}
	return &output{
		message: fmt.Sprintf("Manufacturer %s, device %s", result.Manufacturer, result.Device),
		data:    result,
	}, nil
}

func runFlashRead(ctx context.Context, app *Application, args []string) (*output, error) {
	offset, err := parseOffset(args[0])
	if err != nil {
		return nil, err
	}
	n, err := parseCount(args[1])
	if err != nil {
		return nil, err
	}
	if offset+uint32(n) > 1<<24 {
		return nil, fmt.Errorf("range 0x%x+%d exceeds 24-bit addressing", offset, n)
	}

	dev, err := app.enterSPI(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	for pos := 0; pos < n; pos += flashChunk {
		at := offset + uint32(pos)
		chunk := out[pos:min(pos+flashChunk, n)]
		cmd := []byte{flashRead, byte(at >> 16), byte(at >> 8), byte(at)}
		if err := dev.Transaction(ctx, buspirate.SPIWrite(cmd), buspirate.SPIRead(chunk)); err != nil {
			return nil, fmt.Errorf("read at 0x%06x: %w", at, err)
		}
	}
	return bytesOutput(fmt.Sprintf("Read %d bytes at 0x%06x", n, offset), out), nil
}
