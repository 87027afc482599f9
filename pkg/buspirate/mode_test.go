package buspirate

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"buspirate-host/internal/bpio"
)

func TestOpenEntersIdleMode(t *testing.T) {
	fake := newFakeAdapter(t)
	idle, err := Open(context.Background(), fake)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if idle.Mode() != ModeIdle {
		t.Fatalf("mode %s, want %s", idle.Mode(), ModeIdle)
	}
	if len(fake.requests) != 1 {
		t.Fatalf("sent %d requests, want 1", len(fake.requests))
	}

	req := fake.requests[0]
	if req.Kind != bpio.RequestConfiguration {
		t.Fatalf("request kind %s", req.Kind)
	}
	if req.VersionMajor != bpio.VersionMajor {
		t.Fatalf("version_major %d", req.VersionMajor)
	}
	want := []bpio.Field{
		{Name: "mode", Value: "HiZ"},
		{Name: "mode_configuration", Value: []bpio.Field(nil)},
	}
	if diff := cmp.Diff(want, req.Fields, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenReportsDeviceError(t *testing.T) {
	fake := newFakeAdapter(t)
	fake.respond = func(*bpio.RequestPacket) (reply, bool) {
		return deviceFailure(bpio.ResponseConfiguration, "Invalid mode name"), true
	}

	_, err := Open(context.Background(), fake)
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if devErr.Message != "Invalid mode name" {
		t.Fatalf("message %q", devErr.Message)
	}
}

func TestConfigureSendsOnlySetFields(t *testing.T) {
	fake := newFakeAdapter(t)
	idle := openFake(t, fake)

	if err := idle.Configure(context.Background(), Configuration{LEDResume: true}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	want := []bpio.Field{{Name: "led_resume", Value: true}}
	if diff := cmp.Diff(want, fake.requests[0].Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigureEmptySendsNothing(t *testing.T) {
	fake := newFakeAdapter(t)
	idle := openFake(t, fake)

	if err := idle.Configure(context.Background(), Configuration{}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if len(fake.requests) != 0 {
		t.Fatalf("sent %d requests for an empty configuration", len(fake.requests))
	}
}

func TestEnterI2CSendsModeParameters(t *testing.T) {
	fake := newFakeAdapter(t)
	idle := openFake(t, fake)

	extra := &Configuration{PSU: PSUEnable(3300, 300), Pullups: Bool(true)}
	dev, err := idle.EnterI2C(context.Background(), I2CConfig{Speed: 400000, ClockStretch: true}, extra)
	if err != nil {
		t.Fatalf("EnterI2C: %v", err)
	}
	if dev.Mode() != ModeI2C {
		t.Fatalf("mode %s", dev.Mode())
	}

	want := []bpio.Field{
		{Name: "mode", Value: "I2C"},
		{Name: "mode_configuration", Value: []bpio.Field{
			{Name: "speed", Value: uint32(400000)},
			{Name: "clock_stretch", Value: true},
		}},
		{Name: "psu_enable", Value: true},
		{Name: "psu_set_mv", Value: uint32(3300)},
		{Name: "psu_set_ma", Value: uint16(300)},
		{Name: "pullup_enable", Value: true},
	}
	if diff := cmp.Diff(want, fake.requests[0].Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestEnterSPISendsIdleLevels(t *testing.T) {
	fake := newFakeAdapter(t)
	idle := openFake(t, fake)

	cfg := SPIConfig{
		Speed:         8000000,
		DataBits:      8,
		ClockPolarity: ClockActiveLow,
		ClockPhase:    TrailingEdge,
		ChipSelect:    ChipSelectActiveLow,
	}
	if _, err := idle.EnterSPI(context.Background(), cfg, &Configuration{BitOrder: BitOrderLSB}); err != nil {
		t.Fatalf("EnterSPI: %v", err)
	}

	want := []bpio.Field{
		{Name: "mode", Value: "SPI"},
		{Name: "mode_configuration", Value: []bpio.Field{
			{Name: "speed", Value: uint32(8000000)},
			{Name: "data_bits", Value: uint8(8)},
			{Name: "clock_polarity", Value: true},
			{Name: "clock_phase", Value: true},
			{Name: "chip_select_idle", Value: true},
		}},
		{Name: "mode_bitorder_lsb", Value: true},
	}
	if diff := cmp.Diff(want, fake.requests[0].Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestTransitionInvalidatesPreviousHandle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAdapter(t)
	idle := openFake(t, fake)

	i2c, err := idle.EnterI2C(ctx, I2CConfig{Speed: 100000}, nil)
	if err != nil {
		t.Fatalf("EnterI2C: %v", err)
	}
	if idle.Valid() {
		t.Fatal("idle handle still valid after entering I2C")
	}
	if err := idle.SelfTest(ctx); !errors.Is(err, ErrModeUnavailable) {
		t.Fatalf("expected ErrModeUnavailable, got %v", err)
	}
	if _, err := idle.EnterSPI(ctx, SPIConfig{}, nil); !errors.Is(err, ErrModeUnavailable) {
		t.Fatalf("expected ErrModeUnavailable, got %v", err)
	}

	spi, err := i2c.EnterSPI(ctx, SPIConfig{Speed: 1000000}, nil)
	if err != nil {
		t.Fatalf("EnterSPI: %v", err)
	}
	sent := len(fake.requests)
	if err := i2c.Write(ctx, 0x50, []byte{0x00}); !errors.Is(err, ErrModeUnavailable) {
		t.Fatalf("expected ErrModeUnavailable, got %v", err)
	}
	if len(fake.requests) != sent {
		t.Fatal("stale handle sent a request")
	}
	if err := spi.Write(ctx, []byte{0x9F}); err != nil {
		t.Fatalf("SPI Write: %v", err)
	}
}

func TestFailedTransitionKeepsCurrentHandle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAdapter(t)
	i2c := openI2C(t, fake)

	fake.respond = func(req *bpio.RequestPacket) (reply, bool) {
		if mode, ok := bpio.Lookup(req.Fields, "mode"); ok && mode == "SPI" {
			return deviceFailure(bpio.ResponseConfiguration, "mode not available"), true
		}
		return reply{}, false
	}

	if _, err := i2c.EnterSPI(ctx, SPIConfig{}, nil); err == nil {
		t.Fatal("expected EnterSPI to fail")
	}
	if !i2c.Valid() {
		t.Fatal("I2C handle invalidated by a failed transition")
	}
	if err := i2c.Write(ctx, 0x50, []byte{0x01}); err != nil {
		t.Fatalf("Write after failed transition: %v", err)
	}
}

func TestSelfTestFailureIsDeviceError(t *testing.T) {
	fake := newFakeAdapter(t)
	idle := openFake(t, fake)
	fake.respond = func(req *bpio.RequestPacket) (reply, bool) {
		if flag(req, "hardware_selftest") {
			return deviceFailure(bpio.ResponseConfiguration, "selftest failed: VREG"), true
		}
		return reply{}, false
	}

	err := idle.SelfTest(context.Background())
	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Message != "selftest failed: VREG" {
		t.Fatalf("expected DeviceError, got %v", err)
	}
}

func TestResetClosesConnection(t *testing.T) {
	fake := newFakeAdapter(t)
	idle := openFake(t, fake)

	if err := idle.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !flag(fake.requests[0], "hardware_reset") {
		t.Fatal("hardware_reset not sent")
	}
	if !fake.closed {
		t.Fatal("channel not closed after reset")
	}
	if idle.Valid() {
		t.Fatal("handle valid after reset")
	}
}

func TestCloseInvalidatesHandle(t *testing.T) {
	fake := newFakeAdapter(t)
	spi := openSPI(t, fake)

	if err := spi.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.closed {
		t.Fatal("channel not closed")
	}
	if err := spi.Flush(); !errors.Is(err, ErrModeUnavailable) {
		t.Fatalf("expected ErrModeUnavailable, got %v", err)
	}
}

func TestModeChangeIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	fake := newFakeAdapter(t)
	idle := openFake(t, fake, WithLogger(zap.New(core)))

	if _, err := idle.EnterI2C(context.Background(), I2CConfig{Speed: 100000}, nil); err != nil {
		t.Fatalf("EnterI2C: %v", err)
	}

	entries := logs.FilterMessage("Mode changed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d mode change entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["to"]; got != "I2C" {
		t.Fatalf("logged target %v", got)
	}
}

func TestModeString(t *testing.T) {
	tests := map[Mode]string{
		ModeIdle: "HiZ",
		ModeI2C:  "I2C",
		ModeSPI:  "SPI",
		Mode(9):  "Mode(9)",
	}
	for m, want := range tests {
		if got := m.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(m), got, want)
		}
	}
}
