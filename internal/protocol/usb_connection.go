// internal/protocol/usb_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// USBConnection implements Channel on the bulk endpoints of the adapter's
// binary CDC data interface, bypassing the kernel serial driver
type USBConnection struct {
	statsRecorder
	config   *USBConfig
	ctx      *gousb.Context
	device   *gousb.Device
	cfg      *gousb.Config
	intf     *gousb.Interface
	outEndpt *gousb.OutEndpoint
	inEndpt  *gousb.InEndpoint
	logger   *zap.Logger
	mutex    sync.RWMutex
	isOpen   bool
}

// NewUSBConnection creates a new USB connection
func NewUSBConnection(config *USBConfig, logger *zap.Logger) *USBConnection {
	return &USBConnection{
		config: config,
		logger: logger.With(
			zap.String("channel", string(ChannelTypeUSB)),
			zap.String("vendor_id", config.VendorID),
			zap.String("product_id", config.ProductID),
		),
	}
}

// Open finds the device and claims the configured interface
func (uc *USBConnection) Open(ctx context.Context) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if uc.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	uc.logger.Info("Opening USB connection",
		zap.Int("interface", uc.config.Interface),
		zap.Int("in_endpoint", uc.config.InEndpoint),
		zap.Int("out_endpoint", uc.config.OutEndpoint),
	)

	vendorID, err := parseHexID(uc.config.VendorID)
	if err != nil {
		return fmt.Errorf("invalid vendor ID: %w", err)
	}
	productID, err := parseHexID(uc.config.ProductID)
	if err != nil {
		return fmt.Errorf("invalid product ID: %w", err)
	}

	uc.ctx = gousb.NewContext()
	if err := uc.claim(vendorID, productID); err != nil {
		uc.release()
		return err
	}

	uc.isOpen = true
	uc.setConnected(true)

	uc.logger.Info("USB connection opened successfully")
	return nil
}

func (uc *USBConnection) claim(vendorID, productID gousb.ID) error {
	device, err := uc.findAndOpenDevice(vendorID, productID)
	if err != nil {
		return fmt.Errorf("failed to find USB device: %w", err)
	}
	uc.device = device

	if err := device.SetAutoDetach(true); err != nil {
		uc.logger.Warn("Kernel driver auto-detach unavailable", zap.Error(err))
	}

	cfg, err := device.Config(uc.config.Config)
	if err != nil {
		return fmt.Errorf("failed to select configuration %d: %w", uc.config.Config, err)
	}
	uc.cfg = cfg

	intf, err := cfg.Interface(uc.config.Interface, uc.config.AltSetting)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", uc.config.Interface, err)
	}
	uc.intf = intf

	if uc.outEndpt, err = intf.OutEndpoint(uc.config.OutEndpoint); err != nil {
		return fmt.Errorf("failed to get out endpoint: %w", err)
	}
	if uc.inEndpt, err = intf.InEndpoint(uc.config.InEndpoint); err != nil {
		return fmt.Errorf("failed to get in endpoint: %w", err)
	}
	return nil
}

// release frees whatever claim acquired, in reverse order.
func (uc *USBConnection) release() error {
	var firstErr error
	if uc.intf != nil {
		uc.intf.Close()
		uc.intf = nil
	}
	if uc.cfg != nil {
		if err := uc.cfg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		uc.cfg = nil
	}
	if uc.device != nil {
		if err := uc.device.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		uc.device = nil
	}
	if uc.ctx != nil {
		if err := uc.ctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		uc.ctx = nil
	}
	uc.outEndpt = nil
	uc.inEndpt = nil
	return firstErr
}

// Close releases the interface and device
func (uc *USBConnection) Close() error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen {
		return nil
	}

	err := uc.release()
	uc.isOpen = false
	uc.setConnected(false)
	if err != nil {
		uc.logger.Error("Failed to close USB connection", zap.Error(err))
		return fmt.Errorf("failed to close USB connection: %w", err)
	}

	uc.logger.Info("USB connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (uc *USBConnection) IsOpen() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.isOpen && uc.device != nil && uc.outEndpt != nil
}

// Write writes data to the bulk out endpoint
func (uc *USBConnection) Write(p []byte) (int, error) {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen || uc.outEndpt == nil {
		return 0, ErrNotOpen
	}

	ctx, cancel := uc.transferContext()
	defer cancel()

	startTime := time.Now()
	n, err := uc.outEndpt.WriteContext(ctx, p)
	if err != nil {
		uc.recordError(err)
		uc.logger.Error("USB write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to USB device: %w", err)
	}

	uc.recordWrite(n, time.Since(startTime))
	uc.logger.Debug("USB write completed", zap.Int("bytes", n))
	return n, nil
}

// Read reads one bulk transfer, waiting at most the configured timeout
func (uc *USBConnection) Read(p []byte) (int, error) {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen || uc.inEndpt == nil {
		return 0, ErrNotOpen
	}

	ctx, cancel := uc.transferContext()
	defer cancel()

	startTime := time.Now()
	n, err := uc.inEndpt.ReadContext(ctx, p)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, gousb.ErrorTimeout) || errors.Is(err, gousb.TransferTimedOut) {
			terr := &TimeoutError{Channel: ChannelTypeUSB, After: uc.config.Timeout}
			uc.recordError(terr)
			return n, terr
		}
		uc.recordError(err)
		return n, fmt.Errorf("failed to read from USB device: %w", err)
	}

	uc.recordRead(n, time.Since(startTime))
	return n, nil
}

func (uc *USBConnection) transferContext() (context.Context, context.CancelFunc) {
	if uc.config.Timeout > 0 {
		return context.WithTimeout(context.Background(), uc.config.Timeout)
	}
	return context.WithCancel(context.Background())
}

// Type returns the channel type
func (uc *USBConnection) Type() ChannelType {
	return ChannelTypeUSB
}

// parseHexID parses hex ID string (0x1234 or 1234)
func parseHexID(hexStr string) (gousb.ID, error) {
	hexStr = strings.TrimPrefix(strings.ToLower(hexStr), "0x")
	id, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(id), nil
}

// findAndOpenDevice opens the first device matching VID/PID and, when
// configured, serial number. Every other opened device is closed.
func (uc *USBConnection) findAndOpenDevice(vendorID, productID gousb.ID) (*gousb.Device, error) {
	devices, err := uc.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productID
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var chosen *gousb.Device
	for _, dev := range devices {
		if chosen == nil && uc.matchesSerial(dev) {
			chosen = dev
			continue
		}
		dev.Close()
	}

	if chosen == nil {
		return nil, fmt.Errorf("USB device not found (VID: %s, PID: %s, serial: %q)",
			vendorID, productID, uc.config.SerialNumber)
	}
	if len(devices) > 1 {
		uc.logger.Warn("Multiple matching USB devices found, using first one",
			zap.Int("matches", len(devices)))
	}
	return chosen, nil
}

func (uc *USBConnection) matchesSerial(dev *gousb.Device) bool {
	if uc.config.SerialNumber == "" {
		return true
	}
	sn, err := dev.SerialNumber()
	if err != nil {
		uc.logger.Debug("Failed to read serial number", zap.Error(err))
		return false
	}
	return sn == uc.config.SerialNumber
}
