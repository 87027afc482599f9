// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// ChannelConfig carries the settings for every channel type; only the
// section matching the selected type is used.
type ChannelConfig struct {
	Serial    SerialConfig
	USB       USBConfig
	TCP       TCPConfig
	WebSocket WebSocketConfig
}

// CreateChannel creates an unopened channel of the given type
func CreateChannel(channelType ChannelType, config *ChannelConfig, logger *zap.Logger) (Channel, error) {
	if err := ValidateConfig(channelType, config); err != nil {
		return nil, err
	}

	switch channelType {
	case ChannelTypeSerial:
		logger.Info("Creating serial channel",
			zap.String("port", config.Serial.Port),
			zap.Int("baud_rate", config.Serial.BaudRate),
		)
		return NewSerialConnection(&config.Serial, logger), nil
	case ChannelTypeUSB:
		logger.Info("Creating USB channel",
			zap.String("vendor_id", config.USB.VendorID),
			zap.String("product_id", config.USB.ProductID),
			zap.Int("interface", config.USB.Interface),
		)
		return NewUSBConnection(&config.USB, logger), nil
	case ChannelTypeTCP:
		logger.Info("Creating TCP channel",
			zap.String("host", config.TCP.Host),
			zap.Int("port", config.TCP.Port),
		)
		return NewTCPConnection(&config.TCP, logger), nil
	case ChannelTypeWebSocket:
		logger.Info("Creating WebSocket channel", zap.String("url", config.WebSocket.URL))
		return NewWebSocketConnection(&config.WebSocket, logger), nil
	default:
		return nil, fmt.Errorf("unsupported channel type: %s", channelType)
	}
}

// ValidateConfig validates configuration for a specific channel type
func ValidateConfig(channelType ChannelType, config *ChannelConfig) error {
	if config == nil {
		return fmt.Errorf("channel configuration is required")
	}
	switch channelType {
	case ChannelTypeSerial:
		return validateSerialConfig(&config.Serial)
	case ChannelTypeUSB:
		return validateUSBConfig(&config.USB)
	case ChannelTypeTCP:
		return validateTCPConfig(&config.TCP)
	case ChannelTypeWebSocket:
		return validateWebSocketConfig(&config.WebSocket)
	default:
		return fmt.Errorf("unsupported channel type: %s", channelType)
	}
}

func validateSerialConfig(config *SerialConfig) error {
	if config.Port == "" {
		return fmt.Errorf("serial port is required")
	}
	if config.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate: %d", config.BaudRate)
	}
	if config.DataBits != 0 && (config.DataBits < 5 || config.DataBits > 8) {
		return fmt.Errorf("invalid data bits: %d", config.DataBits)
	}
	_, err := serialMode(config)
	return err
}

func validateUSBConfig(config *USBConfig) error {
	if config.VendorID == "" {
		return fmt.Errorf("USB vendor_id is required")
	}
	if config.ProductID == "" {
		return fmt.Errorf("USB product_id is required")
	}
	if _, err := parseHexID(config.VendorID); err != nil {
		return fmt.Errorf("invalid vendor ID %q: %w", config.VendorID, err)
	}
	if _, err := parseHexID(config.ProductID); err != nil {
		return fmt.Errorf("invalid product ID %q: %w", config.ProductID, err)
	}
	return nil
}

func validateTCPConfig(config *TCPConfig) error {
	if config.Host == "" {
		return fmt.Errorf("TCP host is required")
	}
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", config.Port)
	}
	return nil
}

func validateWebSocketConfig(config *WebSocketConfig) error {
	if config.URL == "" {
		return fmt.Errorf("WebSocket url is required")
	}
	u, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("invalid WebSocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("WebSocket url must use ws or wss, got %q", u.Scheme)
	}
	return nil
}
