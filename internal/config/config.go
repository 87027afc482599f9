// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"buspirate-host/internal/protocol"
)

// Config represents the application configuration
type Config struct {
	Adapter AdapterConfig `mapstructure:"adapter"`
	I2C     I2CConfig     `mapstructure:"i2c"`
	SPI     SPIConfig     `mapstructure:"spi"`
	PSU     PSUConfig     `mapstructure:"psu"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AdapterConfig selects and configures the channel to the adapter
type AdapterConfig struct {
	Channel      string          `mapstructure:"channel"`
	MaxFrameSize int             `mapstructure:"max_frame_size"`
	ReadChunk    int             `mapstructure:"read_chunk"`
	Timeout      time.Duration   `mapstructure:"timeout"`
	Serial       SerialConfig    `mapstructure:"serial"`
	TCP          TCPConfig       `mapstructure:"tcp"`
	WebSocket    WebSocketConfig `mapstructure:"websocket"`
	USB          USBConfig       `mapstructure:"usb"`
}

// SerialConfig represents serial port configuration. The Bus Pirate exposes
// two ports; Port names the binary one.
type SerialConfig struct {
	Port     string        `mapstructure:"port"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TCPConfig represents a TCP serial bridge
type TCPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// WebSocketConfig represents a WebSocket serial bridge
type WebSocketConfig struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// USBConfig represents the USB bulk interface
type USBConfig struct {
	VendorID     string        `mapstructure:"vendor_id"`
	ProductID    string        `mapstructure:"product_id"`
	SerialNumber string        `mapstructure:"serial_number"`
	Config       int           `mapstructure:"config"`
	Interface    int           `mapstructure:"interface"`
	AltSetting   int           `mapstructure:"alt_setting"`
	InEndpoint   int           `mapstructure:"in_endpoint"`
	OutEndpoint  int           `mapstructure:"out_endpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// I2CConfig holds I2C mode defaults
type I2CConfig struct {
	Speed        uint32 `mapstructure:"speed"`
	ClockStretch bool   `mapstructure:"clock_stretch"`
}

// SPIConfig holds SPI mode defaults
type SPIConfig struct {
	Speed         uint32 `mapstructure:"speed"`
	DataBits      uint8  `mapstructure:"data_bits"`
	ClockPolarity string `mapstructure:"clock_polarity"`
	ClockPhase    string `mapstructure:"clock_phase"`
	ChipSelect    string `mapstructure:"chip_select"`
}

// PSUConfig holds the power supply settings applied on mode entry. Voltage
// is a decimal string in volts.
type PSUConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Voltage   string `mapstructure:"voltage"`
	CurrentMA uint16 `mapstructure:"current_ma"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"channel":     "adapter.channel",
	"port":        "adapter.serial.port",
	"baud":        "adapter.serial.baud_rate",
	"timeout":     "adapter.timeout",
	"host":        "adapter.tcp.host",
	"tcp-port":    "adapter.tcp.port",
	"url":         "adapter.websocket.url",
	"usb-serial":  "adapter.usb.serial_number",
	"i2c-speed":   "i2c.speed",
	"spi-speed":   "spi.speed",
	"psu":         "psu.enabled",
	"psu-voltage": "psu.voltage",
	"psu-current": "psu.current_ma",
	"log-level":   "logging.level",
	"log-format":  "logging.format",
	"log-output":  "logging.output",
}

// Load reads configuration from an optional YAML file, BPCTL_ environment
// variables and flags, in increasing order of precedence. An empty path
// searches ./bpctl.yaml and $HOME/.config/bpctl/bpctl.yaml; a missing file
// is not an error unless path was given explicitly.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bpctl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/bpctl")
	}

	// Environment variable support
	v.SetEnvPrefix("BPCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Adapter defaults
	v.SetDefault("adapter.channel", string(protocol.ChannelTypeSerial))
	v.SetDefault("adapter.max_frame_size", 1024)
	v.SetDefault("adapter.read_chunk", 256)
	v.SetDefault("adapter.timeout", "1s")

	v.SetDefault("adapter.serial.port", "/dev/ttyACM1")
	v.SetDefault("adapter.serial.baud_rate", 115200)
	v.SetDefault("adapter.serial.data_bits", 8)
	v.SetDefault("adapter.serial.stop_bits", 1)
	v.SetDefault("adapter.serial.parity", "none")

	v.SetDefault("adapter.tcp.port", 4000)
	v.SetDefault("adapter.tcp.keep_alive", true)
	v.SetDefault("adapter.tcp.connect_timeout", "5s")
	v.SetDefault("adapter.tcp.write_timeout", "5s")

	v.SetDefault("adapter.websocket.handshake_timeout", "5s")
	v.SetDefault("adapter.websocket.write_timeout", "5s")

	v.SetDefault("adapter.usb.vendor_id", "0x1209")
	v.SetDefault("adapter.usb.product_id", "0x7331")
	v.SetDefault("adapter.usb.config", 1)
	v.SetDefault("adapter.usb.interface", 3)
	v.SetDefault("adapter.usb.alt_setting", 0)
	v.SetDefault("adapter.usb.in_endpoint", 4)
	v.SetDefault("adapter.usb.out_endpoint", 4)

	// Bus defaults
	v.SetDefault("i2c.speed", 400000)
	v.SetDefault("i2c.clock_stretch", false)
	v.SetDefault("spi.speed", 1000000)
	v.SetDefault("spi.data_bits", 8)
	v.SetDefault("spi.clock_polarity", "idle-low")
	v.SetDefault("spi.clock_phase", "leading")
	v.SetDefault("spi.chip_select", "active-low")

	// PSU defaults
	v.SetDefault("psu.enabled", false)
	v.SetDefault("psu.voltage", "3.3")
	v.SetDefault("psu.current_ma", 300)

	// Logging defaults
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
}

// validate validates the configuration
func validate(config *Config) error {
	validChannels := []string{
		string(protocol.ChannelTypeSerial),
		string(protocol.ChannelTypeTCP),
		string(protocol.ChannelTypeWebSocket),
		string(protocol.ChannelTypeUSB),
	}
	if !contains(validChannels, config.Adapter.Channel) {
		return fmt.Errorf("adapter.channel must be one of: %v", validChannels)
	}
	if config.Adapter.MaxFrameSize <= 0 {
		return fmt.Errorf("adapter.max_frame_size must be positive")
	}
	if config.Adapter.ReadChunk <= 0 {
		return fmt.Errorf("adapter.read_chunk must be positive")
	}

	if config.I2C.Speed == 0 {
		return fmt.Errorf("i2c.speed is required")
	}
	if config.SPI.Speed == 0 {
		return fmt.Errorf("spi.speed is required")
	}
	if !contains([]string{"idle-low", "idle-high"}, config.SPI.ClockPolarity) {
		return fmt.Errorf("spi.clock_polarity must be idle-low or idle-high")
	}
	if !contains([]string{"leading", "trailing"}, config.SPI.ClockPhase) {
		return fmt.Errorf("spi.clock_phase must be leading or trailing")
	}
	if !contains([]string{"active-low", "active-high"}, config.SPI.ChipSelect) {
		return fmt.Errorf("spi.chip_select must be active-low or active-high")
	}

	if config.PSU.Enabled {
		if _, err := config.PSU.Millivolts(); err != nil {
			return err
		}
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Millivolts converts the configured voltage to whole millivolts.
func (p PSUConfig) Millivolts() (uint32, error) {
	volts, err := decimal.NewFromString(p.Voltage)
	if err != nil {
		return 0, fmt.Errorf("psu.voltage %q is not a number: %w", p.Voltage, err)
	}
	mv := volts.Shift(3)
	if !mv.IsInteger() || mv.IsNegative() || mv.GreaterThan(decimal.NewFromInt(5000)) {
		return 0, fmt.Errorf("psu.voltage %q must be between 0 and 5 V in millivolt steps", p.Voltage)
	}
	return uint32(mv.IntPart()), nil
}

// timeout falls back to the adapter-wide timeout when a channel section
// leaves its own unset.
func (a *AdapterConfig) timeout(specific time.Duration) time.Duration {
	if specific > 0 {
		return specific
	}
	return a.Timeout
}

// ChannelConfig converts the adapter section to channel settings.
func (a *AdapterConfig) ChannelConfig() *protocol.ChannelConfig {
	return &protocol.ChannelConfig{
		Serial: protocol.SerialConfig{
			Port:     a.Serial.Port,
			BaudRate: a.Serial.BaudRate,
			DataBits: a.Serial.DataBits,
			StopBits: a.Serial.StopBits,
			Parity:   a.Serial.Parity,
			Timeout:  a.timeout(a.Serial.Timeout),
		},
		TCP: protocol.TCPConfig{
			Host:           a.TCP.Host,
			Port:           a.TCP.Port,
			KeepAlive:      a.TCP.KeepAlive,
			ConnectTimeout: a.TCP.ConnectTimeout,
			ReadTimeout:    a.timeout(a.TCP.ReadTimeout),
			WriteTimeout:   a.TCP.WriteTimeout,
		},
		WebSocket: protocol.WebSocketConfig{
			URL:              a.WebSocket.URL,
			HandshakeTimeout: a.WebSocket.HandshakeTimeout,
			ReadTimeout:      a.timeout(a.WebSocket.ReadTimeout),
			WriteTimeout:     a.WebSocket.WriteTimeout,
		},
		USB: protocol.USBConfig{
			VendorID:     a.USB.VendorID,
			ProductID:    a.USB.ProductID,
			SerialNumber: a.USB.SerialNumber,
			Config:       a.USB.Config,
			Interface:    a.USB.Interface,
			AltSetting:   a.USB.AltSetting,
			InEndpoint:   a.USB.InEndpoint,
			OutEndpoint:  a.USB.OutEndpoint,
			Timeout:      a.timeout(a.USB.Timeout),
		},
	}
}

// ChannelType returns the selected channel type
func (a *AdapterConfig) ChannelType() protocol.ChannelType {
	return protocol.ChannelType(a.Channel)
}
