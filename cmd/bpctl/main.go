// cmd/bpctl/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"buspirate-host/internal/config"
	"buspirate-host/internal/protocol"
	"buspirate-host/internal/utils"
	"buspirate-host/pkg/buspirate"
)

// Application holds what a single bpctl invocation needs
type Application struct {
	config *config.Config
	logger *zap.Logger
	stdout io.Writer
	json   bool

	// dial opens the byte channel to the adapter; replaced in tests.
	dial    func(ctx context.Context) (protocol.Channel, error)
	channel protocol.Channel
	idle    *buspirate.Idle
	active  modeHandle
}

// modeHandle is the part of a mode capability bpctl needs to release it.
type modeHandle interface {
	Valid() bool
	Close() error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func newFlagSet(stderr io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet("bpctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	flags.Usage = func() { usage(stderr, flags) }

	flags.StringP("config", "c", "", "configuration file (default ./bpctl.yaml)")
	flags.Bool("json", false, "print results as JSON")
	flags.String("channel", "serial", "channel type: serial, usb, tcp or websocket")
	flags.StringP("port", "p", "/dev/ttyACM1", "serial port of the binary interface")
	flags.Int("baud", 115200, "serial baud rate")
	flags.Duration("timeout", 0, "read timeout")
	flags.String("host", "", "TCP bridge host")
	flags.Int("tcp-port", 0, "TCP bridge port")
	flags.String("url", "", "WebSocket bridge URL")
	flags.String("usb-serial", "", "USB serial number to select")
	flags.Uint32("i2c-speed", 0, "I2C clock in Hz")
	flags.Uint32("spi-speed", 0, "SPI clock in Hz")
	flags.Bool("psu", false, "enable the power supply on mode entry")
	flags.String("psu-voltage", "", "power supply voltage in volts")
	flags.Uint16("psu-current", 0, "power supply current limit in mA")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("log-output", "stderr", "log output: stdout, stderr or a file path")
	return flags
}

func usage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: bpctl [flags] <command> [args]")
	fmt.Fprintln(w, "\nCommands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-36s %s\n", cmd.name+" "+cmd.args, cmd.help)
	}
	fmt.Fprintln(w, "\nFlags:")
	fmt.Fprint(w, flags.FlagUsages())
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := newFlagSet(stderr)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cmd, cmdArgs, err := lookup(flags.Args())
	if err != nil {
		fmt.Fprintln(stderr, err)
		flags.Usage()
		return 2
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer utils.CloseLogger(logger)

	jsonOut, _ := flags.GetBool("json")
	app := NewApplication(cfg, logger, stdout, jsonOut)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Execute(ctx, cmd, cmdArgs); err != nil {
		if !app.json {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// NewApplication wires configuration and logging
func NewApplication(cfg *config.Config, logger *zap.Logger, stdout io.Writer, jsonOut bool) *Application {
	app := &Application{
		config: cfg,
		logger: logger,
		stdout: stdout,
		json:   jsonOut,
	}
	app.dial = app.dialChannel
	return app
}

// Execute runs one command and reports its result
func (app *Application) Execute(ctx context.Context, cmd *command, args []string) error {
	op := utils.NewOperationLogger(app.logger, strings.ReplaceAll(cmd.name, " ", "_"))
	op.Start(zap.Strings("args", args))

	if cmd.needsAdapter {
		if err := app.connect(ctx, op.Logger()); err != nil {
			op.Error(err)
			return app.report(op.ID(), cmd, nil, fmt.Errorf("failed to connect: %w", err))
		}
		defer app.disconnect()
	}

	out, err := cmd.run(ctx, app, args)
	if err != nil {
		op.Error(err)
	} else {
		op.Success()
	}
	return app.report(op.ID(), cmd, out, err)
}

func (app *Application) report(operationID string, cmd *command, out *output, err error) error {
	if app.json {
		var result *utils.Result
		if err != nil {
			result = utils.ErrorResult(operationID, cmd.name+" failed", err)
		} else {
			result = utils.SuccessResult(operationID, out.message, out.data)
		}
		if werr := utils.WriteResult(app.stdout, result); werr != nil {
			return werr
		}
		return err
	}

	if err != nil {
		return err
	}
	if out.text != "" {
		fmt.Fprint(app.stdout, out.text)
	} else if out.message != "" {
		fmt.Fprintln(app.stdout, out.message)
	}
	return nil
}

// dialChannel builds the configured channel and opens it.
func (app *Application) dialChannel(ctx context.Context) (protocol.Channel, error) {
	chCfg := app.config.Adapter.ChannelConfig()
	channelType := app.config.Adapter.ChannelType()

	app.logger.Info("Opening channel",
		zap.String("channel", string(channelType)),
		zap.String("endpoint", app.endpoint()),
	)
	ch, err := protocol.CreateChannel(channelType, chCfg, app.logger)
	if err != nil {
		return nil, err
	}
	if err := ch.Open(ctx); err != nil {
		return nil, err
	}
	return ch, nil
}

func (app *Application) connect(ctx context.Context, logger *zap.Logger) error {
	ch, err := app.dial(ctx)
	if err != nil {
		return err
	}

	adapterLogger := utils.NewAdapterLogger(logger, ch.Type(), app.endpoint())
	idle, err := buspirate.Open(ctx, ch,
		buspirate.WithLogger(adapterLogger),
		buspirate.WithMaxFrameSize(app.config.Adapter.MaxFrameSize),
		buspirate.WithReadChunk(app.config.Adapter.ReadChunk),
	)
	if err != nil {
		ch.Close()
		return err
	}

	app.channel = ch
	app.idle = idle
	app.active = idle
	return nil
}

func (app *Application) disconnect() {
	if app.channel == nil {
		return
	}
	stats := app.channel.Stats()
	app.logger.Debug("Channel statistics",
		zap.Int64("bytes_written", stats.BytesWritten),
		zap.Int64("bytes_read", stats.BytesRead),
		zap.Int64("timeouts", stats.TimeoutCount),
		zap.Duration("average_latency", stats.AverageLatency),
	)
	if app.active != nil && app.active.Valid() {
		if err := app.active.Close(); err != nil {
			app.logger.Warn("Failed to close adapter", zap.Error(err))
		}
	}
	// Reset and bootloader already closed it; channels tolerate a second Close.
	if err := app.channel.Close(); err != nil {
		app.logger.Warn("Failed to close channel", zap.Error(err))
	}
	app.channel = nil
	app.idle = nil
	app.active = nil
}

func (app *Application) endpoint() string {
	a := app.config.Adapter
	switch a.ChannelType() {
	case protocol.ChannelTypeTCP:
		return fmt.Sprintf("%s:%d", a.TCP.Host, a.TCP.Port)
	case protocol.ChannelTypeWebSocket:
		return a.WebSocket.URL
	case protocol.ChannelTypeUSB:
		return a.USB.VendorID + ":" + a.USB.ProductID
	default:
		return a.Serial.Port
	}
}

// psu returns the supply settings to apply on mode entry, or nil.
func (app *Application) psu() (*buspirate.Configuration, error) {
	if !app.config.PSU.Enabled {
		return nil, nil
	}
	mv, err := app.config.PSU.Millivolts()
	if err != nil {
		return nil, err
	}
	return &buspirate.Configuration{
		PSU:     buspirate.PSUEnable(mv, app.config.PSU.CurrentMA),
		Pullups: buspirate.Bool(true),
	}, nil
}
