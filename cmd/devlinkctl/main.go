// Command devlinkctl talks to ESP32 and Arduino boards over serial.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Station-Manager/devlink"
	"github.com/Station-Manager/devlink/internal/config"
	"github.com/Station-Manager/devlink/internal/logger"
)

var (
	configPath string
	verbose    bool
	deviceName string
	portName   string
	waitFor    time.Duration

	cfg       *config.Config
	log       = zerolog.Nop()
	logCloser io.Closer

	// extra options for every device, replaced in tests
	deviceOptions []devlink.Option
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "devlinkctl",
		Short: "Send, expect and listen on serial-attached development boards",
		Long: `devlinkctl resolves logical boards (ESP32_1, ESP32_2, ARDUINO) to serial
ports and exchanges data with them.

Port lookup order: <DEVICE>_PORT environment variable, the devices section
of devlink.yaml, then the built-in table for this platform.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to devlink.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log received data")

	root.AddCommand(newPortsCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newExpectCmd())
	root.AddCommand(newListenCmd())
	root.AddCommand(newCheckCmd())
	return root
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	log, logCloser, err = logger.New(cfg.Log, cmd.ErrOrStderr())
	return err
}

// addDeviceFlags registers the flags that select one board.
func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&deviceName, "device", "d", devlink.DeviceESP32, "logical device name")
	cmd.Flags().StringVarP(&portName, "port", "p", "", "serial port, overrides --device")
	cmd.Flags().DurationVar(&waitFor, "wait", 0, "wait this long for the port to appear")
}

// openDevice resolves and connects the board selected by the device flags.
func openDevice(ctx context.Context) (*devlink.Device, error) {
	port := portName
	if port == "" {
		var err error
		if port, err = cfg.Resolver().Resolve(deviceName); err != nil {
			return nil, err
		}
	}

	if err := waitPort(ctx, port); err != nil {
		return nil, err
	}
	return connectPort(deviceName, port)
}

// waitPort blocks for up to --wait until port exists.
func waitPort(ctx context.Context, port string) error {
	if waitFor <= 0 {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	if err := devlink.WaitForPort(wctx, port); err != nil {
		return fmt.Errorf("waiting for %s: %w", port, err)
	}
	return nil
}

func connectPort(device, port string) (*devlink.Device, error) {
	dc, err := cfg.DeviceConfig(port)
	if err != nil {
		return nil, err
	}
	opts := append([]devlink.Option{
		devlink.WithLogger(log.With().Str("device", device).Logger()),
	}, deviceOptions...)

	dev := devlink.NewDevice(dc, opts...)
	if err = dev.Connect(); err != nil {
		return nil, err
	}
	return dev, nil
}

var errExpectMiss = errors.New("expected text not received")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errExpectMiss) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
