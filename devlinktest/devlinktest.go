// Package devlinktest provides hardware fixtures for tests that talk to real boards.
//
// Use Main from TestMain so the flags below are parsed before fixtures run:
//
//	func TestMain(m *testing.M) { devlinktest.Main(m) }
//
//	func TestBlink(t *testing.T) {
//		devlinktest.RequireIntegration(t)
//		dev := devlinktest.ESP32(t)
//		...
//	}
package devlinktest

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Station-Manager/devlink"
	"github.com/Station-Manager/devlink/internal/config"
)

var (
	runIntegration = flag.Bool("run-integration", false, "run tests that need hardware")
	listPorts      = flag.Bool("list-ports", false, "list serial ports and exit")
	esp32Port      = flag.String("esp32-port", "", "port of the first ESP32")
	esp32Port2     = flag.String("esp32-2-port", "", "port of the second ESP32")
	arduinoPort    = flag.String("arduino-port", "", "port of the Arduino")
	configPath     = flag.String("devlink-config", "", "path to devlink.yaml")
)

// Options are appended to the options of every fixture device.
var Options []devlink.Option

// allow tests to override the resolver
var resolverFor = func(c *config.Config) *devlink.Resolver {
	return c.Resolver()
}

var (
	loadOnce  sync.Once
	loadedCfg *config.Config
	loadErr   error
)

// Main parses flags and runs the tests. With -list-ports it prints the
// host's serial ports and exits without running anything.
func Main(m *testing.M) {
	flag.Parse()

	if *listPorts {
		ports, err := devlink.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		_ = devlink.PrintPorts(os.Stdout, ports)
		os.Exit(0)
	}

	os.Exit(m.Run())
}

// RequireIntegration skips t unless -run-integration was given.
func RequireIntegration(t testing.TB) {
	t.Helper()
	if !*runIntegration {
		t.Skip("hardware test; pass -run-integration to run")
	}
}

// ESP32 returns a connected device for the first ESP32, or skips t.
func ESP32(t testing.TB) *devlink.Device {
	t.Helper()
	return connect(t, devlink.DeviceESP32, *esp32Port)
}

// SecondESP32 returns a connected device for the second ESP32, or skips t.
func SecondESP32(t testing.TB) *devlink.Device {
	t.Helper()
	return connect(t, devlink.DeviceSecondESP32, *esp32Port2)
}

// Arduino returns a connected device for the Arduino, or skips t.
func Arduino(t testing.TB) *devlink.Device {
	t.Helper()
	return connect(t, devlink.DeviceArduino, *arduinoPort)
}

func loadConfig() (*config.Config, error) {
	loadOnce.Do(func() {
		loadedCfg, loadErr = config.Load(*configPath)
	})
	return loadedCfg, loadErr
}

func connect(t testing.TB, device, port string) *devlink.Device {
	t.Helper()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loading devlink config: %v", err)
	}

	if port == "" {
		port, err = resolverFor(cfg).Resolve(device)
		if err != nil {
			t.Skipf("%s: %v", device, err)
		}
	}
	if port == "" {
		t.Skipf("%s: no port configured", device)
	}

	dc, err := cfg.DeviceConfig(port)
	if err != nil {
		t.Fatalf("%s: %v", device, err)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.NewConsoleWriter(zerolog.ConsoleTestWriter(t))).
		Level(level).
		With().
		Str("device", device).
		Logger()

	opts := append([]devlink.Option{devlink.WithLogger(log)}, Options...)
	dev := devlink.NewDevice(dc, opts...)
	if err = dev.Connect(); err != nil {
		t.Skipf("%s not available on %s: %v", device, port, err)
	}
	t.Cleanup(func() { _ = dev.Disconnect() })
	return dev
}
