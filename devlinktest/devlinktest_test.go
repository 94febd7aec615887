package devlinktest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gobug "go.bug.st/serial"

	"github.com/Station-Manager/devlink"
	"github.com/Station-Manager/devlink/internal/config"
)

func TestMain(m *testing.M) {
	Main(m)
}

type stubPort struct{}

func (stubPort) Read([]byte) (int, error)          { return 0, nil }
func (stubPort) Write(b []byte) (int, error)       { return len(b), nil }
func (stubPort) Close() error                      { return nil }
func (stubPort) SetReadTimeout(time.Duration) error { return nil }
func (stubPort) ResetInputBuffer() error           { return nil }

type opened struct {
	names []string
	err   error
}

func (o *opened) open(name string, _ *gobug.Mode) (devlink.SerialPort, error) {
	o.names = append(o.names, name)
	if o.err != nil {
		return nil, o.err
	}
	return stubPort{}, nil
}

// withFixtures swaps the opener, resolver and port flag for one test.
func withFixtures(t *testing.T, op *opened, table map[string]string, flagPort string) {
	t.Helper()

	prevOpts, prevResolver, prevFlag := Options, resolverFor, *esp32Port
	Options = []devlink.Option{devlink.WithOpener(op.open)}
	resolverFor = func(*config.Config) *devlink.Resolver {
		return &devlink.Resolver{
			Platform:  devlink.PlatformLinux,
			Table:     map[devlink.Platform]map[string]string{devlink.PlatformLinux: table},
			LookupEnv: func(string) (string, bool) { return "", false },
		}
	}
	*esp32Port = flagPort
	t.Cleanup(func() {
		Options, resolverFor, *esp32Port = prevOpts, prevResolver, prevFlag
	})
}

// runFixture runs fn in a subtest and reports whether it skipped.
func runFixture(t *testing.T, fn func(t *testing.T)) (skipped bool) {
	t.Helper()
	t.Run("fixture", func(t *testing.T) {
		defer func() { skipped = t.Skipped() }()
		fn(t)
	})
	return skipped
}

func TestFixtureUsesFlagPort(t *testing.T) {
	op := &opened{}
	withFixtures(t, op, nil, "/dev/ttyUSB4")

	var dev *devlink.Device
	skipped := runFixture(t, func(t *testing.T) {
		dev = ESP32(t)
		require.True(t, dev.IsConnected())
	})

	require.False(t, skipped)
	require.Equal(t, []string{"/dev/ttyUSB4"}, op.names)
	require.Equal(t, "/dev/ttyUSB4", dev.Port())
	require.False(t, dev.IsConnected(), "fixture should disconnect on cleanup")
}

func TestFixtureResolvesDevice(t *testing.T) {
	op := &opened{}
	withFixtures(t, op, map[string]string{devlink.DeviceArduino: "/dev/ttyACM0"}, "")

	skipped := runFixture(t, func(t *testing.T) {
		dev := Arduino(t)
		require.Equal(t, devlink.DefaultBaudRate, dev.Config().BaudRate)
	})

	require.False(t, skipped)
	require.Equal(t, []string{"/dev/ttyACM0"}, op.names)
}

func TestFixtureSkipsWithoutPort(t *testing.T) {
	op := &opened{}
	withFixtures(t, op, map[string]string{}, "")

	skipped := runFixture(t, func(t *testing.T) {
		SecondESP32(t)
		t.Fatal("fixture should have skipped")
	})

	require.True(t, skipped)
	require.Empty(t, op.names)
}

func TestFixtureSkipsWhenConnectFails(t *testing.T) {
	op := &opened{err: errors.New("no such file or directory")}
	withFixtures(t, op, nil, "/dev/ttyUSB0")

	skipped := runFixture(t, func(t *testing.T) {
		ESP32(t)
		t.Fatal("fixture should have skipped")
	})

	require.True(t, skipped)
	require.Len(t, op.names, 1)
}

func TestRequireIntegration(t *testing.T) {
	prev := *runIntegration
	t.Cleanup(func() { *runIntegration = prev })

	*runIntegration = false
	require.True(t, runFixture(t, func(t *testing.T) { RequireIntegration(t) }))

	*runIntegration = true
	require.False(t, runFixture(t, func(t *testing.T) { RequireIntegration(t) }))
}
