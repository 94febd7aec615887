package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gobug "go.bug.st/serial"

	"github.com/Station-Manager/devlink"
)

type fakePort struct {
	mu      sync.Mutex
	data    chan []byte
	timeout time.Duration
	written bytes.Buffer
}

func newFakePort(chunks ...string) *fakePort {
	p := &fakePort{data: make(chan []byte, 16), timeout: devlink.NoTimeout}
	for _, c := range chunks {
		p.data <- []byte(c)
	}
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	if timeout == 0 {
		select {
		case chunk := <-p.data:
			return copy(b, chunk), nil
		default:
			return 0, nil
		}
	}
	if timeout < 0 {
		timeout = time.Hour
	}
	select {
	case chunk := <-p.data:
		return copy(b, chunk), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error            { return nil }
func (p *fakePort) ResetInputBuffer() error { return nil }

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
	return nil
}

func (p *fakePort) sent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

// withPorts routes device opens to the given fake ports; other names fail.
func withPorts(t *testing.T, ports map[string]*fakePort) {
	t.Helper()
	prev := deviceOptions
	deviceOptions = []devlink.Option{devlink.WithOpener(func(name string, _ *gobug.Mode) (devlink.SerialPort, error) {
		if p, ok := ports[name]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("open %s: no such file or directory", name)
	})}
	t.Cleanup(func() { deviceOptions = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir())

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	t.Setenv("ESP32_1_PORT", "/dev/ttyUSB7")
	t.Setenv("ESP32_2_PORT", "/dev/ttyUSB8")
	t.Setenv("ARDUINO_PORT", "/dev/ttyACM2")

	out, err := execute(t, "resolve")
	require.NoError(t, err)
	require.Equal(t, "ESP32_1\t/dev/ttyUSB7\nESP32_2\t/dev/ttyUSB8\nARDUINO\t/dev/ttyACM2\n", out)
}

func TestSendCommand(t *testing.T) {
	p := newFakePort()
	withPorts(t, map[string]*fakePort{"/dev/ttyUSB0": p})

	out, err := execute(t, "send", "--port", "/dev/ttyUSB0", "--newline", "PING")
	require.NoError(t, err)
	require.Equal(t, "sent 5 bytes to /dev/ttyUSB0\n", out)
	require.Equal(t, []byte("PING\n"), p.sent())
}

func TestSendHexFrame(t *testing.T) {
	p := newFakePort()
	withPorts(t, map[string]*fakePort{"/dev/ttyUSB0": p})

	_, err := execute(t, "send", "-p", "/dev/ttyUSB0", "--hex", "--frame", "01 02")
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0x55, 0x01, 0x02, 0x55, 0xAA}, p.sent())
}

func TestSendBadHex(t *testing.T) {
	withPorts(t, nil)
	_, err := execute(t, "send", "-p", "/dev/ttyUSB0", "--hex", "zz")
	require.ErrorContains(t, err, "decoding hex payload")
}

func TestSendThenExpect(t *testing.T) {
	p := newFakePort("PO", "NG\r\n")
	withPorts(t, map[string]*fakePort{"/dev/ttyUSB0": p})

	out, err := execute(t, "send", "-p", "/dev/ttyUSB0", "--expect", "PONG", "PING")
	require.NoError(t, err)
	require.Contains(t, out, `matched "PONG"`)
}

func TestExpectCommandMiss(t *testing.T) {
	withPorts(t, map[string]*fakePort{"/dev/ttyUSB0": newFakePort("booting\n")})

	_, err := execute(t, "expect", "-p", "/dev/ttyUSB0", "--timeout", "100ms", "READY")
	require.ErrorIs(t, err, errExpectMiss)
}

func TestExpectCommandUnknownPort(t *testing.T) {
	withPorts(t, nil)

	_, err := execute(t, "expect", "-p", "/dev/ttyUSB9", "READY")
	require.Error(t, err)
	require.False(t, errors.Is(err, errExpectMiss))
}

func TestListenCommand(t *testing.T) {
	withPorts(t, map[string]*fakePort{"/dev/ttyACM0": newFakePort("temp=21\r\n", "temp=22\n")})

	out, err := execute(t, "listen", "-p", "/dev/ttyACM0", "--duration", "400ms")
	require.NoError(t, err)
	require.Equal(t, []string{"temp=21", "temp=22"}, strings.Fields(out))
}

func TestCheckCommand(t *testing.T) {
	t.Setenv("ESP32_1_PORT", "/dev/ttyUSB0")
	t.Setenv("ESP32_2_PORT", "/dev/ttyUSB1")
	t.Setenv("ARDUINO_PORT", "/dev/ttyACM0")
	withPorts(t, map[string]*fakePort{
		"/dev/ttyUSB0": newFakePort(),
		"/dev/ttyACM0": newFakePort(),
	})

	out, err := execute(t, "check")
	require.EqualError(t, err, "1 of 3 devices unavailable")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "ARDUINO"))
	require.Contains(t, lines[0], " ok")
	require.True(t, strings.HasPrefix(lines[2], "ESP32_2"))
	require.Contains(t, lines[2], "FAIL")
}

func TestCheckCommandWaitsForPorts(t *testing.T) {
	dir := t.TempDir()
	esp := filepath.Join(dir, "ttyUSB0")
	arduino := filepath.Join(dir, "ttyACM0")
	missing := filepath.Join(dir, "ttyUSB1")
	require.NoError(t, os.WriteFile(esp, nil, 0o600))

	t.Setenv("ESP32_1_PORT", esp)
	t.Setenv("ESP32_2_PORT", missing)
	t.Setenv("ARDUINO_PORT", arduino)
	withPorts(t, map[string]*fakePort{
		esp:     newFakePort(),
		arduino: newFakePort(),
		missing: newFakePort(),
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(arduino, nil, 0o600)
	}()

	out, err := execute(t, "check", "--wait", "500ms")
	require.EqualError(t, err, "1 of 3 devices unavailable")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], " ok")
	require.Contains(t, lines[1], " ok")
	require.Contains(t, lines[2], "waiting for")
	require.Contains(t, lines[2], context.DeadlineExceeded.Error())
}

func TestCheckCommandCancelled(t *testing.T) {
	withPorts(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executeContext(t, ctx, "check")
	require.ErrorIs(t, err, context.Canceled)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
