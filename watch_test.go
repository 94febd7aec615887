package devlink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeEmpty(path string) error {
	return os.WriteFile(path, nil, 0o600)
}

func TestWaitForPortExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyUSB0")
	require.NoError(t, writeEmpty(path))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, WaitForPort(ctx, path))
}

func TestWaitForPortAppears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyUSB0")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = writeEmpty(path)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitForPort(ctx, path))
}

func TestWaitForPortTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyUSB0")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, WaitForPort(ctx, path), context.DeadlineExceeded)
}

func TestWaitForPortMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "ttyUSB0")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, WaitForPort(ctx, path))
}
