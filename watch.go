package devlink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForPort blocks until path exists or ctx is done. Boards that reset
// after flashing re-enumerate, so the device node may briefly disappear.
func WaitForPort(ctx context.Context, path string) error {
	if portExists(path) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err = watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	// The node may have appeared between the first check and Add.
	if portExists(path) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return ErrClosed
			}
			if ev.Has(fsnotify.Create) && portExists(path) {
				return nil
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return ErrClosed
			}
			if werr != nil {
				return fmt.Errorf("watching %s: %w", path, werr)
			}
		}
	}
}

func portExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
