package devlink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxLineSize = 4096

	// monitorPoll bounds each read so Close is observed promptly.
	monitorPoll = 100 * time.Millisecond
)

// Monitor reads a connected Device in the background and splits its output
// into lines. While a Monitor runs, other reads on the Device compete with it.
type Monitor struct {
	dev   *Device
	delim byte

	lines   chan string
	errs    chan error
	closeCh chan struct{}
	doneCh  chan struct{}

	closeOnce sync.Once
}

// NewMonitor starts reading dev. delim 0 selects '\n'; a trailing '\r' is
// trimmed from each line.
func NewMonitor(dev *Device, delim byte) *Monitor {
	if delim == 0 {
		delim = '\n'
	}
	m := &Monitor{
		dev:     dev,
		delim:   delim,
		lines:   make(chan string, 64),
		errs:    make(chan error, 1),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go m.readerLoop()
	return m
}

// Lines returns the channel of received lines. It is closed when the monitor stops.
func (m *Monitor) Lines() <-chan string {
	return m.lines
}

// Errors returns a channel that carries the error which stopped the loop,
// or a dropped-line notice. It is closed when the monitor stops.
func (m *Monitor) Errors() <-chan error {
	return m.errs
}

// ReadLine waits for the next line.
func (m *Monitor) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-m.lines:
		if !ok {
			return "", ErrClosed
		}
		return line, nil
	}
}

// Close stops the reader loop and waits for it. It does not disconnect the device.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() { close(m.closeCh) })
	<-m.doneCh
	return nil
}

func (m *Monitor) readerLoop() {
	defer close(m.doneCh)
	defer close(m.errs)
	defer close(m.lines)

	var (
		lineBuf []byte
		// discarding skips the rest of an oversized line
		discarding bool
	)
	for {
		select {
		case <-m.closeCh:
			return
		default:
		}

		chunk, err := m.dev.receiveSome(256, monitorPoll)
		if err != nil {
			m.fail(err)
			return
		}

		for len(chunk) > 0 {
			idx := bytes.IndexByte(chunk, m.delim)
			if idx == -1 {
				if !discarding {
					lineBuf = append(lineBuf, chunk...)
					if len(lineBuf) > maxLineSize {
						lineBuf = lineBuf[:0]
						discarding = true
						m.report(fmt.Errorf("%w: over %d bytes", ErrLineTooLong, maxLineSize))
					}
				}
				break
			}

			part := chunk[:idx]
			chunk = chunk[idx+1:]

			if discarding {
				discarding = false
				continue
			}
			if len(lineBuf)+len(part) > maxLineSize {
				lineBuf = lineBuf[:0]
				m.report(fmt.Errorf("%w: over %d bytes", ErrLineTooLong, maxLineSize))
				continue
			}

			lineBuf = append(lineBuf, part...)
			line := string(bytes.TrimSuffix(lineBuf, []byte{'\r'}))
			lineBuf = lineBuf[:0]
			select {
			case m.lines <- line:
			case <-m.closeCh:
				return
			}
		}
	}
}

// report delivers a dropped-line notice without blocking; it is skipped
// while another error is pending.
func (m *Monitor) report(err error) {
	select {
	case m.errs <- err:
	default:
	}
}

// fail delivers the error that stops the loop, replacing a pending notice.
func (m *Monitor) fail(err error) {
	if errors.Is(err, ErrNotConnected) {
		err = ErrClosed
	}
	select {
	case m.errs <- err:
		return
	default:
	}
	select {
	case <-m.errs:
	default:
	}
	select {
	case m.errs <- err:
	case <-m.closeCh:
	}
}
