package devlink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// maxZeroWrites bounds consecutive writes that make no progress.
const maxZeroWrites = 3

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger used for connection events and received data.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// WithOpener replaces the function used to open the serial port.
func WithOpener(o Opener) Option {
	return func(d *Device) {
		if o != nil {
			d.open = o
		}
	}
}

// Device is a connection to one board over a serial link.
//
// Reads and writes may run concurrently with each other; concurrent reads
// are serialized, as are concurrent writes. Connect and Disconnect wait for
// in-flight I/O to finish.
type Device struct {
	cfg  Config
	log  zerolog.Logger
	open Opener

	mu      sync.RWMutex // guards handle
	handle  SerialPort
	isOpen  atomic.Bool
	readMu  sync.Mutex
	writeMu sync.Mutex

	// decoder and pending are guarded by readMu
	decoder *Decoder
	pending [][]byte

	metrics *Metrics
	pools   *BufferPoolManager
}

// NewDevice returns an unconnected Device. Zero fields of cfg take defaults.
func NewDevice(cfg Config, opts ...Option) *Device {
	d := &Device{
		cfg:     withDefaults(cfg),
		log:     zerolog.Nop(),
		open:    openBugst,
		decoder: NewDecoder(MaxFramePayload),
		metrics: &Metrics{},
	}
	d.pools = NewBufferPoolManager(d.metrics)
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With().Str("port", d.cfg.PortName).Logger()
	return d
}

// Port returns the port path the device connects to.
func (d *Device) Port() string {
	return d.cfg.PortName
}

// Config returns the effective configuration, defaults applied.
func (d *Device) Config() Config {
	return d.cfg
}

// IsConnected reports whether the port is open.
func (d *Device) IsConnected() bool {
	return d.isOpen.Load()
}

// Connect opens the port. It is a no-op when the device is already connected.
func (d *Device) Connect() (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != nil {
		return nil
	}

	d.metrics.ConnectionAttempts.Add(1)
	defer func() {
		if err != nil {
			d.metrics.ConnectionFailures.Add(1)
			d.metrics.recordFailure()
			d.log.Error().Err(err).Msg("connect failed")
		}
	}()

	if err = ValidateConfig(d.cfg); err != nil {
		return fmt.Errorf("invalid serial port configuration: %w", err)
	}

	if d.cfg.VerifyPort {
		ok, listErr := isPortAvailable(d.cfg.PortName)
		if listErr != nil {
			return fmt.Errorf("listing ports: %w", listErr)
		}
		if !ok {
			return fmt.Errorf("%w: %s is not present", ErrInvalidPortName, d.cfg.PortName)
		}
	}

	h, err := d.open(d.cfg.PortName, d.cfg.mode())
	if err != nil {
		return fmt.Errorf("opening %s: %w", d.cfg.PortName, err)
	}
	if err = h.SetReadTimeout(d.cfg.ReadTimeout); err != nil {
		return handleOpenError(h, err)
	}

	d.handle = h
	d.isOpen.Store(true)
	d.decoder.Reset()
	d.pending = nil

	now := time.Now()
	d.metrics.SuccessfulConnects.Add(1)
	d.metrics.LastConnectTime.Store(now.Unix())
	d.metrics.ConnectionStartTime.Store(now.UnixNano())
	d.metrics.ConsecutiveFailures.Store(0)

	d.log.Info().Int("baud", d.cfg.BaudRate.Int()).Msg("connected")
	return nil
}

// handleOpenError closes h and joins any error from closing with the original error
func handleOpenError(h SerialPort, err error) error {
	if e := h.Close(); e != nil {
		err = errors.Join(err, e)
	}
	return err
}

// Disconnect closes the port. Calling it on a closed device is a no-op.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.handle
	if h == nil {
		return nil
	}
	d.handle = nil
	d.isOpen.Store(false)
	d.metrics.Disconnections.Add(1)
	d.metrics.ConnectionStartTime.Store(0)

	if err := h.Close(); err != nil {
		d.log.Warn().Err(err).Msg("close failed")
		return fmt.Errorf("closing %s: %w", d.cfg.PortName, err)
	}
	d.log.Info().Msg("disconnected")
	return nil
}

// Send writes data to the device and returns the number of bytes written.
// A configured WriteTimeout bounds the whole call.
func (d *Device) Send(data []byte) (int, error) {
	ctx := context.Background()
	if d.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.WriteTimeout)
		defer cancel()
	}
	return d.SendContext(ctx, data)
}

// SendString writes the UTF-8 encoding of s.
func (d *Device) SendString(s string) (int, error) {
	return d.Send([]byte(s))
}

// SendFrame writes payload wrapped in the framing markers.
func (d *Device) SendFrame(payload []byte) (int, error) {
	return d.Send(FormatMessage(payload))
}

// SendContext writes data, checking ctx between partial writes.
func (d *Device) SendContext(ctx context.Context, data []byte) (written int, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h := d.handle
	if h == nil {
		return 0, ErrNotConnected
	}
	if len(data) == 0 {
		return 0, nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	defer func() {
		d.metrics.recordWrite(written, err)
		if err != nil {
			d.log.Error().Err(err).Int("written", written).Msg("send failed")
		} else {
			d.log.Debug().Bytes("data", data).Msg("sent")
		}
	}()

	zeroWrites := 0
	for written < len(data) {
		if err = ctx.Err(); err != nil {
			return written, err
		}
		n, werr := h.Write(data[written:])
		if werr != nil {
			return written, fmt.Errorf("writing %s: %w", d.cfg.PortName, werr)
		}
		written += n
		if n > 0 {
			zeroWrites = 0
			continue
		}
		if zeroWrites++; zeroWrites >= maxZeroWrites {
			return written, errors.New("partial write: not all bytes written")
		}
	}
	return written, nil
}

// Receive reads up to size bytes (DefaultReceiveSize when size <= 0) within
// the configured read timeout. It returns early once size bytes arrived and
// returns whatever was read, possibly nothing, when the timeout expires.
func (d *Device) Receive(size int) ([]byte, error) {
	return d.ReceiveTimeout(size, d.cfg.ReadTimeout)
}

// ReceiveTimeout is Receive with a one-off timeout. The configured read
// timeout is restored before it returns.
func (d *Device) ReceiveTimeout(size int, timeout time.Duration) ([]byte, error) {
	if size <= 0 {
		size = DefaultReceiveSize
	}
	if size > MaxBufferSize {
		return nil, ErrBufferTooLarge
	}

	h, unlock, err := d.acquireRead()
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer d.restoreReadTimeout(h)

	return d.readUpTo(h, size, timeout, true)
}

// Expect polls the device until expected appears in the received data or
// timeout elapses (ExpectTimeout when timeout <= 0). Every received chunk
// is logged at debug level.
func (d *Device) Expect(expected []byte, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = d.cfg.ExpectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.ExpectContext(ctx, expected)
}

// ExpectString is Expect for a UTF-8 string.
func (d *Device) ExpectString(expected string, timeout time.Duration) (bool, error) {
	return d.Expect([]byte(expected), timeout)
}

// ExpectContext polls until expected is seen or ctx is done. Reaching the
// ctx deadline reports false with a nil error; cancellation returns ctx.Err().
func (d *Device) ExpectContext(ctx context.Context, expected []byte) (bool, error) {
	h, unlock, err := d.acquireRead()
	if err != nil {
		return false, err
	}
	defer unlock()
	defer d.restoreReadTimeout(h)

	d.metrics.ExpectCalls.Add(1)
	if len(expected) == 0 {
		d.metrics.ExpectMatches.Add(1)
		return true, nil
	}

	var buffer []byte
	for {
		if done, err := expectDone(ctx); done {
			return false, err
		}

		chunk, err := d.readUpTo(h, expectChunkSize, d.pollTimeout(ctx), true)
		if err != nil {
			return false, err
		}
		if len(chunk) > 0 {
			d.log.Debug().Bytes("chunk", chunk).Msg("received")
			buffer = append(buffer, chunk...)
			if bytes.Contains(buffer, expected) {
				d.metrics.ExpectMatches.Add(1)
				return true, nil
			}
		}

		timer := time.NewTimer(d.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			_, err := expectDone(ctx)
			return false, err
		case <-timer.C:
		}
	}
}

func expectDone(ctx context.Context) (bool, error) {
	err := ctx.Err()
	if err == nil {
		return false, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, nil
	}
	return true, err
}

// pollTimeout is the read timeout for one Expect poll, capped by ctx's
// deadline. NoTimeout devices poll with DefaultReadTimeout.
func (d *Device) pollTimeout(ctx context.Context) time.Duration {
	t := d.cfg.ReadTimeout
	if t == NoTimeout {
		t = DefaultReadTimeout
	}
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl)
		if remaining < 0 {
			remaining = 0
		}
		if remaining < t {
			t = remaining
		}
	}
	return t
}

// ReceiveFrame reads until a complete framed payload arrives or timeout
// elapses (the configured read timeout when timeout is zero).
func (d *Device) ReceiveFrame(timeout time.Duration) ([]byte, error) {
	if timeout == 0 {
		timeout = d.cfg.ReadTimeout
	}

	h, unlock, err := d.acquireRead()
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer d.restoreReadTimeout(h)

	var deadline time.Time
	if timeout != NoTimeout {
		deadline = time.Now().Add(timeout)
	}

	for {
		if len(d.pending) > 0 {
			frame := d.pending[0]
			d.pending = d.pending[1:]
			return frame, nil
		}

		wait := NoTimeout
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return nil, ErrFrameTimeout
			}
		}

		chunk, err := d.readUpTo(h, expectChunkSize, wait, false)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			continue
		}

		dropped := d.decoder.Dropped()
		frames := d.decoder.Feed(chunk)
		if n := d.decoder.Dropped() - dropped; n > 0 {
			d.metrics.FramesDropped.Add(int64(n))
			d.log.Warn().Int("dropped", n).Msg("frame exceeded payload limit")
		}
		d.metrics.FramesReceived.Add(int64(len(frames)))
		d.pending = append(d.pending, frames...)
	}
}

// receiveSome returns the bytes available within timeout, at most size,
// without waiting to fill size.
func (d *Device) receiveSome(size int, timeout time.Duration) ([]byte, error) {
	h, unlock, err := d.acquireRead()
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer d.restoreReadTimeout(h)

	return d.readUpTo(h, size, timeout, false)
}

// Flush discards any unread input and partial frames.
func (d *Device) Flush() error {
	h, unlock, err := d.acquireRead()
	if err != nil {
		return err
	}
	defer unlock()

	d.decoder.Reset()
	d.pending = nil
	return h.ResetInputBuffer()
}

// Metrics returns the live counters for this device.
func (d *Device) Metrics() *Metrics {
	return d.metrics
}

// MetricsSnapshot returns a derived view of the counters.
func (d *Device) MetricsSnapshot() MetricsSnapshot {
	return d.metrics.Snapshot(d.IsConnected())
}

// BufferPoolStats returns read buffer pool statistics.
func (d *Device) BufferPoolStats() []PoolStats {
	return d.pools.GetAllPoolStats()
}

// acquireRead returns the open handle with the read lock held.
func (d *Device) acquireRead() (SerialPort, func(), error) {
	d.mu.RLock()
	if d.handle == nil {
		d.mu.RUnlock()
		return nil, nil, ErrNotConnected
	}
	d.readMu.Lock()
	return d.handle, func() {
		d.readMu.Unlock()
		d.mu.RUnlock()
	}, nil
}

func (d *Device) restoreReadTimeout(h SerialPort) {
	if err := h.SetReadTimeout(d.cfg.ReadTimeout); err != nil {
		d.log.Warn().Err(err).Msg("restoring read timeout")
	}
}

// readUpTo reads until size bytes arrived or timeout elapsed; without fill
// it returns after the first read that yields data. NoTimeout blocks.
// A zero timeout performs one non-blocking read. The caller holds readMu.
func (d *Device) readUpTo(h SerialPort, size int, timeout time.Duration, fill bool) ([]byte, error) {
	buf, release := d.pools.GetPooledBuffer(size)
	if buf == nil {
		return nil, ErrBufferTooLarge
	}
	defer release()

	blocking := timeout == NoTimeout
	deadline := time.Now().Add(timeout)

	got := 0
	var err error
	for attempt := 0; got < size; attempt++ {
		wait := NoTimeout
		if !blocking {
			wait = time.Until(deadline)
			if wait <= 0 {
				if attempt > 0 {
					break
				}
				wait = 0
			}
		}
		if err = h.SetReadTimeout(wait); err != nil {
			err = fmt.Errorf("setting read timeout on %s: %w", d.cfg.PortName, err)
			break
		}

		n, rerr := h.Read(buf[got:])
		d.metrics.recordRead(n, rerr)
		if n > 0 {
			got += n
		}
		if rerr != nil {
			err = fmt.Errorf("reading %s: %w", d.cfg.PortName, rerr)
			break
		}
		if n == 0 || !fill {
			break
		}
	}

	out := make([]byte, got)
	copy(out, buf[:got])
	return out, err
}
