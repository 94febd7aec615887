package devlink

import (
	"errors"
	"io"
	"sync"
	"time"

	gobug "go.bug.st/serial"
)

var errMockClosed = errors.New("mock: port closed")

// mockPort simulates a serial port: bytes pushed to readCh are delivered
// by Read, honouring the read timeout the way go.bug.st/serial does.
type mockPort struct {
	readCh  chan []byte
	closeCh chan struct{}

	mu       sync.Mutex
	pending  []byte
	timeout  time.Duration
	timeouts []time.Duration
	writes   [][]byte
	closed   bool
	resets   int

	// errToReturn, if non-nil, will be returned on the next Read call.
	errToReturn error
	// writeErr, if non-nil, is returned by every Write.
	writeErr error
	// zeroWrites makes Write report success without consuming bytes.
	zeroWrites bool
	// timeoutErr, if non-nil, is returned by SetReadTimeout.
	timeoutErr error
}

func newMockPort() *mockPort {
	return &mockPort{
		readCh:  make(chan []byte, 64),
		closeCh: make(chan struct{}),
		timeout: gobug.NoTimeout,
	}
}

// feed queues chunks for Read.
func (m *mockPort) feed(chunks ...string) {
	for _, c := range chunks {
		m.readCh <- []byte(c)
	}
}

func (m *mockPort) deliver(p, b []byte) int {
	n := copy(p, b)
	if n < len(b) {
		m.mu.Lock()
		m.pending = append(m.pending, b[n:]...)
		m.mu.Unlock()
	}
	return n
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.errToReturn != nil {
		err := m.errToReturn
		m.errToReturn = nil
		m.mu.Unlock()
		return 0, err
	}
	if len(m.pending) > 0 {
		n := copy(p, m.pending)
		m.pending = m.pending[n:]
		m.mu.Unlock()
		return n, nil
	}
	timeout := m.timeout
	m.mu.Unlock()

	if timeout == 0 {
		select {
		case b := <-m.readCh:
			return m.deliver(p, b), nil
		default:
			return 0, nil
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case b := <-m.readCh:
		return m.deliver(p, b), nil
	case <-expired:
		return 0, nil
	case <-m.closeCh:
		return 0, errMockClosed
	}
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.zeroWrites {
		return 0, nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	m.writes = append(m.writes, cp)
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.closeCh)
		m.closed = true
	}
	return nil
}

func (m *mockPort) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timeoutErr != nil {
		return m.timeoutErr
	}
	m.timeout = d
	m.timeouts = append(m.timeouts, d)
	return nil
}

func (m *mockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.pending = nil
	for {
		select {
		case <-m.readCh:
		default:
			return nil
		}
	}
}

func (m *mockPort) written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []byte
	for _, w := range m.writes {
		all = append(all, w...)
	}
	return all
}

func (m *mockPort) lastTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timeouts) == 0 {
		return 0
	}
	return m.timeouts[len(m.timeouts)-1]
}

func (m *mockPort) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ io.ReadWriteCloser = (*mockPort)(nil)

// mockOpener records the mode it was asked for and hands out port.
type mockOpener struct {
	port  *mockPort
	err   error
	calls int
	name  string
	mode  *gobug.Mode
}

func (o *mockOpener) open(name string, mode *gobug.Mode) (SerialPort, error) {
	o.calls++
	o.name = name
	o.mode = mode
	if o.err != nil {
		return nil, o.err
	}
	return o.port, nil
}
