package devlink

import (
	"sync/atomic"
	"time"
)

// Metrics tracks per-device link statistics
type Metrics struct {
	// Connection Statistics
	ConnectionAttempts  atomic.Int64 // Total connection attempts
	SuccessfulConnects  atomic.Int64 // Successful connections
	ConnectionFailures  atomic.Int64 // Failed connections
	Disconnections      atomic.Int64 // Total disconnects
	LastConnectTime     atomic.Int64 // Unix timestamp of last connect
	ConnectionStartTime atomic.Int64 // When current connection started (ns)

	// Read Operations
	ReadOperations atomic.Int64 // Total read attempts
	EmptyReads     atomic.Int64 // Reads that timed out without data
	ReadErrors     atomic.Int64 // Failed reads
	BytesRead      atomic.Int64 // Total bytes read

	// Write Operations
	WriteOperations atomic.Int64 // Total write attempts
	WriteErrors     atomic.Int64 // Failed writes
	BytesWritten    atomic.Int64 // Total bytes written

	// Expect / framing
	ExpectCalls    atomic.Int64 // Expect invocations
	ExpectMatches  atomic.Int64 // Expect calls that found their text
	FramesReceived atomic.Int64 // Framed payloads decoded
	FramesDropped  atomic.Int64 // Frames abandoned on overflow

	// Buffer Pool Metrics
	BufferPoolHits   atomic.Int64 // Buffer pool cache hits
	BufferPoolMisses atomic.Int64 // Buffer pool cache misses

	// Health Indicators
	ConsecutiveFailures atomic.Int64 // Consecutive operation failures
	LastErrorTime       atomic.Int64 // Timestamp of last error
}

// HealthStatus represents the overall health of the link
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time copy of Metrics with derived rates.
type MetricsSnapshot struct {
	Timestamp   time.Time
	IsConnected bool

	ConnectionSuccess float64 // percent
	ExpectMatchRate   float64 // percent
	EmptyReadRate     float64 // percent
	ErrorRate         float64 // percent of read+write operations
	UptimeSeconds     float64

	TotalReads        int64
	TotalWrites       int64
	TotalBytesRead    int64
	TotalBytesWritten int64
	TotalErrors       int64
	FramesReceived    int64
	FramesDropped     int64

	ConsecutiveFailures int64
	BufferPoolHitRatio  float64

	HealthStatus HealthStatus
}

// Snapshot derives a MetricsSnapshot. connected reports the link state.
func (m *Metrics) Snapshot(connected bool) MetricsSnapshot {
	s := MetricsSnapshot{
		Timestamp:   time.Now(),
		IsConnected: connected,
	}

	s.ConnectionSuccess = percent(m.SuccessfulConnects.Load(), m.ConnectionAttempts.Load(), 100)
	s.ExpectMatchRate = percent(m.ExpectMatches.Load(), m.ExpectCalls.Load(), 100)
	s.EmptyReadRate = percent(m.EmptyReads.Load(), m.ReadOperations.Load(), 0)

	s.TotalReads = m.ReadOperations.Load()
	s.TotalWrites = m.WriteOperations.Load()
	s.TotalBytesRead = m.BytesRead.Load()
	s.TotalBytesWritten = m.BytesWritten.Load()
	s.TotalErrors = m.ReadErrors.Load() + m.WriteErrors.Load()
	s.ErrorRate = percent(s.TotalErrors, s.TotalReads+s.TotalWrites, 0)
	s.FramesReceived = m.FramesReceived.Load()
	s.FramesDropped = m.FramesDropped.Load()
	s.ConsecutiveFailures = m.ConsecutiveFailures.Load()
	s.BufferPoolHitRatio = percent(m.BufferPoolHits.Load(), m.BufferPoolHits.Load()+m.BufferPoolMisses.Load(), 100)

	if start := m.ConnectionStartTime.Load(); connected && start > 0 {
		if d := time.Now().UnixNano() - start; d > 0 {
			s.UptimeSeconds = float64(d) / float64(time.Second)
		}
	}

	s.HealthStatus = assessHealthStatus(&s)
	return s
}

func percent(part, total int64, empty float64) float64 {
	if total == 0 {
		return empty
	}
	return float64(part) / float64(total) * 100
}

func assessHealthStatus(s *MetricsSnapshot) HealthStatus {
	if !s.IsConnected {
		return HealthStatusDown
	}

	// Check for critical issues
	if s.ErrorRate > 50.0 || s.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}

	// Check for degradation
	if s.ErrorRate > 10.0 || s.ConsecutiveFailures > 3 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

func (m *Metrics) recordWrite(n int, err error) {
	m.WriteOperations.Add(1)
	if err != nil {
		m.WriteErrors.Add(1)
		m.recordFailure()
		return
	}
	m.BytesWritten.Add(int64(n))
	m.ConsecutiveFailures.Store(0)
}

func (m *Metrics) recordRead(n int, err error) {
	m.ReadOperations.Add(1)
	if err != nil {
		m.ReadErrors.Add(1)
		m.recordFailure()
		return
	}
	if n == 0 {
		m.EmptyReads.Add(1)
	}
	m.BytesRead.Add(int64(n))
	m.ConsecutiveFailures.Store(0)
}

func (m *Metrics) recordFailure() {
	m.ConsecutiveFailures.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}
