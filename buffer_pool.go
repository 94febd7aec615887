package devlink

import (
	"sync"
	"sync/atomic"
)

const (
	// MaxBufferSize is the largest single Receive the connection will serve.
	MaxBufferSize = 64 * 1024 // 64KB

	// DefaultReceiveSize is used by Receive when the caller passes size <= 0.
	DefaultReceiveSize = 1024

	// expectChunkSize is the read size of each Expect poll.
	expectChunkSize = 100
)

// BufferPool manages reusable byte buffers for I/O operations
type BufferPool struct {
	pool sync.Pool
	size int
	// Metrics for monitoring pool efficiency
	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

// NewBufferPool creates a buffer pool with fixed-size buffers
func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{
		size: bufferSize,
	}
	bp.pool = sync.Pool{
		New: func() interface{} {
			bp.creates.Add(1)
			return make([]byte, bufferSize)
		},
	}
	return bp
}

// Get retrieves a buffer from the pool
func (bp *BufferPool) Get() []byte {
	bp.gets.Add(1)
	return bp.pool.Get().([]byte)
}

// Put returns a buffer to the pool (clears it first)
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		return // Don't pool incorrectly sized buffers
	}
	bp.puts.Add(1)

	clear(buf)
	bp.pool.Put(buf)
}

// Stats returns pool usage statistics
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// PoolStats contains buffer pool usage statistics
type PoolStats struct {
	Size    int   // Buffer size managed by this pool
	Gets    int64 // Number of Get() calls
	Puts    int64 // Number of Put() calls
	Creates int64 // Number of new buffers created
}

// HitRatio returns the cache hit ratio (0.0 to 1.0)
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0.0
	}
	return 1.0 - (float64(ps.Creates) / float64(ps.Gets))
}

// BufferPoolManager hands out read buffers from three size classes.
type BufferPoolManager struct {
	smallPool  *BufferPool // 128 bytes, Expect polls
	mediumPool *BufferPool // 1024 bytes, default Receive
	largePool  *BufferPool // 4096 bytes
	metrics    *Metrics
}

// NewBufferPoolManager creates a new buffer pool manager. metrics may be nil.
func NewBufferPoolManager(metrics *Metrics) *BufferPoolManager {
	return &BufferPoolManager{
		smallPool:  NewBufferPool(128),
		mediumPool: NewBufferPool(1024),
		largePool:  NewBufferPool(4096),
		metrics:    metrics,
	}
}

// GetPooledBuffer returns a buffer of len size and a func that releases it.
// Sizes above MaxBufferSize yield a nil buffer.
func (bpm *BufferPoolManager) GetPooledBuffer(size int) ([]byte, func()) {
	recordMiss := func() {
		if bpm.metrics != nil {
			bpm.metrics.BufferPoolMisses.Add(1)
		}
	}
	recordHit := func() {
		if bpm.metrics != nil {
			bpm.metrics.BufferPoolHits.Add(1)
		}
	}

	if size <= 0 {
		recordHit()
		buf := bpm.smallPool.Get()[:1]
		return buf, func() { bpm.smallPool.Put(buf[:cap(buf)]) }
	}
	if size > MaxBufferSize {
		recordMiss()
		return nil, func() {}
	}

	var pool *BufferPool
	switch {
	case size <= 128:
		pool = bpm.smallPool
	case size <= 1024:
		pool = bpm.mediumPool
	case size <= 4096:
		pool = bpm.largePool
	default:
		recordMiss()
		return make([]byte, size), func() {}
	}

	recordHit()
	buf := pool.Get()[:size]
	return buf, func() { pool.Put(buf[:cap(buf)]) }
}

// GetAllPoolStats returns statistics for all pools
func (bpm *BufferPoolManager) GetAllPoolStats() []PoolStats {
	return []PoolStats{
		bpm.smallPool.Stats(),
		bpm.mediumPool.Stats(),
		bpm.largePool.Stats(),
	}
}

// ResetPoolStats resets all pool statistics (useful for testing)
func (bpm *BufferPoolManager) ResetPoolStats() {
	for _, p := range []*BufferPool{bpm.smallPool, bpm.mediumPool, bpm.largePool} {
		p.gets.Store(0)
		p.puts.Store(0)
		p.creates.Store(0)
	}
}
