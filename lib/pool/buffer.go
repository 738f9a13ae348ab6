package pool

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"math/bits"
)

var Logger = logger.GetLogger("pool")

const (
	// MinBucketSize is the smallest size class handed out by a BufferPool
	MinBucketSize = 64
	// DefaultBucketSize is the largest pooled size class if none is configured
	DefaultBucketSize = 64 * 1024
	// DefaultBuffersPerBucket is the retention limit per size class if none is configured
	DefaultBuffersPerBucket = 256
)

// BufferStats is a snapshot of the counters of a BufferPool
type BufferStats struct {
	Rented    uint64 // successful calls to Rent
	Returned  uint64 // calls to Return
	Allocated uint64 // buffers that had to be allocated
	Oversized uint64 // rents above the bucket size
	Foreign   uint64 // returned buffers that match no size class
}

// Outstanding returns the number of rented buffers that have not been returned yet
func (s BufferStats) Outstanding() int64 {
	return int64(s.Rented) - int64(s.Returned)
}

// BufferPool is a size-class buffer pool. See the package documentation for details.
type BufferPool struct {
	name             string
	bucketSize       int
	buffersPerBucket int
	buckets          []chan []byte
	oversizedPool    chan []byte

	set       *metrics.Set
	rented    *metrics.Counter
	returned  *metrics.Counter
	allocated *metrics.Counter
	oversized *metrics.Counter
	foreign   *metrics.Counter
}

// NewBufferPool creates a buffer pool. bucketSize is rounded up to the next
// power of two; values <= 0 select the defaults. set may be nil, in which case
// the pool uses a private metrics set.
func NewBufferPool(name string, bucketSize, buffersPerBucket int, set *metrics.Set) *BufferPool {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	if buffersPerBucket <= 0 {
		buffersPerBucket = DefaultBuffersPerBucket
	}
	if set == nil {
		set = metrics.NewSet()
	}
	bucketSize = classSize(bucketSize)

	p := &BufferPool{
		name:             name,
		bucketSize:       bucketSize,
		buffersPerBucket: buffersPerBucket,
		buckets:          make([]chan []byte, classIndex(bucketSize)+1),
		// the oversized pool is intentionally small, it only smooths out repeated large rents
		oversizedPool: make(chan []byte, max(1, buffersPerBucket/8)),
		set:           set,
		rented:        set.GetOrCreateCounter(fmt.Sprintf(`rawnet_pool_buffers_rented_total{pool=%q}`, name)),
		returned:      set.GetOrCreateCounter(fmt.Sprintf(`rawnet_pool_buffers_returned_total{pool=%q}`, name)),
		allocated:     set.GetOrCreateCounter(fmt.Sprintf(`rawnet_pool_buffers_allocated_total{pool=%q}`, name)),
		oversized:     set.GetOrCreateCounter(fmt.Sprintf(`rawnet_pool_buffers_oversized_total{pool=%q}`, name)),
		foreign:       set.GetOrCreateCounter(fmt.Sprintf(`rawnet_pool_buffers_foreign_total{pool=%q}`, name)),
	}
	for i := range p.buckets {
		p.buckets[i] = make(chan []byte, buffersPerBucket)
	}
	return p
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Rent returns a buffer with len >= minSize. The contents are undefined.
//
// Thread-safe: This method is safe for concurrent use
func (p *BufferPool) Rent(minSize int) []byte {
	if minSize < 0 {
		minSize = 0
	}
	p.rented.Inc()

	// Case oversized: try the ad-hoc pool, otherwise allocate the exact size
	if minSize > p.bucketSize {
		p.oversized.Inc()
		select {
		case buf := <-p.oversizedPool:
			if cap(buf) >= minSize {
				return buf[:cap(buf)]
			}
			// too small for this request, let the GC take it
		default:
		}
		p.allocated.Inc()
		return make([]byte, minSize)
	}

	size := classSize(minSize)
	select {
	case buf := <-p.buckets[classIndex(size)]:
		return buf[:size]
	default:
		p.allocated.Inc()
		return make([]byte, size)
	}
}

// Return hands a buffer back to the pool. If clear is set, the full capacity
// of the buffer is zeroed before it becomes visible to other renters.
// Buffers that do not belong to any size class are dropped.
//
// Thread-safe: This method is safe for concurrent use
func (p *BufferPool) Return(buf []byte, clear bool) {
	p.returned.Inc()

	c := cap(buf)
	if c == 0 {
		return
	}
	buf = buf[:c]
	if clear {
		zero(buf)
	}

	// Case oversized
	if c > p.bucketSize {
		select {
		case p.oversizedPool <- buf:
		default:
		}
		return
	}

	// Case foreign size: drop
	if c < MinBucketSize || c&(c-1) != 0 {
		p.foreign.Inc()
		Logger.Warningf("%s: dropping returned buffer of capacity %d, it was not rented from this pool", p.name, c)
		return
	}

	select {
	case p.buckets[classIndex(c)] <- buf:
	default:
		// bucket full
	}
}

// Stats returns a snapshot of the pool counters
func (p *BufferPool) Stats() BufferStats {
	return BufferStats{
		Rented:    p.rented.Get(),
		Returned:  p.returned.Get(),
		Allocated: p.allocated.Get(),
		Oversized: p.oversized.Get(),
		Foreign:   p.foreign.Get(),
	}
}

// BucketSize returns the largest pooled size class
func (p *BufferPool) BucketSize() int {
	return p.bucketSize
}

// Name returns the name used in the metric labels
func (p *BufferPool) Name() string {
	return p.name
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// classSize rounds n up to the next size class
func classSize(n int) int {
	if n <= MinBucketSize {
		return MinBucketSize
	}
	return 1 << bits.Len(uint(n-1))
}

// classIndex returns the bucket index of a size class
func classIndex(size int) int {
	return bits.Len(uint(size)) - bits.Len(uint(MinBucketSize))
}

// zero overwrites the buffer with zeros
func zero(buf []byte) {
	clear(buf)
}
