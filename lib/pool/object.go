package pool

import (
	"sync"
	"sync/atomic"
)

// DefaultMaxRetained is the number of idle objects an ObjectPool keeps if none is configured
const DefaultMaxRetained = 1024

// Policy controls the life cycle of the objects in an ObjectPool
type Policy[T any] interface {
	// Create allocates a new object, it is called by Rent when the pool is empty
	Create() T
	// Reset clears an object before it is retained for the next Rent
	Reset(obj T)
	// Destroy releases an object that will not be retained
	Destroy(obj T)
	// CanReuse reports whether a returned object may be retained
	CanReuse(obj T) bool
}

// PolicyFuncs implements Policy with optional functions.
// A nil CreateFunc returns the zero value, a nil CanReuseFunc always allows reuse.
type PolicyFuncs[T any] struct {
	CreateFunc   func() T
	ResetFunc    func(T)
	DestroyFunc  func(T)
	CanReuseFunc func(T) bool
}

func (f PolicyFuncs[T]) Create() T {
	if f.CreateFunc == nil {
		var zero T
		return zero
	}
	return f.CreateFunc()
}

func (f PolicyFuncs[T]) Reset(obj T) {
	if f.ResetFunc != nil {
		f.ResetFunc(obj)
	}
}

func (f PolicyFuncs[T]) Destroy(obj T) {
	if f.DestroyFunc != nil {
		f.DestroyFunc(obj)
	}
}

func (f PolicyFuncs[T]) CanReuse(obj T) bool {
	if f.CanReuseFunc == nil {
		return true
	}
	return f.CanReuseFunc(obj)
}

// ObjectStats is a snapshot of the counters of an ObjectPool
type ObjectStats struct {
	Rented    int64
	Returned  int64
	Created   int64
	Destroyed int64
	Idle      int
}

// ObjectPool is a bounded pool of reusable objects
type ObjectPool[T any] struct {
	policy Policy[T]
	items  chan T

	// mu guards disposed against concurrent Return calls
	mu       sync.RWMutex
	disposed bool

	rented    atomic.Int64
	returned  atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64
}

// NewObjectPool creates an object pool that retains at most maxRetained idle objects
func NewObjectPool[T any](policy Policy[T], maxRetained int) *ObjectPool[T] {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &ObjectPool[T]{
		policy: policy,
		items:  make(chan T, maxRetained),
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Preallocate creates up to n objects and retains them.
// Returns the number of objects actually added.
func (p *ObjectPool[T]) Preallocate(n int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.disposed {
		return 0
	}

	added := 0
	for i := 0; i < n; i++ {
		obj := p.policy.Create()
		p.created.Add(1)
		select {
		case p.items <- obj:
			added++
		default:
			p.destroy(obj)
			return added
		}
	}
	return added
}

// Rent returns an idle object or creates a new one
//
// Thread-safe: This method is safe for concurrent use
func (p *ObjectPool[T]) Rent() T {
	p.rented.Add(1)
	select {
	case obj := <-p.items:
		return obj
	default:
		p.created.Add(1)
		return p.policy.Create()
	}
}

// Return hands an object back. If the policy refuses reuse, the pool is full
// or disposed, the object is destroyed; otherwise it is reset and retained.
//
// Thread-safe: This method is safe for concurrent use
func (p *ObjectPool[T]) Return(obj T) {
	p.returned.Add(1)

	if !p.policy.CanReuse(obj) {
		p.destroy(obj)
		return
	}
	p.policy.Reset(obj)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.disposed {
		p.destroy(obj)
		return
	}
	select {
	case p.items <- obj:
	default:
		p.destroy(obj)
	}
}

// Dispose destroys all idle objects. Objects returned afterwards are destroyed
// immediately. Rent keeps working but creates fresh objects.
func (p *ObjectPool[T]) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.disposed = true

	for {
		select {
		case obj := <-p.items:
			p.destroy(obj)
		default:
			return
		}
	}
}

// Stats returns a snapshot of the pool counters
func (p *ObjectPool[T]) Stats() ObjectStats {
	return ObjectStats{
		Rented:    p.rented.Load(),
		Returned:  p.returned.Load(),
		Created:   p.created.Load(),
		Destroyed: p.destroyed.Load(),
		Idle:      len(p.items),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (p *ObjectPool[T]) destroy(obj T) {
	p.destroyed.Add(1)
	p.policy.Destroy(obj)
}
