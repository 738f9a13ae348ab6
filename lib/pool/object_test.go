package pool

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	canaryLive     = 0x11111111
	canaryReturned = 0xDEADBEEF
)

type testState struct {
	id     int
	canary uint32
	data   []byte
}

// newCanaryPolicy returns a policy that poisons objects on reset so that use
// after return and double returns become visible
func newCanaryPolicy(created, destroyed *atomic.Int64) PolicyFuncs[*testState] {
	return PolicyFuncs[*testState]{
		CreateFunc: func() *testState {
			id := created.Add(1)
			return &testState{id: int(id), canary: canaryReturned}
		},
		ResetFunc: func(s *testState) {
			s.canary = canaryReturned
			s.data = nil
		},
		DestroyFunc: func(s *testState) {
			destroyed.Add(1)
		},
		CanReuseFunc: func(s *testState) bool {
			return len(s.data) <= 16
		},
	}
}

// TestObjectPoolReuse tests that returned objects are reset and reused
func TestObjectPoolReuse(t *testing.T) {
	var created, destroyed atomic.Int64
	p := NewObjectPool[*testState](newCanaryPolicy(&created, &destroyed), 4)

	s := p.Rent()
	require.Equal(t, uint32(canaryReturned), s.canary)
	s.canary = canaryLive
	s.data = []byte("abc")
	p.Return(s)

	// the object is poisoned after return
	assert.Equal(t, uint32(canaryReturned), s.canary)
	assert.Nil(t, s.data)

	again := p.Rent()
	assert.Same(t, s, again)
	assert.Equal(t, int64(1), created.Load())
	p.Return(again)
}

// TestObjectPoolCanReuse tests that objects refused by the policy are destroyed
func TestObjectPoolCanReuse(t *testing.T) {
	var created, destroyed atomic.Int64
	p := NewObjectPool[*testState](newCanaryPolicy(&created, &destroyed), 4)

	s := p.Rent()
	s.data = make([]byte, 1024) // too large to keep
	p.Return(s)

	assert.Equal(t, int64(1), destroyed.Load())
	assert.Equal(t, 0, p.Stats().Idle)

	next := p.Rent()
	assert.NotSame(t, s, next)
}

// TestObjectPoolPreallocateAndDispose tests preallocation and disposal
func TestObjectPoolPreallocateAndDispose(t *testing.T) {
	var created, destroyed atomic.Int64
	p := NewObjectPool[*testState](newCanaryPolicy(&created, &destroyed), 8)

	assert.Equal(t, 8, p.Preallocate(10))
	assert.Equal(t, int64(9), created.Load()) // the ninth did not fit
	assert.Equal(t, int64(1), destroyed.Load())
	assert.Equal(t, 8, p.Stats().Idle)

	held := p.Rent()
	p.Dispose()
	assert.Equal(t, int64(8), destroyed.Load())

	// returns after dispose destroy immediately
	p.Return(held)
	assert.Equal(t, int64(9), destroyed.Load())
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, 0, p.Preallocate(3))
}

// TestObjectPoolNoDoubleRent tests that concurrent renters never share an object
func TestObjectPoolNoDoubleRent(t *testing.T) {
	var created, destroyed atomic.Int64
	p := NewObjectPool[*testState](newCanaryPolicy(&created, &destroyed), 32)
	p.Preallocate(32)

	const workers = 16
	const iterations = 2000
	var violations atomic.Int64

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				s := p.Rent()
				// a rented object must always carry the returned canary
				if s.canary != canaryReturned {
					violations.Add(1)
				}
				s.canary = canaryLive
				p.Return(s)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, violations.Load())
	stats := p.Stats()
	assert.Equal(t, stats.Rented, stats.Returned)
	assert.Equal(t, int64(workers*iterations), stats.Rented)
}
