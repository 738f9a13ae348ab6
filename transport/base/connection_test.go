package base

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/rawnet/lib/pool"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testOp struct {
	canary Canary
	value  int
}

func (o *testOp) Canary() *Canary { return &o.canary }

func newTestConnection(t *testing.T) *Connection[*testOp] {
	t.Helper()
	socket, err := NewSocket("udp", common.DefaultConfig("udp").Socket)
	require.NoError(t, err)

	conf := common.DefaultConfig("udp").Pool
	conf.PreallocatedStates = 2
	c := NewConnection[*testOp](socket, Options[*testOp]{
		Name: t.Name(),
		Pool: conf,
		Policy: pool.PolicyFuncs[*testOp]{
			CreateFunc: func() *testOp { return &testOp{} },
			ResetFunc:  func(o *testOp) { o.value = 0 },
		},
	})
	t.Cleanup(func() { c.Close() })
	return c
}

// TestConnectionLifecycle tests the state transitions
func TestConnectionLifecycle(t *testing.T) {
	c := newTestConnection(t)
	assert.Equal(t, StateCreated, c.State())

	err := c.Start(1, nil, func(int) {})
	assert.ErrorIs(t, err, common.ErrNotBound)

	require.NoError(t, c.Bind("127.0.0.1:0"))
	assert.Equal(t, StateBound, c.State())
	assert.NotNil(t, c.Socket().LocalAddr())

	var entries atomic.Int32
	var setupDone atomic.Bool
	err = c.Start(3, func() error {
		setupDone.Store(true)
		return nil
	}, func(int) {
		assert.True(t, setupDone.Load(), "setup must run before the entry points")
		entries.Add(1)
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return entries.Load() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, StateStarted, c.State())

	assert.ErrorIs(t, c.Start(1, nil, func(int) {}), common.ErrAlreadyStarted)

	c.Shutdown()
	assert.Equal(t, StateShuttingDown, c.State())
	assert.Error(t, c.Context().Err())

	_, ok := c.BeginOperation()
	assert.False(t, ok, "no operation is admitted after shutdown")
	assert.False(t, c.Spawn(func() {}))

	require.NoError(t, c.Close())
	assert.Equal(t, StateDisposed, c.State())
	assert.NoError(t, c.Close(), "close is idempotent")
}

// TestStartRetryAfterSetupError tests that a failed setup does not leave the connection started
func TestStartRetryAfterSetupError(t *testing.T) {
	c := newTestConnection(t)
	require.NoError(t, c.Bind("127.0.0.1:0"))

	setupErr := errors.New("listen failed")
	err := c.Start(1, func() error { return setupErr }, func(int) {
		t.Error("entry must not run after a failed setup")
	})
	assert.ErrorIs(t, err, setupErr)
	assert.Equal(t, StateBound, c.State())

	var entries atomic.Int32
	require.NoError(t, c.Start(2, func() error { return nil }, func(int) { entries.Add(1) }))
	require.Eventually(t, func() bool { return entries.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, StateStarted, c.State())
}

// TestCloseDrainsActiveOperations tests that Close blocks until every operation ended
func TestCloseDrainsActiveOperations(t *testing.T) {
	c := newTestConnection(t)
	require.NoError(t, c.Bind("127.0.0.1:0"))

	const k = 8
	ops := make([]*testOp, 0, k)
	for range k {
		op, ok := c.BeginOperation()
		require.True(t, ok)
		ops = append(ops, op)
	}
	assert.EqualValues(t, k, c.ActiveOperations())

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	// operations are already admitted, shutdown must wait for them
	for i, op := range ops {
		select {
		case <-closed:
			t.Fatalf("Close returned with %d operations still active", k-i)
		case <-time.After(10 * time.Millisecond):
		}
		c.EndOperation(op)
	}

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after all operations ended")
	}

	assert.EqualValues(t, 0, c.ActiveOperations())
	stats := c.StateStats()
	assert.Equal(t, stats.Rented, stats.Returned)
}

// TestDoubleReturnIsDetected tests the state canary
func TestDoubleReturnIsDetected(t *testing.T) {
	c := newTestConnection(t)

	op, ok := c.BeginOperation()
	require.True(t, ok)
	assert.True(t, op.Canary().Rented())

	c.EndOperation(op)
	assert.False(t, op.Canary().Rented())
	c.EndOperation(op)

	assert.EqualValues(t, 1, c.DoubleReturns())
	assert.EqualValues(t, 0, c.ActiveOperations(), "a double return must not decrement the barrier twice")

	var out bytes.Buffer
	c.WritePrometheus(&out)
	assert.Contains(t, out.String(), "rawnet_state_double_returns_total")
}

// TestConcurrentOperations tests the barrier under concurrent begin/end
func TestConcurrentOperations(t *testing.T) {
	c := newTestConnection(t)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				op, ok := c.BeginOperation()
				if !ok {
					return
				}
				op.value = i
				buf := c.RentBuffer(512)
				buf[0] = byte(i)
				c.ReturnBuffer(buf)
				c.EndOperation(op)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 0, c.ActiveOperations())
	assert.EqualValues(t, 0, c.DoubleReturns())
	assert.EqualValues(t, 0, c.BufferStats().Outstanding())
}

// TestReturnBufferClears tests that returned buffers never carry old data
func TestReturnBufferClears(t *testing.T) {
	c := newTestConnection(t)

	buf := c.RentBuffer(64)
	copy(buf, "PING-0001")
	c.ReturnBuffer(buf)

	again := c.RentBuffer(64)
	assert.Same(t, &buf[0], &again[0])
	assert.Equal(t, make([]byte, len(again)), again)
	c.ReturnBuffer(again)

	c.ReturnBuffer(nil)
	assert.EqualValues(t, 0, c.BufferStats().Outstanding())
}

// TestCloseAbortsLiveConnections tests that tracked stream connections are closed on Close
func TestCloseAbortsLiveConnections(t *testing.T) {
	c := newTestConnection(t)

	local, remote := net.Pipe()
	defer remote.Close()

	id, ok := c.RegisterLive(local)
	require.True(t, ok)
	assert.Equal(t, 1, c.LiveConnections())

	op, ok := c.BeginOperation()
	require.True(t, ok)

	readErr := make(chan error, 1)
	go func() {
		_, err := local.Read(make([]byte, 1))
		c.UnregisterLive(id)
		c.EndOperation(op)
		readErr <- err
	}()

	require.NoError(t, c.Close())
	assert.ErrorIs(t, <-readErr, io.ErrClosedPipe)
	assert.Equal(t, 0, c.LiveConnections())

	_, ok = c.RegisterLive(remote)
	assert.False(t, ok)
}
