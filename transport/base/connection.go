package base

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/pool"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("transport/base")

// ConnState is the life cycle state of a Connection
type ConnState int32

const (
	StateCreated ConnState = iota
	StateBound
	StateStarted
	StateShuttingDown
	StateDisposed
)

func (s ConnState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateStarted:
		return "started"
	case StateShuttingDown:
		return "shutting down"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// -----------------------------------------------------------
// State object canary
// -----------------------------------------------------------

const (
	canaryIdle   uint32 = 0xDEADBEEF
	canaryRented uint32 = 0x0B5E55ED
)

// Canary marks whether a pooled state object is currently rented.
// It is how a Connection detects a state object that is returned twice.
type Canary struct {
	v atomic.Uint32
}

// Rented reports whether the owning state object is out of the pool
func (c *Canary) Rented() bool {
	return c.v.Load() == canaryRented
}

// rent marks the object rented and reports false if it already was
func (c *Canary) rent() bool {
	return c.v.Swap(canaryRented) != canaryRented
}

// release poisons the object and reports false if it was not rented
func (c *Canary) release() bool {
	return c.v.Swap(canaryIdle) == canaryRented
}

// Leased is implemented by every state object a Connection hands out
type Leased interface {
	Canary() *Canary
}

// -----------------------------------------------------------
// Connection
// -----------------------------------------------------------

// Options configures a Connection
type Options[S Leased] struct {
	// Name identifies the connection in log lines and metric labels
	Name string
	// Pool sizes the buffer and state pools
	Pool common.PoolConf
	// Policy creates, resets and destroys the state objects
	Policy pool.Policy[S]
	// DefaultRemote is used by writers when no explicit remote is given
	DefaultRemote net.Addr
}

// Connection is the life cycle shared by all readers and writers. It owns the
// socket, the pools and the active operation barrier that blocks Close until
// every in-flight operation returned its resources.
type Connection[S Leased] struct {
	name          string
	socket        *Socket
	defaultRemote net.Addr

	buffers *pool.BufferPool
	states  *pool.ObjectPool[S]

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards state and active, cond is signalled whenever active drops to zero
	mu     sync.Mutex
	cond   *sync.Cond
	state  ConnState
	active int64

	loops     sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	live   *xsync.MapOf[uint64, net.Conn]
	nextID atomic.Uint64

	set           *metrics.Set
	started       *metrics.Counter
	completed     *metrics.Counter
	doubleRents   *metrics.Counter
	doubleReturns *metrics.Counter
}

// NewConnection creates a connection around socket. A socket that is already bound
// puts the connection into the bound state.
func NewConnection[S Leased](socket *Socket, opts Options[S]) *Connection[S] {
	set := metrics.NewSet()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection[S]{
		name:          opts.Name,
		socket:        socket,
		defaultRemote: opts.DefaultRemote,
		buffers:       pool.NewBufferPool(opts.Name, opts.Pool.BucketSize, opts.Pool.BuffersPerBucket, set),
		states:        pool.NewObjectPool[S](opts.Policy, opts.Pool.MaxRetainedStates),
		ctx:           ctx,
		cancel:        cancel,
		live:          xsync.NewMapOf[uint64, net.Conn](),
		set:           set,
		started:       set.NewCounter(fmt.Sprintf(`rawnet_operations_started_total{conn=%q}`, opts.Name)),
		completed:     set.NewCounter(fmt.Sprintf(`rawnet_operations_completed_total{conn=%q}`, opts.Name)),
		doubleRents:   set.NewCounter(fmt.Sprintf(`rawnet_state_double_rents_total{conn=%q}`, opts.Name)),
		doubleReturns: set.NewCounter(fmt.Sprintf(`rawnet_state_double_returns_total{conn=%q}`, opts.Name)),
	}
	c.cond = sync.NewCond(&c.mu)

	set.NewGauge(fmt.Sprintf(`rawnet_operations_active{conn=%q}`, opts.Name), func() float64 {
		return float64(c.ActiveOperations())
	})
	set.NewGauge(fmt.Sprintf(`rawnet_connections_live{conn=%q}`, opts.Name), func() float64 {
		return float64(c.live.Size())
	})

	c.states.Preallocate(opts.Pool.PreallocatedStates)
	if socket.IsBound() {
		c.state = StateBound
	}
	return c
}

// --------------------------------------------------------------------------
// Life cycle
// --------------------------------------------------------------------------

// Bind binds the socket to address. Binding twice returns the error of the socket.
func (c *Connection[S]) Bind(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return common.ErrShutdown
	}
	if err := c.socket.Bind(address); err != nil {
		return err
	}
	if c.state == StateCreated {
		c.state = StateBound
	}
	Logger.Debugf("%s: bound to %s", c.name, c.socket.LocalAddr())
	return nil
}

// Start performs the transport specific setup and then runs entry concurrency times,
// each on its own goroutine. The connection must be bound. If setup fails the
// connection stays in its previous state.
func (c *Connection[S]) Start(concurrency uint16, setup func() error, entry func(worker int)) error {
	c.mu.Lock()
	switch c.state {
	case StateCreated:
		c.mu.Unlock()
		return common.ErrNotBound
	case StateStarted:
		c.mu.Unlock()
		return common.ErrAlreadyStarted
	case StateShuttingDown, StateDisposed:
		c.mu.Unlock()
		return common.ErrShutdown
	}
	prev := c.state
	c.state = StateStarted
	c.mu.Unlock()

	if setup != nil {
		if err := setup(); err != nil {
			// a failed setup leaves the connection startable again
			c.mu.Lock()
			if c.state == StateStarted {
				c.state = prev
			}
			c.mu.Unlock()
			return err
		}
	}

	if concurrency == 0 {
		concurrency = 1
	}
	for i := range int(concurrency) {
		c.Spawn(func() { entry(i) })
	}

	Logger.Infof("%s: started %d loops on %s", c.name, concurrency, c.socket.LocalAddr())
	return nil
}

// Shutdown stops admitting new operations. It does not abort in-flight operations.
func (c *Connection[S]) Shutdown() {
	c.mu.Lock()
	if c.state < StateShuttingDown {
		c.state = StateShuttingDown
		Logger.Debugf("%s: shutdown requested with %d active operations", c.name, c.active)
	}
	c.mu.Unlock()
	c.cancel()
}

// Close shuts down, closes the socket and all live connections, waits until
// every active operation completed and finally disposes the state pool.
// It is idempotent, concurrent callers all wait for the drain.
func (c *Connection[S]) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.dispose()
	})
	return c.closeErr
}

// Dispose is an alias for Close
func (c *Connection[S]) Dispose() error {
	return c.Close()
}

// dispose runs the drain protocol once
func (c *Connection[S]) dispose() error {
	c.Shutdown()

	// closing the socket is what aborts in-flight operations
	err := c.socket.Close()
	c.live.Range(func(_ uint64, conn net.Conn) bool {
		conn.Close()
		return true
	})

	c.mu.Lock()
	for c.active > 0 {
		c.cond.Wait()
	}
	c.mu.Unlock()

	c.loops.Wait()

	c.mu.Lock()
	c.state = StateDisposed
	c.mu.Unlock()
	c.states.Dispose()

	Logger.Infof("%s: closed", c.name)
	return err
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// BeginOperation admits a new operation and rents its state object.
// It returns false once shutdown was requested, nothing is rented in that case.
func (c *Connection[S]) BeginOperation() (S, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		var zero S
		return zero, false
	}

	st := c.states.Rent()
	if !st.Canary().rent() {
		c.doubleRents.Inc()
		Logger.Errorf("%s: pool handed out a state object that is still rented", c.name)
	}
	c.active++
	c.started.Inc()
	return st, true
}

// EndOperation returns the state object of a completed operation and releases its slot in the barrier.
// A second return of the same object is counted and ignored.
func (c *Connection[S]) EndOperation(st S) {
	if !st.Canary().release() {
		c.doubleReturns.Inc()
		Logger.Errorf("%s: state object returned twice", c.name)
		return
	}
	c.states.Return(st)

	c.mu.Lock()
	c.active--
	c.completed.Inc()
	if c.active == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// Spawn runs fn on a goroutine that Close waits for. It returns false once shutdown was requested.
func (c *Connection[S]) Spawn(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return false
	}
	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		fn()
	}()
	return true
}

// RegisterLive tracks a connection so that Close can abort its blocking calls.
// It returns false once shutdown was requested, the caller then owns closing conn.
func (c *Connection[S]) RegisterLive(conn net.Conn) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return 0, false
	}
	id := c.nextID.Add(1)
	c.live.Store(id, conn)
	return id, true
}

// UnregisterLive stops tracking a connection
func (c *Connection[S]) UnregisterLive(id uint64) {
	c.live.Delete(id)
}

// RentBuffer rents a buffer of at least size bytes
func (c *Connection[S]) RentBuffer(size int) []byte {
	return c.buffers.Rent(size)
}

// ReturnBuffer returns a rented buffer. Buffers are always cleared so that no
// request data survives into the next rent.
func (c *Connection[S]) ReturnBuffer(buf []byte) {
	if buf == nil {
		return
	}
	c.buffers.Return(buf, true)
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Name returns the name of the connection
func (c *Connection[S]) Name() string {
	return c.name
}

// Socket returns the underlying socket
func (c *Connection[S]) Socket() *Socket {
	return c.socket
}

// DefaultRemote returns the remote endpoint used when none is given
func (c *Connection[S]) DefaultRemote() net.Addr {
	return c.defaultRemote
}

// Context is canceled when shutdown is requested
func (c *Connection[S]) Context() context.Context {
	return c.ctx
}

// State returns the life cycle state
func (c *Connection[S]) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveOperations returns the number of operations that hold a state object
func (c *Connection[S]) ActiveOperations() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LiveConnections returns the number of tracked stream connections
func (c *Connection[S]) LiveConnections() int {
	return c.live.Size()
}

// BufferStats returns the counters of the buffer pool
func (c *Connection[S]) BufferStats() pool.BufferStats {
	return c.buffers.Stats()
}

// StateStats returns the counters of the state pool
func (c *Connection[S]) StateStats() pool.ObjectStats {
	return c.states.Stats()
}

// DoubleReturns returns the number of detected double returns of state objects
func (c *Connection[S]) DoubleReturns() uint64 {
	return c.doubleReturns.Get()
}

// WritePrometheus writes the pool and operation metrics in Prometheus text format
func (c *Connection[S]) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}
