package stream

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/pool"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"io"
	"net"
	"sync"
	"time"
)

// Writer is the client side of a framed stream exchange with exactly one peer.
// Reads and writes may run concurrently with each other, but frames in the
// same direction are serialized.
type Writer struct {
	conf    common.Config
	conn    *base.Connection[*state]
	timeout time.Duration

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewWriter creates a writer on socket. A bound socket connects from its bound address.
func NewWriter(socket *base.Socket, conf common.Config) (*Writer, error) {
	if err := validateFraming(conf); err != nil {
		return nil, err
	}

	return &Writer{
		conf:    conf,
		timeout: time.Duration(conf.TimeoutSecond) * time.Second,
		conn: base.NewConnection[*state](socket, base.Options[*state]{
			Name:   "stream-writer",
			Pool:   conf.Pool,
			Policy: statePolicy,
		}),
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IStreamWriter)
// --------------------------------------------------------------------------

func (w *Writer) Connect(remote string) error {
	return w.ConnectContext(context.Background(), remote)
}

func (w *Writer) ConnectAsync(remote string) *base.Future[struct{}] {
	st, err := w.begin(opConnect)
	if err != nil {
		return base.Resolved(struct{}{}, err)
	}
	st.ctx, st.remote = context.Background(), remote
	return w.async(st, nil)
}

func (w *Writer) Disconnect(reuse bool) error {
	st, err := w.begin(opDisconnect)
	if err != nil {
		return err
	}
	st.reuse = reuse
	w.execute(st, nil)
	_, err = w.complete(st)
	return err
}

func (w *Writer) DisconnectAsync(reuse bool) *base.Future[struct{}] {
	st, err := w.begin(opDisconnect)
	if err != nil {
		return base.Resolved(struct{}{}, err)
	}
	st.reuse = reuse
	return w.async(st, nil)
}

func (w *Writer) Write(buf []byte) (int, error) {
	if err := w.checkPayload(buf); err != nil {
		return 0, err
	}
	st, err := w.begin(opWrite)
	if err != nil {
		return 0, err
	}
	w.execute(st, buf)
	return w.complete(st)
}

func (w *Writer) Read(buf []byte) (int, error) {
	st, err := w.begin(opRead)
	if err != nil {
		return 0, err
	}
	w.execute(st, buf)
	return w.complete(st)
}

func (w *Writer) WriteAsync(buf []byte) *base.Future[int] {
	if err := w.checkPayload(buf); err != nil {
		return base.Resolved(0, err)
	}
	st, err := w.begin(opWrite)
	if err != nil {
		return base.Resolved(0, err)
	}

	f := base.NewFuture[int]()
	go func() {
		w.execute(st, buf)
		f.Resolve(w.complete(st))
	}()
	return f
}

func (w *Writer) ReadAsync(buf []byte) *base.Future[int] {
	st, err := w.begin(opRead)
	if err != nil {
		return base.Resolved(0, err)
	}

	f := base.NewFuture[int]()
	go func() {
		w.execute(st, buf)
		f.Resolve(w.complete(st))
	}()
	return f
}

func (w *Writer) Close() error {
	return w.conn.Close()
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// ConnectContext establishes the connection, ctx and a shutdown of the writer abort the dial
func (w *Writer) ConnectContext(ctx context.Context, remote string) error {
	st, err := w.begin(opConnect)
	if err != nil {
		return err
	}
	st.ctx, st.remote = ctx, remote
	w.execute(st, nil)
	_, err = w.complete(st)
	return err
}

// Bind binds the writer to a local address before connecting
func (w *Writer) Bind(address string) error {
	return w.conn.Bind(address)
}

// Connected reports whether the writer has an established connection
func (w *Writer) Connected() bool {
	return w.conn.Socket().Conn() != nil
}

// LocalAddr returns the local address of the connection or nil
func (w *Writer) LocalAddr() net.Addr {
	return w.conn.Socket().LocalAddr()
}

// RemoteAddr returns the address of the peer or nil
func (w *Writer) RemoteAddr() net.Addr {
	if conn := w.conn.Socket().Conn(); conn != nil {
		return conn.RemoteAddr()
	}
	return nil
}

// Shutdown stops admitting new operations
func (w *Writer) Shutdown() {
	w.conn.Shutdown()
}

// ActiveOperations returns the number of in-flight operations
func (w *Writer) ActiveOperations() int64 {
	return w.conn.ActiveOperations()
}

// BufferStats returns the counters of the buffer pool
func (w *Writer) BufferStats() pool.BufferStats {
	return w.conn.BufferStats()
}

// StateStats returns the counters of the state pool
func (w *Writer) StateStats() pool.ObjectStats {
	return w.conn.StateStats()
}

// --------------------------------------------------------------------------
// Operation phases (shared by the sync and async variants)
// --------------------------------------------------------------------------

// checkPayload rejects payloads larger than the packet size before any pool is touched
func (w *Writer) checkPayload(buf []byte) error {
	if len(buf) > w.conf.PacketSize {
		return fmt.Errorf("%w: %d > %d", common.ErrPayloadTooLarge, len(buf), w.conf.PacketSize)
	}
	return nil
}

// begin admits an operation
func (w *Writer) begin(op opKind) (*state, error) {
	st, ok := w.conn.BeginOperation()
	if !ok {
		return nil, common.ErrShutdown
	}
	st.Op = op
	return st, nil
}

// async runs an operation without result value on its own goroutine
func (w *Writer) async(st *state, data []byte) *base.Future[struct{}] {
	f := base.NewFuture[struct{}]()
	go func() {
		w.execute(st, data)
		_, err := w.complete(st)
		f.Resolve(struct{}{}, err)
	}()
	return f
}

// execute runs the blocking socket calls of the operation
func (w *Writer) execute(st *state, data []byte) {
	socket := w.conn.Socket()

	switch st.Op {
	case opConnect:
		ctx, cancel := context.WithCancel(st.ctx)
		defer cancel()
		stop := context.AfterFunc(w.conn.Context(), cancel)
		defer stop()
		if w.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, w.timeout)
			defer cancel()
		}

		st.conn, st.err = socket.Connect(ctx, st.remote)
		if st.err == nil {
			if err := UpgradeConnection(st.conn, w.conf); err != nil {
				Logger.Warningf("Failed to upgrade connection to %s: %v", st.remote, err)
			}
			Logger.Debugf("Connected to %s", st.remote)
		}

	case opDisconnect:
		st.err = socket.Disconnect(st.reuse)

	case opWrite:
		conn := socket.Conn()
		if conn == nil {
			st.err = common.ErrNotConnected
			return
		}
		w.writeMu.Lock()
		defer w.writeMu.Unlock()

		st.buf = w.conn.RentBuffer(frameCapacity(w.conf))
		n := copy(payloadSlot(w.conf, st.buf), data)
		if w.timeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(w.timeout))
		}
		if _, st.err = writeFrame(conn, w.conf, st.buf, n); st.err == nil {
			st.n = n
		}

	case opRead:
		conn := socket.Conn()
		if conn == nil {
			st.err = common.ErrNotConnected
			return
		}
		w.readMu.Lock()
		defer w.readMu.Unlock()

		st.buf = w.conn.RentBuffer(frameCapacity(w.conf))
		if w.timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(w.timeout))
		}
		payload, err := readFrame(conn, w.conf, st.buf, 0)
		if err != nil {
			st.err = err
			return
		}
		st.n = copy(data, payload)
		if st.n < len(payload) {
			st.err = fmt.Errorf("%w: frame of %d bytes, buffer of %d", io.ErrShortBuffer, len(payload), len(data))
		}
	}
}

// complete is the single completion function of the writer. It always returns
// the buffer and the state object, exactly once.
func (w *Writer) complete(st *state) (int, error) {
	n, err := st.n, st.err
	if err != nil {
		err = base.MapCanceled(err)
		Logger.Debugf("Stream %s failed: %v", st.Op, err)
	}

	w.conn.ReturnBuffer(st.buf)
	st.buf = nil
	w.conn.EndOperation(st)
	return n, err
}
