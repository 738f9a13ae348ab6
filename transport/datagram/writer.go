package datagram

import (
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/pool"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"io"
	"net"
	"time"
)

// Writer is the client side of a datagram request/response exchange.
// Every call rents a temporary buffer and a state object and returns both before it completes.
type Writer struct {
	conf    common.Config
	conn    *base.Connection[*state]
	timeout time.Duration
}

// NewWriter creates a writer on socket. defaultRemote is used when a call passes no remote, it may be nil.
func NewWriter(socket *base.Socket, conf common.Config, defaultRemote net.Addr) (*Writer, error) {
	if err := validateSize(conf); err != nil {
		return nil, err
	}

	return &Writer{
		conf:    conf,
		timeout: time.Duration(conf.TimeoutSecond) * time.Second,
		conn: base.NewConnection[*state](socket, base.Options[*state]{
			Name:          "datagram-writer",
			Pool:          conf.Pool,
			Policy:        statePolicy,
			DefaultRemote: defaultRemote,
		}),
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IDatagramWriter)
// --------------------------------------------------------------------------

func (w *Writer) Write(remote net.Addr, buf []byte) (int, error) {
	st, err := w.begin(opWrite, remote, len(buf))
	if err != nil {
		return 0, err
	}
	w.execute(st, buf)
	res, err := w.complete(st)
	return res.N, err
}

func (w *Writer) Read(buf []byte) (int, net.Addr, error) {
	st, err := w.begin(opRead, nil, 0)
	if err != nil {
		return 0, nil, err
	}
	w.execute(st, buf)
	res, err := w.complete(st)
	return res.N, res.Remote, err
}

func (w *Writer) WriteAsync(remote net.Addr, buf []byte) *base.Future[int] {
	st, err := w.begin(opWrite, remote, len(buf))
	if err != nil {
		return base.Resolved(0, err)
	}

	f := base.NewFuture[int]()
	go func() {
		w.execute(st, buf)
		res, err := w.complete(st)
		f.Resolve(res.N, err)
	}()
	return f
}

func (w *Writer) ReadAsync(buf []byte) *base.Future[base.ReadResult] {
	st, err := w.begin(opRead, nil, 0)
	if err != nil {
		return base.Resolved(base.ReadResult{}, err)
	}

	f := base.NewFuture[base.ReadResult]()
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

// Bind binds the writer to a local address, unbound writers use an ephemeral port
func (w *Writer) Bind(address string) error {
	return w.conn.Bind(address)
}

// LocalAddr returns the local address of the writer or nil before the first operation
func (w *Writer) LocalAddr() net.Addr {
	return w.conn.Socket().LocalAddr()
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

// begin validates the call and admits the operation. Oversized payloads are
// rejected before any pool is touched.
func (w *Writer) begin(op opKind, remote net.Addr, size int) (*state, error) {
	if size > w.conf.PacketSize {
		return nil, fmt.Errorf("%w: %d > %d", common.ErrPayloadTooLarge, size, w.conf.PacketSize)
	}
	if op == opWrite {
		if remote == nil {
			remote = w.conn.DefaultRemote()
		}
		if remote == nil {
			return nil, fmt.Errorf("%w: no remote endpoint", common.ErrNotConnected)
		}
	}

	pc, err := w.conn.Socket().PacketConn()
	if err != nil {
		return nil, base.MapCanceled(err)
	}

	st, ok := w.conn.BeginOperation()
	if !ok {
		return nil, common.ErrShutdown
	}
	st.Op, st.pc, st.remote = op, pc, remote
	return st, nil
}

// execute runs the blocking socket call of the operation
func (w *Writer) execute(st *state, data []byte) {
	switch st.Op {
	case opWrite:
		st.buf = w.conn.RentBuffer(len(data))
		n := copy(st.buf, data)
		if w.timeout > 0 {
			st.pc.SetWriteDeadline(time.Now().Add(w.timeout))
		}
		st.n, st.err = st.pc.WriteTo(st.buf[:n], st.remote)
	case opRead:
		st.buf = w.conn.RentBuffer(w.conf.PacketSize)
		if w.timeout > 0 {
			st.pc.SetReadDeadline(time.Now().Add(w.timeout))
		}
		st.n, st.remote, st.err = st.pc.ReadFrom(st.buf[:w.conf.PacketSize])
		if st.err == nil {
			size := st.n
			st.n = copy(data, st.buf[:size])
			if st.n < size {
				st.err = fmt.Errorf("%w: datagram of %d bytes, buffer of %d", io.ErrShortBuffer, size, len(data))
			}
		}
	default:
		st.err = fmt.Errorf("unexpected %s operation on datagram writer", st.Op)
	}
}

// complete is the single completion function of the writer. It always returns
// the buffer and the state object, exactly once.
func (w *Writer) complete(st *state) (base.ReadResult, error) {
	res := base.ReadResult{N: st.n, Remote: st.remote}
	err := st.err
	if err != nil {
		res.N = 0
		err = base.MapCanceled(err)
		Logger.Debugf("Datagram %s failed: %v", st.Op, err)
	}

	w.conn.ReturnBuffer(st.buf)
	st.buf = nil
	w.conn.EndOperation(st)
	return res, err
}
