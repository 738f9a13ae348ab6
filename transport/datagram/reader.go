package datagram

import (
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/pool"
	"github.com/ValentinKolb/rawnet/transport"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net"
)

var Logger = logger.GetLogger("transport/datagram")

// Reader services an unconnected datagram socket. It handles any number of
// remote peers without per peer state: every datagram is one request and the
// handler's answer is sent back to its sender.
type Reader struct {
	conf    common.Config
	conn    *base.Connection[*state]
	handler transport.RequestHandler
	pc      net.PacketConn
}

// NewReader creates a reader on socket. A datagram size above MaxDatagramSize is rejected.
func NewReader(socket *base.Socket, conf common.Config, handler transport.RequestHandler) (*Reader, error) {
	if err := validateSize(conf); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: request handler is required", common.ErrInvalidConfig)
	}

	return &Reader{
		conf:    conf,
		handler: handler,
		conn: base.NewConnection[*state](socket, base.Options[*state]{
			Name:   "datagram-reader",
			Pool:   conf.Pool,
			Policy: statePolicy,
		}),
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IReader)
// --------------------------------------------------------------------------

func (r *Reader) Bind(address string) error {
	return r.conn.Bind(address)
}

func (r *Reader) Start(concurrency uint16) error {
	setup := func() error {
		pc, err := r.conn.Socket().PacketConn()
		if err != nil {
			return err
		}
		r.pc = pc
		return nil
	}
	return r.conn.Start(concurrency, setup, func(int) { r.receive() })
}

func (r *Reader) Shutdown() {
	r.conn.Shutdown()
}

func (r *Reader) Close() error {
	return r.conn.Close()
}

func (r *Reader) LocalAddr() net.Addr {
	return r.conn.Socket().LocalAddr()
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// ActiveOperations returns the number of in-flight receives and sends
func (r *Reader) ActiveOperations() int64 {
	return r.conn.ActiveOperations()
}

// BufferStats returns the counters of the buffer pool
func (r *Reader) BufferStats() pool.BufferStats {
	return r.conn.BufferStats()
}

// StateStats returns the counters of the state pool
func (r *Reader) StateStats() pool.ObjectStats {
	return r.conn.StateStats()
}

// WritePrometheus writes the reader metrics in Prometheus text format
func (r *Reader) WritePrometheus(w io.Writer) {
	r.conn.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Receive loop
// --------------------------------------------------------------------------

// receive issues one receive. When it completes, the next receive is armed
// before this one is processed, so a slow handler delays its own response but
// never the next receive. Once the socket is closed nothing is re-armed.
func (r *Reader) receive() {
	st, ok := r.conn.BeginOperation()
	if !ok {
		return
	}

	st.Op = opReceive
	st.pc = r.pc
	st.buf = r.conn.RentBuffer(r.conf.PacketSize)
	st.n, st.remote, st.err = r.pc.ReadFrom(st.buf[:r.conf.PacketSize])

	if !base.IsClosed(st.err) {
		r.conn.Spawn(r.receive)
	}
	r.complete(st)
}

// complete is the single completion function of the reader
func (r *Reader) complete(st *state) {
	switch st.Op {
	case opReceive:
		r.completeReceive(st)
	case opSend:
		r.completeSend(st)
	default:
		Logger.Errorf("Unexpected completion of %s operation", st.Op)
		r.release(st)
	}
}

// completeReceive dispatches a received datagram and issues the send of the response
func (r *Reader) completeReceive(st *state) {
	if st.err != nil {
		if !base.IsClosed(st.err) {
			Logger.Warningf("Receive failed: %v", st.err)
		}
		r.release(st)
		return
	}

	response := r.conn.RentBuffer(r.conf.PacketSize)
	n, ok := r.handler.Invoke(st.remote, st.buf[:st.n], response[:r.conf.PacketSize])

	// the handler consumed the request synchronously
	r.conn.ReturnBuffer(st.buf)
	st.buf = nil

	if !ok {
		r.conn.ReturnBuffer(response)
		r.conn.EndOperation(st)
		return
	}

	st.Op = opSend
	st.buf = response
	st.n, st.err = r.pc.WriteTo(response[:n], st.remote)
	r.complete(st)
}

// completeSend returns the response buffer
func (r *Reader) completeSend(st *state) {
	if st.err != nil && !base.IsClosed(st.err) {
		Logger.Warningf("Sending response to %s failed: %v", st.remote, st.err)
	}
	r.release(st)
}

// release returns the buffer and the state object of an operation
func (r *Reader) release(st *state) {
	r.conn.ReturnBuffer(st.buf)
	st.buf = nil
	r.conn.EndOperation(st)
}
