package stream

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/pool"
	"github.com/ValentinKolb/rawnet/transport"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net"
	"time"
)

var Logger = logger.GetLogger("transport/stream")

// acceptBackoff is the pause after a failed accept
const acceptBackoff = 5 * time.Millisecond

// Reader accepts stream connections and serves framed requests on each of them.
// Every accepted connection runs its own read, dispatch, write loop; a failing
// connection is torn down without affecting the others.
type Reader struct {
	conf     common.Config
	conn     *base.Connection[*state]
	handler  transport.RequestHandler
	listener net.Listener
	timeout  time.Duration
}

// NewReader creates a reader on socket
func NewReader(socket *base.Socket, conf common.Config, handler transport.RequestHandler) (*Reader, error) {
	if err := validateFraming(conf); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: request handler is required", common.ErrInvalidConfig)
	}

	return &Reader{
		conf:    conf,
		handler: handler,
		timeout: time.Duration(conf.TimeoutSecond) * time.Second,
		conn: base.NewConnection[*state](socket, base.Options[*state]{
			Name:   "stream-reader",
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
		l, err := r.conn.Socket().Listen(r.conf.Backlog)
		if err != nil {
			return err
		}
		r.listener = l
		return nil
	}
	return r.conn.Start(concurrency, setup, func(int) { r.acceptLoop() })
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

// ActiveOperations returns the number of pending accepts plus served connections
func (r *Reader) ActiveOperations() int64 {
	return r.conn.ActiveOperations()
}

// LiveConnections returns the number of connections currently served
func (r *Reader) LiveConnections() int {
	return r.conn.LiveConnections()
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
// Accept loop
// --------------------------------------------------------------------------

// acceptLoop issues accepts until shutdown or until the listener is closed
func (r *Reader) acceptLoop() {
	for {
		st, ok := r.conn.BeginOperation()
		if !ok {
			return
		}

		st.Op = opAccept
		st.conn, st.err = r.listener.Accept()
		err := st.err
		r.complete(st)

		if base.IsClosed(err) {
			return
		}
		if err != nil {
			// e.g. out of file descriptors, give the system a moment
			time.Sleep(acceptBackoff)
		}
	}
}

// complete is the single completion function of the reader
func (r *Reader) complete(st *state) {
	switch st.Op {
	case opAccept:
		r.completeAccept(st)
	case opServe:
		r.teardown(st)
	default:
		Logger.Errorf("Unexpected completion of %s operation", st.Op)
		r.teardown(st)
	}
}

// completeAccept hands an accepted connection to its own serve loop. The state
// object moves with it and is returned when the connection is torn down.
func (r *Reader) completeAccept(st *state) {
	if st.err != nil {
		if !base.IsClosed(st.err) {
			Logger.Warningf("Accept error: %v", st.err)
		}
		r.conn.EndOperation(st)
		return
	}

	if err := UpgradeConnection(st.conn, r.conf); err != nil {
		Logger.Warningf("Failed to upgrade connection from %s: %v", st.conn.RemoteAddr(), err)
	}

	id, ok := r.conn.RegisterLive(st.conn)
	if !ok {
		st.conn.Close()
		st.conn = nil
		r.conn.EndOperation(st)
		return
	}

	st.Op, st.id = opServe, id
	if !r.conn.Spawn(func() { r.serve(st) }) {
		r.teardown(st)
	}
}

// serve runs the read, dispatch, write loop of one connection. Frames are read one at
// a time, so partial reads of one frame are never interleaved. Once shutdown is
// requested no further frame is served and the connection is torn down.
func (r *Reader) serve(st *state) {
	defer r.complete(st)

	remote := st.conn.RemoteAddr()
	Logger.Debugf("Serving connection from %s", remote)

	// wake up a read that waits for the next frame
	ctx := r.conn.Context()
	conn := st.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	st.buf = r.conn.RentBuffer(frameCapacity(r.conf))
	for {
		if ctx.Err() != nil {
			st.err = common.ErrShutdown
			return
		}

		request, err := readFrame(st.conn, r.conf, st.buf, r.timeout)
		if err != nil {
			if ctx.Err() != nil {
				err = common.ErrShutdown
			}
			st.err = err
			return
		}

		response := r.conn.RentBuffer(frameCapacity(r.conf))
		n, ok := r.handler.Invoke(remote, request, payloadSlot(r.conf, response))
		if !ok {
			r.conn.ReturnBuffer(response)
			continue
		}
		if ctx.Err() != nil {
			r.conn.ReturnBuffer(response)
			st.err = common.ErrShutdown
			return
		}

		if r.timeout > 0 {
			st.conn.SetWriteDeadline(time.Now().Add(r.timeout))
		}
		_, err = writeFrame(st.conn, r.conf, response, n)
		r.conn.ReturnBuffer(response)
		if err != nil {
			st.err = err
			return
		}
	}
}

// teardown closes the connection of a serve loop and returns all of its resources
func (r *Reader) teardown(st *state) {
	switch {
	case st.err == nil, errors.Is(st.err, common.ErrPeerClosed):
		Logger.Debugf("Connection closed by client")
	case base.IsClosed(st.err), errors.Is(st.err, common.ErrShutdown):
		// closed locally by Shutdown or Close
	default:
		Logger.Warningf("Closing connection after error: %v", st.err)
	}

	if st.conn != nil {
		st.conn.Close()
		r.conn.UnregisterLive(st.id)
		st.conn = nil
	}
	r.conn.ReturnBuffer(st.buf)
	st.buf = nil
	r.conn.EndOperation(st)
}
