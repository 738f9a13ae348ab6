package transport

import (
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/lni/dragonboat/v4/logger"
	"net"
)

var Logger = logger.GetLogger("transport")

// --------------------------------------------------------------------------
// Request handler
// --------------------------------------------------------------------------

// RequestHandler handles one request received by a reader.
// The request slice is only valid for the duration of the call and must not be retained.
// To answer, the handler writes into response and returns the number of bytes written and true.
// Returning false means no response is sent.
type RequestHandler func(remote net.Addr, request []byte, response []byte) (n int, ok bool)

// Invoke calls the handler and treats a panic or an invalid response length as "no response".
// Readers always dispatch through Invoke so that a failing handler can not corrupt the pools.
func (h RequestHandler) Invoke(remote net.Addr, request []byte, response []byte) (n int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Handler panicked while serving %s: %v", remote, r)
			n, ok = 0, false
		}
	}()

	n, ok = h(remote, request, response)
	if ok && (n < 0 || n > len(response)) {
		Logger.Errorf("Handler returned invalid response length %d (capacity %d) for %s", n, len(response), remote)
		return 0, false
	}
	return n, ok
}

// --------------------------------------------------------------------------
// Readers
// --------------------------------------------------------------------------

// IReader is implemented by the datagram and stream readers
type IReader interface {
	// Bind binds the underlying socket to a local address
	Bind(address string) error
	// Start begins servicing the network with the given number of parallel receive or accept loops
	Start(concurrency uint16) error
	// Shutdown stops admitting new operations, in-flight operations complete normally
	Shutdown()
	// Close shuts down, closes the socket and blocks until all in-flight operations drained
	Close() error
	// LocalAddr returns the bound address or nil
	LocalAddr() net.Addr
}

// --------------------------------------------------------------------------
// Writers
// --------------------------------------------------------------------------

// IDatagramWriter is a request/response client over a datagram socket
type IDatagramWriter interface {
	// Write sends buf to remote, nil selects the default remote
	Write(remote net.Addr, buf []byte) (int, error)
	// Read receives one datagram into buf and returns its sender
	Read(buf []byte) (int, net.Addr, error)
	// WriteAsync is the asynchronous variant of Write
	WriteAsync(remote net.Addr, buf []byte) *base.Future[int]
	// ReadAsync is the asynchronous variant of Read, buf must not be used before the future resolved
	ReadAsync(buf []byte) *base.Future[base.ReadResult]
	// Close closes the socket and drains all in-flight operations
	Close() error
}

// IStreamWriter is a framed request/response client over a stream connection
type IStreamWriter interface {
	// Connect establishes the connection to remote
	Connect(remote string) error
	// ConnectAsync is the asynchronous variant of Connect
	ConnectAsync(remote string) *base.Future[struct{}]
	// Disconnect shuts down both directions and closes the connection.
	// With reuse the writer can connect again afterward.
	Disconnect(reuse bool) error
	// DisconnectAsync is the asynchronous variant of Disconnect
	DisconnectAsync(reuse bool) *base.Future[struct{}]
	// Write sends buf as one frame
	Write(buf []byte) (int, error)
	// Read receives one frame into buf
	Read(buf []byte) (int, error)
	// WriteAsync is the asynchronous variant of Write
	WriteAsync(buf []byte) *base.Future[int]
	// ReadAsync is the asynchronous variant of Read, buf must not be used before the future resolved
	ReadAsync(buf []byte) *base.Future[int]
	// Close closes the connection and drains all in-flight operations
	Close() error
}
