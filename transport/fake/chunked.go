package fake

import (
	"net"
)

// ChunkedConn limits every Read and Write of the wrapped connection to at most
// Size bytes. Short writes are reported without an error, the way a socket send
// that could only queue part of the buffer does, so callers must accumulate.
type ChunkedConn struct {
	net.Conn
	Size int
}

// NewChunkedConn wraps conn with the given chunk size (at least 1)
func NewChunkedConn(conn net.Conn, size int) *ChunkedConn {
	return &ChunkedConn{Conn: conn, Size: max(1, size)}
}

func (c *ChunkedConn) Read(p []byte) (int, error) {
	if len(p) > c.Size {
		p = p[:c.Size]
	}
	return c.Conn.Read(p)
}

func (c *ChunkedConn) Write(p []byte) (int, error) {
	if len(p) > c.Size {
		p = p[:c.Size]
	}
	return c.Conn.Write(p)
}

// Dial connects to address and wraps the connection
func Dial(network, address string, size int) (*ChunkedConn, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewChunkedConn(conn, size), nil
}

// ChunkedListener wraps every accepted connection in a ChunkedConn
type ChunkedListener struct {
	net.Listener
	Size int
}

// NewChunkedListener wraps l with the given chunk size (at least 1)
func NewChunkedListener(l net.Listener, size int) *ChunkedListener {
	return &ChunkedListener{Listener: l, Size: max(1, size)}
}

func (l *ChunkedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewChunkedConn(conn, l.Size), nil
}
