package fake

import (
	"github.com/eapache/queue"
	"net"
	"sync"
	"time"
)

// Addr is the address of a fake socket
type Addr string

func (a Addr) Network() string { return "fake" }
func (a Addr) String() string  { return string(a) }

// Datagram is one packet in flight between fake sockets
type Datagram struct {
	From net.Addr
	To   net.Addr
	Data []byte
}

// PacketConn is an in-memory net.PacketConn with controllable timing and failures.
// Deadlines are accepted but not enforced.
type PacketConn struct {
	addr    net.Addr
	network *Network

	mu        sync.Mutex
	cond      *sync.Cond
	inbox     *queue.Queue
	sent      []Datagram
	closed    bool
	readDelay time.Duration
	writeErr  error
	reads     int
}

// NewPacketConn creates a standalone fake socket. Sent datagrams are only recorded.
func NewPacketConn(addr string) *PacketConn {
	c := &PacketConn{addr: Addr(addr), inbox: queue.New()}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// --------------------------------------------------------------------------
// Control Methods
// --------------------------------------------------------------------------

// Deliver queues a datagram from the given sender
func (c *PacketConn) Deliver(from net.Addr, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.inbox.Add(Datagram{From: from, To: c.addr, Data: append([]byte(nil), data...)})
	c.cond.Signal()
}

// SetReadDelay delays the completion of every subsequent ReadFrom after a datagram was dequeued
func (c *PacketConn) SetReadDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDelay = d
}

// SetWriteError makes every subsequent WriteTo fail with err, nil restores normal operation
func (c *PacketConn) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Sent returns a copy of all datagrams written to the socket
func (c *PacketConn) Sent() []Datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Datagram(nil), c.sent...)
}

// Pending returns the number of queued datagrams that were not read yet
func (c *PacketConn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox.Length()
}

// Reads returns the number of completed ReadFrom calls
func (c *PacketConn) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// --------------------------------------------------------------------------
// net.PacketConn
// --------------------------------------------------------------------------

// ReadFrom blocks until a datagram is queued or the socket is closed
func (c *PacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	for c.inbox.Length() == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		c.mu.Unlock()
		return 0, nil, c.opError("read", net.ErrClosed)
	}
	d := c.inbox.Remove().(Datagram)
	delay := c.readDelay
	c.reads++
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return copy(p, d.Data), d.From, nil
}

// WriteTo records the datagram and routes it through the network if the socket belongs to one
func (c *PacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, c.opError("write", net.ErrClosed)
	}
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return 0, c.opError("write", err)
	}
	d := Datagram{From: c.addr, To: addr, Data: append([]byte(nil), p...)}
	c.sent = append(c.sent, d)
	network := c.network
	c.mu.Unlock()

	if network != nil {
		network.route(d)
	}
	return len(p), nil
}

// Close wakes all blocked readers with net.ErrClosed
func (c *PacketConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.opError("close", net.ErrClosed)
	}
	c.closed = true
	network := c.network
	c.cond.Broadcast()
	c.mu.Unlock()

	if network != nil {
		network.detach(c.addr.String())
	}
	return nil
}

func (c *PacketConn) LocalAddr() net.Addr                { return c.addr }
func (c *PacketConn) SetDeadline(t time.Time) error      { return nil }
func (c *PacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *PacketConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *PacketConn) opError(op string, err error) error {
	return &net.OpError{Op: op, Net: "fake", Addr: c.addr, Err: err}
}
