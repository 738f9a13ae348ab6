package fake

import (
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
)

// Network routes datagrams between fake sockets by address. Datagrams to
// unknown addresses are dropped like on a real network.
type Network struct {
	conns   *xsync.MapOf[string, *PacketConn]
	dropped atomic.Int64
	next    atomic.Int64
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{conns: xsync.NewMapOf[string, *PacketConn]()}
}

// Listen creates a socket on address. An empty address selects a unique one.
func (n *Network) Listen(address string) (*PacketConn, error) {
	if address == "" {
		address = fmt.Sprintf("fake-%d", n.next.Add(1))
	}
	c := NewPacketConn(address)
	c.network = n
	if _, loaded := n.conns.LoadOrStore(address, c); loaded {
		return nil, fmt.Errorf("fake address %s already in use", address)
	}
	return c, nil
}

// Dropped returns the number of datagrams that had no receiver
func (n *Network) Dropped() int64 {
	return n.dropped.Load()
}

func (n *Network) route(d Datagram) {
	if d.To == nil {
		n.dropped.Add(1)
		return
	}
	dst, ok := n.conns.Load(d.To.String())
	if !ok {
		n.dropped.Add(1)
		return
	}
	dst.Deliver(d.From, d.Data)
}

func (n *Network) detach(address string) {
	n.conns.Delete(address)
}
