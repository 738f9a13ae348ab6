package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rawnet/transport/common"
	"net"
	"os"
	"sync"
)

// SocketState is the life cycle state of a Socket
type SocketState int32

const (
	// SocketCreated means no OS socket exists yet
	SocketCreated SocketState = iota
	// SocketBound means the OS socket exists and is bound to a local address
	SocketBound
	// SocketAttached means the socket was handed to the Go runtime poller
	SocketAttached
	// SocketClosed is terminal
	SocketClosed
)

func (s SocketState) String() string {
	switch s {
	case SocketCreated:
		return "created"
	case SocketBound:
		return "bound"
	case SocketAttached:
		return "attached"
	case SocketClosed:
		return "closed"
	}
	return fmt.Sprintf("SocketState(%d)", int32(s))
}

// Socket owns exactly one OS socket.
//
// The descriptor is created and bound lazily by Bind. PacketConn, Listen and Connect
// hand it to the runtime poller, after which all I/O goes through the returned
// net objects. Close releases whatever the socket currently holds.
type Socket struct {
	network string
	conf    common.SocketConf

	mu       sync.Mutex
	state    SocketState
	fd       int // raw descriptor while bound but not attached, -1 otherwise
	local    net.Addr
	path     string // unix socket file created by Bind
	packet   net.PacketConn
	listener net.Listener
	conn     net.Conn
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// NewSocket creates an unbound socket for network (udp, udp4, udp6, tcp, tcp4, tcp6 or unix)
func NewSocket(network string, conf common.SocketConf) (*Socket, error) {
	if !common.IsDatagramNetwork(network) && !common.IsStreamNetwork(network) {
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedNetwork, network)
	}
	return &Socket{network: network, conf: conf, fd: -1}, nil
}

// NewPacketSocket wraps an existing packet connection
func NewPacketSocket(pc net.PacketConn) *Socket {
	return &Socket{network: "udp", state: SocketAttached, fd: -1, local: pc.LocalAddr(), packet: pc}
}

// NewListenerSocket wraps an existing listener
func NewListenerSocket(l net.Listener) *Socket {
	return &Socket{network: l.Addr().Network(), state: SocketAttached, fd: -1, local: l.Addr(), listener: l}
}

// NewStreamSocket wraps an existing stream connection
func NewStreamSocket(c net.Conn) *Socket {
	return &Socket{network: c.LocalAddr().Network(), state: SocketAttached, fd: -1, local: c.LocalAddr(), conn: c}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Network returns the network of the socket
func (s *Socket) Network() string {
	return s.network
}

// State returns the current life cycle state
func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsBound reports whether the socket has a local address
func (s *Socket) IsBound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SocketBound || (s.state == SocketAttached && s.local != nil)
}

// LocalAddr returns the bound address or nil
func (s *Socket) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Bind creates the OS socket and binds it to address.
// Binding a socket twice fails with the error of the operating system.
func (s *Socket) Bind(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SocketClosed:
		return net.ErrClosed
	case SocketBound:
		return rebindSocket(s.fd, s.network, address)
	case SocketAttached:
		return fmt.Errorf("bind %s: %w", address, errAlreadyBound)
	}

	fd, local, err := bindSocket(s.network, address, s.conf)
	if err != nil {
		return fmt.Errorf("failed to bind %s socket to %s: %w", s.network, address, err)
	}
	s.fd, s.local, s.state = fd, local, SocketBound
	if s.network == "unix" {
		s.path = address
	}
	return nil
}

// PacketConn hands a datagram socket to the runtime poller and returns the packet connection.
// An unbound socket is bound to an ephemeral port on the wildcard address first.
func (s *Socket) PacketConn() (net.PacketConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.packet != nil {
		return s.packet, nil
	}
	if !common.IsDatagramNetwork(s.network) {
		return nil, fmt.Errorf("%w: %s is not a datagram network", common.ErrUnsupportedNetwork, s.network)
	}

	switch s.state {
	case SocketClosed:
		return nil, net.ErrClosed
	case SocketCreated:
		fd, local, err := bindSocket(s.network, wildcardAddress(s.network), s.conf)
		if err != nil {
			return nil, fmt.Errorf("failed to bind ephemeral %s socket: %w", s.network, err)
		}
		s.fd, s.local = fd, local
	}

	pc, err := attachPacketConn(s.fd, s.network, s.local)
	s.fd = -1
	if err != nil {
		s.state = SocketClosed
		return nil, fmt.Errorf("failed to attach %s socket: %w", s.network, err)
	}
	s.packet, s.local, s.state = pc, pc.LocalAddr(), SocketAttached
	return pc, nil
}

// Listen puts a bound stream socket into listening mode and returns the listener.
// A backlog <= 0 selects the system maximum.
func (s *Socket) Listen(backlog int) (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener, nil
	}
	if !common.IsStreamNetwork(s.network) {
		return nil, fmt.Errorf("%w: %s is not a stream network", common.ErrUnsupportedNetwork, s.network)
	}

	switch s.state {
	case SocketClosed:
		return nil, net.ErrClosed
	case SocketCreated:
		return nil, common.ErrNotBound
	case SocketAttached:
		return nil, fmt.Errorf("listen: %w", errAlreadyBound)
	}

	l, err := attachListener(s.fd, backlog, s.network, s.local)
	s.fd = -1
	if err != nil {
		s.state = SocketClosed
		return nil, fmt.Errorf("failed to listen on %s: %w", s.local, err)
	}
	s.listener, s.local, s.state = l, l.Addr(), SocketAttached
	return l, nil
}

// Connect establishes a stream connection to remote.
// A bound socket dials from its bound address. Closing the socket while
// connecting discards the new connection.
func (s *Socket) Connect(ctx context.Context, remote string) (net.Conn, error) {
	s.mu.Lock()
	if s.state == SocketClosed {
		s.mu.Unlock()
		return nil, net.ErrClosed
	}
	if s.conn != nil || s.listener != nil {
		s.mu.Unlock()
		return nil, common.ErrAlreadyConnected
	}
	if !common.IsStreamNetwork(s.network) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not a stream network", common.ErrUnsupportedNetwork, s.network)
	}

	dialer := net.Dialer{Control: dialControl(s.conf)}
	if s.state == SocketBound {
		// the prebound descriptor is replaced by the dialer's own socket on the same address
		dialer.LocalAddr = s.local
		_ = closeFD(s.fd)
		s.fd, s.state = -1, SocketCreated
	}
	s.mu.Unlock()

	conn, err := dialer.DialContext(ctx, s.network, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", remote, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SocketClosed || s.conn != nil {
		conn.Close()
		if s.state == SocketClosed {
			return nil, net.ErrClosed
		}
		return nil, common.ErrAlreadyConnected
	}
	s.conn, s.local, s.state = conn, conn.LocalAddr(), SocketAttached
	return conn, nil
}

// Conn returns the connected stream or nil
func (s *Socket) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Disconnect gracefully shuts down both directions of the connected stream and closes it.
// With reuse the socket returns to the created state and can connect again.
func (s *Socket) Disconnect(reuse bool) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return common.ErrNotConnected
	}
	s.conn = nil
	if reuse {
		s.state, s.local = SocketCreated, nil
	} else {
		s.state = SocketClosed
	}
	s.mu.Unlock()

	return ShutdownConn(conn)
}

// Close releases the socket. It is idempotent.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SocketClosed && s.conn == nil && s.packet == nil && s.listener == nil {
		return nil
	}
	s.state = SocketClosed

	var errs []error
	if s.fd >= 0 {
		errs = append(errs, closeFD(s.fd))
		s.fd = -1
	}
	if s.packet != nil {
		errs = append(errs, s.packet.Close())
		s.packet = nil
	}
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
		s.listener = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	if s.path != "" {
		// listeners created from a descriptor do not unlink their path
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		s.path = ""
	}
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// ShutdownConn shuts down both directions of conn if supported and closes it
func ShutdownConn(conn net.Conn) error {
	type halfCloser interface {
		CloseWrite() error
		CloseRead() error
	}
	if hc, ok := conn.(halfCloser); ok {
		// the peer may already be gone, only the final close is reported
		_ = hc.CloseWrite()
		_ = hc.CloseRead()
	}
	return conn.Close()
}

// wildcardAddress returns the address used to bind an ephemeral datagram socket
func wildcardAddress(network string) string {
	if network == "udp6" {
		return "[::]:0"
	}
	return "0.0.0.0:0"
}
