//go:build unix

package base

import (
	"fmt"
	"github.com/ValentinKolb/rawnet/transport/common"
	"golang.org/x/sys/unix"
	"net"
	"os"
	"strings"
	"syscall"
)

// errAlreadyBound is what the kernel reports for a second bind
var errAlreadyBound error = unix.EINVAL

// bindSocket creates a socket for network, applies the socket options and binds it to address
func bindSocket(network, address string, conf common.SocketConf) (int, net.Addr, error) {
	family, sa, err := resolveSockaddr(network, address)
	if err != nil {
		return -1, nil, err
	}

	sotype := unix.SOCK_STREAM
	if common.IsDatagramNetwork(network) {
		sotype = unix.SOCK_DGRAM
	}

	fd, err := unix.Socket(family, sotype, 0)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := setSocketOptions(fd, family, network, conf); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}

	if family == unix.AF_UNIX {
		// a stale socket file would make bind fail with EADDRINUSE
		if err := os.RemoveAll(address); err != nil {
			unix.Close(fd)
			return -1, nil, fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("bind", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("getsockname", err)
	}
	return fd, sockaddrToAddr(network, bound), nil
}

// rebindSocket binds an already bound descriptor again and returns the kernel's answer
func rebindSocket(fd int, network, address string) error {
	_, sa, err := resolveSockaddr(network, address)
	if err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("bind %s: %w", address, os.NewSyscallError("bind", err))
	}
	// a kernel that accepts a second bind still leaves the socket on its first address
	return fmt.Errorf("bind %s: %w", address, errAlreadyBound)
}

// attachPacketConn hands a bound datagram descriptor to the runtime poller
func attachPacketConn(fd int, network string, local net.Addr) (net.PacketConn, error) {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("%s:%s", network, local))
	// FilePacketConn works on a duplicate, the original descriptor is released here
	defer f.Close()
	return net.FilePacketConn(f)
}

// attachListener puts a bound stream descriptor into listening mode and hands it to the runtime poller
func attachListener(fd int, backlog int, network string, local net.Addr) (net.Listener, error) {
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}
	f := os.NewFile(uintptr(fd), fmt.Sprintf("%s:%s", network, local))
	defer f.Close()
	return net.FileListener(f)
}

// closeFD closes a raw descriptor
func closeFD(fd int) error {
	return unix.Close(fd)
}

// dialControl applies the socket options to sockets created by net.Dialer
func dialControl(conf common.SocketConf) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var optErr error
		err := c.Control(func(fd uintptr) {
			optErr = setCommonOptions(int(fd), conf)
		})
		if err != nil {
			return err
		}
		return optErr
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// setSocketOptions applies the configured options to a freshly created descriptor
func setSocketOptions(fd, family int, network string, conf common.SocketConf) error {
	if family == unix.AF_INET6 {
		v6only := 0
		if strings.HasSuffix(network, "6") {
			v6only = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only); err != nil {
			return os.NewSyscallError("setsockopt IPV6_V6ONLY", err)
		}
	}
	if family == unix.AF_UNIX {
		// SO_REUSEADDR has no meaning for unix sockets
		conf.ReuseAddr = false
	}
	return setCommonOptions(fd, conf)
}

// setCommonOptions applies reuse and buffer size options
func setCommonOptions(fd int, conf common.SocketConf) error {
	if conf.ReuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return os.NewSyscallError("setsockopt SO_REUSEADDR", err)
		}
	}
	if conf.WriteBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, conf.WriteBufferSize); err != nil {
			return os.NewSyscallError("setsockopt SO_SNDBUF", err)
		}
	}
	if conf.ReadBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, conf.ReadBufferSize); err != nil {
			return os.NewSyscallError("setsockopt SO_RCVBUF", err)
		}
	}
	return nil
}

// resolveSockaddr resolves address into an address family and a kernel socket address.
// Hosts that are empty bind the IPv4 wildcard unless an IPv6 network was requested.
func resolveSockaddr(network, address string) (int, unix.Sockaddr, error) {
	var (
		ip   net.IP
		port int
		zone string
	)

	switch {
	case network == "unix":
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: address}, nil
	case common.IsDatagramNetwork(network):
		addr, err := net.ResolveUDPAddr(network, address)
		if err != nil {
			return 0, nil, err
		}
		ip, port, zone = addr.IP, addr.Port, addr.Zone
	default:
		addr, err := net.ResolveTCPAddr(network, address)
		if err != nil {
			return 0, nil, err
		}
		ip, port, zone = addr.IP, addr.Port, addr.Zone
	}

	v6 := strings.HasSuffix(network, "6")
	if !v6 && (ip == nil || ip.To4() != nil) {
		sa := &unix.SockaddrInet4{Port: port}
		if ip != nil {
			copy(sa.Addr[:], ip.To4())
		}
		return unix.AF_INET, sa, nil
	}

	sa := &unix.SockaddrInet6{Port: port}
	if ip != nil {
		copy(sa.Addr[:], ip.To16())
	}
	if zone != "" {
		if ifi, err := net.InterfaceByName(zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa, nil
}

// sockaddrToAddr converts a kernel socket address into the net.Addr of network
func sockaddrToAddr(network string, sa unix.Sockaddr) net.Addr {
	var (
		ip   net.IP
		port int
		zone string
	)

	switch a := sa.(type) {
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: a.Name, Net: "unix"}
	case *unix.SockaddrInet4:
		ip, port = net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), a.Port
	case *unix.SockaddrInet6:
		ip, port = make(net.IP, net.IPv6len), a.Port
		copy(ip, a.Addr[:])
		if a.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(a.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
	default:
		return nil
	}

	if common.IsDatagramNetwork(network) {
		return &net.UDPAddr{IP: ip, Port: port, Zone: zone}
	}
	return &net.TCPAddr{IP: ip, Port: port, Zone: zone}
}
