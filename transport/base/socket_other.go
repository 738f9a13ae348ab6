//go:build !unix

package base

import (
	"errors"
	"github.com/ValentinKolb/rawnet/transport/common"
	"net"
	"syscall"
)

// errAlreadyBound is returned for a second bind on platforms without raw descriptor support
var errAlreadyBound = errors.New("socket already bound")

// bindSocket only resolves the address, the socket is created when it is attached
func bindSocket(network, address string, _ common.SocketConf) (int, net.Addr, error) {
	switch {
	case network == "unix":
		addr, err := net.ResolveUnixAddr(network, address)
		return -1, addr, err
	case common.IsDatagramNetwork(network):
		addr, err := net.ResolveUDPAddr(network, address)
		return -1, addr, err
	default:
		addr, err := net.ResolveTCPAddr(network, address)
		return -1, addr, err
	}
}

func rebindSocket(_ int, _ string, _ string) error {
	return errAlreadyBound
}

func attachPacketConn(_ int, network string, local net.Addr) (net.PacketConn, error) {
	return net.ListenPacket(network, local.String())
}

func attachListener(_ int, _ int, network string, local net.Addr) (net.Listener, error) {
	return net.Listen(network, local.String())
}

func closeFD(_ int) error {
	return nil
}

func dialControl(_ common.SocketConf) func(network, address string, c syscall.RawConn) error {
	return nil
}
