//go:build unix

package base

import (
	"context"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// TestSocketBindTwice tests that a second bind propagates the kernel error
func TestSocketBindTwice(t *testing.T) {
	s, err := NewSocket("udp4", common.SocketConf{ReuseAddr: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Bind("127.0.0.1:0"))
	assert.True(t, s.IsBound())
	assert.Equal(t, SocketBound, s.State())

	err = s.Bind("127.0.0.1:0")
	assert.ErrorIs(t, err, unix.EINVAL)
}

// TestSocketUnsupportedNetwork tests the network validation
func TestSocketUnsupportedNetwork(t *testing.T) {
	_, err := NewSocket("ip4:icmp", common.SocketConf{})
	assert.ErrorIs(t, err, common.ErrUnsupportedNetwork)
}

// TestSocketPacketConn tests datagram exchange over raw bound sockets
func TestSocketPacketConn(t *testing.T) {
	server, err := NewSocket("udp", common.SocketConf{ReuseAddr: true, ReadBufferSize: 1 << 16})
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.Bind("127.0.0.1:0"))

	addr := server.LocalAddr().(*net.UDPAddr)
	assert.NotZero(t, addr.Port)

	spc, err := server.PacketConn()
	require.NoError(t, err)
	assert.Equal(t, SocketAttached, server.State())
	assert.Equal(t, addr.String(), spc.LocalAddr().String())

	// an unbound client is bound to an ephemeral port on first use
	client, err := NewSocket("udp", common.SocketConf{})
	require.NoError(t, err)
	defer client.Close()
	cpc, err := client.PacketConn()
	require.NoError(t, err)

	_, err = cpc.WriteTo([]byte("hello"), addr)
	require.NoError(t, err)

	buf := make([]byte, 16)
	spc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := spc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, cpc.LocalAddr().(*net.UDPAddr).Port, from.(*net.UDPAddr).Port)

	_, err = server.Listen(0)
	assert.ErrorIs(t, err, common.ErrUnsupportedNetwork)
}

// TestSocketListenConnect tests stream sockets over tcp and unix
func TestSocketListenConnect(t *testing.T) {
	for _, tc := range []struct{ network, address string }{
		{"tcp", "127.0.0.1:0"},
		{"unix", filepath.Join(t.TempDir(), "rawnet.sock")},
	} {
		t.Run(tc.network, func(t *testing.T) {
			server, err := NewSocket(tc.network, common.SocketConf{ReuseAddr: true})
			require.NoError(t, err)
			defer server.Close()

			_, err = server.Listen(16)
			assert.ErrorIs(t, err, common.ErrNotBound)

			require.NoError(t, server.Bind(tc.address))
			l, err := server.Listen(16)
			require.NoError(t, err)

			accepted := make(chan net.Conn, 1)
			go func() {
				conn, err := l.Accept()
				if err == nil {
					accepted <- conn
				}
			}()

			client, err := NewSocket(tc.network, common.SocketConf{})
			require.NoError(t, err)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			conn, err := client.Connect(ctx, l.Addr().String())
			require.NoError(t, err)
			assert.Same(t, conn, client.Conn())

			_, err = client.Connect(ctx, l.Addr().String())
			assert.ErrorIs(t, err, common.ErrAlreadyConnected)

			peer := <-accepted
			defer peer.Close()

			_, err = conn.Write([]byte("ping"))
			require.NoError(t, err)
			buf := make([]byte, 4)
			_, err = ReadFull(peer, buf)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(buf))

			// graceful disconnect shows up as a close at the frame boundary
			require.NoError(t, client.Disconnect(true))
			_, err = ReadFull(peer, buf)
			assert.ErrorIs(t, err, common.ErrPeerClosed)
			assert.Equal(t, SocketCreated, client.State())
			assert.ErrorIs(t, client.Disconnect(true), common.ErrNotConnected)
		})
	}
}

// TestSocketCloseIsIdempotent tests repeated closes
func TestSocketCloseIsIdempotent(t *testing.T) {
	s, err := NewSocket("tcp", common.SocketConf{})
	require.NoError(t, err)
	require.NoError(t, s.Bind("127.0.0.1:0"))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Bind("127.0.0.1:0"), net.ErrClosed)
}
