package dispatch

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/ValentinKolb/rawnet/transport/datagram"
	"github.com/ValentinKolb/rawnet/transport/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"testing"
	"time"
)

const (
	typePing uint16 = 1
	typePong uint16 = 2
	typeFail uint16 = 3
)

func packet(t *testing.T, packetType uint16, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, frame.PacketHeaderSize+len(payload))
	require.NoError(t, frame.PacketHeader{Type: packetType, DataLength: int32(len(payload))}.Serialize(buf))
	copy(buf[frame.PacketHeaderSize:], payload)
	return buf
}

func newTestRegistry(t *testing.T) *Registry {
	r := NewRegistry()
	require.NoError(t, r.Register(typePing, func(remote net.Addr, h frame.PacketHeader, data []byte, w ResponseWriter) error {
		return w.Write(typePong, data)
	}))
	require.NoError(t, r.Register(typeFail, func(net.Addr, frame.PacketHeader, []byte, ResponseWriter) error {
		return errors.New("handler failed")
	}))
	return r
}

// TestDispatchTypedPacket tests the request/response of a registered type
func TestDispatchTypedPacket(t *testing.T) {
	r := newTestRegistry(t)
	handler := r.Handler()

	response := make([]byte, 64)
	n, ok := handler(nil, packet(t, typePing, []byte("PING-0001")), response)
	require.True(t, ok)

	header, err := frame.DeserializePacketHeader(response[:n])
	require.NoError(t, err)
	assert.Equal(t, typePong, header.Type)
	assert.EqualValues(t, 9, header.DataLength)
	assert.Equal(t, []byte("PING-0001"), response[frame.PacketHeaderSize:n])
}

// TestDispatchNoResponse tests the cases that produce no response
func TestDispatchNoResponse(t *testing.T) {
	r := newTestRegistry(t)
	handler := r.Handler()
	response := make([]byte, 64)

	cases := map[string][]byte{
		"unknown type":  packet(t, 99, []byte("x")),
		"short header":  {0, 1, 0},
		"truncated":     packet(t, typePing, []byte("abcdef"))[:8],
		"handler error": packet(t, typeFail, nil),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := handler(nil, req, response)
			assert.False(t, ok)
		})
	}

	// a response that does not fit is a handler error
	_, ok := handler(nil, packet(t, typePing, bytes.Repeat([]byte{1}, 60)), response)
	assert.False(t, ok)

	var out bytes.Buffer
	r.WritePrometheus(&out)
	assert.Contains(t, out.String(), `rawnet_dispatch_packets_total{result="unknown_type"} 1`)
	assert.Contains(t, out.String(), `rawnet_dispatch_packets_total{result="malformed"} 2`)
	assert.Contains(t, out.String(), `rawnet_dispatch_packets_total{result="handler_error"} 2`)
}

// TestRegisterDeregister tests the registration life cycle
func TestRegisterDeregister(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Register(typePing, func(net.Addr, frame.PacketHeader, []byte, ResponseWriter) error { return nil })
	assert.ErrorIs(t, err, ErrHandlerExists)
	assert.ErrorIs(t, r.Register(42, nil), ErrNilHandler)

	assert.True(t, r.Deregister(typePing))
	assert.False(t, r.Deregister(typePing))
	assert.False(t, r.Registered(typePing))

	_, ok := r.Handler()(nil, packet(t, typePing, nil), make([]byte, 16))
	assert.False(t, ok, "deregistered types are unknown")
}

// TestResponseWriterSingleWrite tests that only one response can be written
func TestResponseWriterSingleWrite(t *testing.T) {
	w := &responseWriter{buf: make([]byte, 16)}
	assert.Equal(t, 10, w.Capacity())
	require.NoError(t, w.Write(typePong, []byte("ok")))
	assert.ErrorIs(t, w.Write(typePong, []byte("again")), ErrResponseWritten)
	assert.Equal(t, frame.PacketHeaderSize+2, w.n)
}

// TestDispatchOverDatagramReader tests typed packets served by a datagram reader
func TestDispatchOverDatagramReader(t *testing.T) {
	r := newTestRegistry(t)
	pc := fake.NewPacketConn("server")

	conf := common.DefaultConfig("udp")
	conf.PacketSize = 64
	reader, err := datagram.NewReader(base.NewPacketSocket(pc), conf, r.Handler())
	require.NoError(t, err)
	require.NoError(t, reader.Start(2))
	defer reader.Close()

	pc.Deliver(fake.Addr("client"), packet(t, typePing, []byte("hello")))
	pc.Deliver(fake.Addr("client"), packet(t, 77, []byte("ignored")))
	pc.Deliver(fake.Addr("client"), packet(t, typePing, []byte("world")))

	require.Eventually(t, func() bool { return pc.Reads() == 3 && len(pc.Sent()) == 2 }, 2*time.Second, time.Millisecond)
	for _, sent := range pc.Sent() {
		header, err := frame.DeserializePacketHeader(sent.Data)
		require.NoError(t, err)
		assert.Equal(t, typePong, header.Type)
		assert.Equal(t, "client", sent.To.String())
	}
}
