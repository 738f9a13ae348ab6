package util

import (
	"errors"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"strings"
	"testing"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "a b", WrapString("  a   b "))
}

func TestGetConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("network", "tcp")
	viper.Set("endpoint", "localhost:9000")
	viper.Set("packet-size", 256)
	viper.Set("framing", "FIXED")
	viper.Set("concurrency", 2)
	viper.Set("pool-bucket-size", 8)
	viper.Set("socket-read-buffer", 4)
	viper.Set("tcp-linger", -1)

	conf, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "tcp", conf.Network)
	assert.Equal(t, 256, conf.PacketSize)
	assert.Equal(t, common.FramingFixed, conf.Framing)
	assert.Equal(t, uint16(2), conf.Concurrency)
	assert.Equal(t, 8*1024, conf.Pool.BucketSize)
	assert.Equal(t, 4*1024, conf.Socket.ReadBufferSize)

	viper.Set("network", "sctp")
	_, err = GetConfig()
	assert.ErrorIs(t, err, common.ErrUnsupportedNetwork)

	viper.Set("network", "udp")
	viper.Set("endpoint", "")
	_, err = GetConfig()
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestPacketCodec(t *testing.T) {
	buf, err := EncodePacket(7, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, buf, frame.PacketHeaderSize+5)

	header, data, err := DecodePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), header.Type)
	assert.Equal(t, []byte("hello"), data)

	_, _, err = DecodePacket(buf[:len(buf)-1])
	assert.True(t, errors.Is(err, frame.ErrShortBuffer))
}

func TestClientRoundtrip(t *testing.T) {
	echo := func(_ net.Addr, request []byte, response []byte) (int, bool) {
		return copy(response, request), true
	}

	for _, network := range []string{"udp", "tcp"} {
		t.Run(network, func(t *testing.T) {
			conf := common.DefaultConfig(network)
			conf.Concurrency = 1
			conf.TimeoutSecond = 5

			reader, err := NewReader(conf, echo)
			require.NoError(t, err)
			t.Cleanup(func() { _ = reader.Close() })
			require.NoError(t, reader.Bind("127.0.0.1:0"))
			require.NoError(t, reader.Start(conf.Concurrency))

			conf.Endpoint = reader.LocalAddr().String()
			client, err := NewClient(conf)
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })

			response := make([]byte, conf.PacketSize)
			for i := 0; i < 3; i++ {
				n, err := client.Roundtrip([]byte("PING-0001"), response)
				require.NoError(t, err)
				assert.Equal(t, "PING-0001", string(response[:n]))
			}
		})
	}
}
