package util

import (
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/transport"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/ValentinKolb/rawnet/transport/datagram"
	"github.com/ValentinKolb/rawnet/transport/stream"
	"io"
	"net"
)

// Reader is a reader that can also export its metrics
type Reader interface {
	transport.IReader
	WritePrometheus(w io.Writer)
}

// NewReader creates the datagram or stream reader matching conf.Network
func NewReader(conf common.Config, handler transport.RequestHandler) (Reader, error) {
	socket, err := base.NewSocket(conf.Network, conf.Socket)
	if err != nil {
		return nil, err
	}

	var r Reader
	if common.IsDatagramNetwork(conf.Network) {
		r, err = datagram.NewReader(socket, conf, handler)
	} else {
		r, err = stream.NewReader(socket, conf, handler)
	}
	if err != nil {
		_ = socket.Close()
		return nil, err
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client sends one request and waits for one response over any rawnet writer
type Client interface {
	// Roundtrip writes request and reads the response into response
	Roundtrip(request, response []byte) (int, error)
	// Close closes the underlying writer
	Close() error
}

// NewClient creates a connected client for conf.Network and conf.Endpoint
func NewClient(conf common.Config) (Client, error) {
	socket, err := base.NewSocket(conf.Network, conf.Socket)
	if err != nil {
		return nil, err
	}

	if common.IsDatagramNetwork(conf.Network) {
		remote, err := net.ResolveUDPAddr(conf.Network, conf.Endpoint)
		if err != nil {
			_ = socket.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", conf.Endpoint, err)
		}
		w, err := datagram.NewWriter(socket, conf, remote)
		if err != nil {
			_ = socket.Close()
			return nil, err
		}
		return &datagramClient{w: w}, nil
	}

	w, err := stream.NewWriter(socket, conf)
	if err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := w.Connect(conf.Endpoint); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &streamClient{w: w}, nil
}

type datagramClient struct {
	w transport.IDatagramWriter
}

func (c *datagramClient) Roundtrip(request, response []byte) (int, error) {
	if _, err := c.w.Write(nil, request); err != nil {
		return 0, err
	}
	n, _, err := c.w.Read(response)
	return n, err
}

func (c *datagramClient) Close() error {
	return c.w.Close()
}

type streamClient struct {
	w transport.IStreamWriter
}

func (c *streamClient) Roundtrip(request, response []byte) (int, error) {
	if _, err := c.w.Write(request); err != nil {
		return 0, err
	}
	return c.w.Read(response)
}

func (c *streamClient) Close() error {
	return c.w.Close()
}

// --------------------------------------------------------------------------
// Typed packets
// --------------------------------------------------------------------------

// EncodePacket prefixes payload with a packet header of the given type
func EncodePacket(packetType uint16, payload []byte) ([]byte, error) {
	header := frame.PacketHeader{Type: packetType, DataLength: int32(len(payload))}
	buf := make([]byte, header.FrameSize())
	if err := header.Serialize(buf); err != nil {
		return nil, err
	}
	copy(buf[frame.PacketHeaderSize:], payload)
	return buf, nil
}

// DecodePacket splits a typed packet into header and payload
func DecodePacket(buf []byte) (frame.PacketHeader, []byte, error) {
	header, err := frame.DeserializePacketHeader(buf)
	if err != nil {
		return header, nil, err
	}
	if header.FrameSize() > len(buf) {
		return header, nil, fmt.Errorf("%w: packet of %d bytes, got %d", frame.ErrShortBuffer, header.FrameSize(), len(buf))
	}
	return header, buf[frame.PacketHeaderSize:header.FrameSize()], nil
}
