package stream

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"io"
	"net"
	"time"
)

// validateFraming checks the stream specific configuration
func validateFraming(conf common.Config) error {
	if conf.PacketSize <= 0 {
		return fmt.Errorf("%w: packet size must be positive, got %d", common.ErrInvalidConfig, conf.PacketSize)
	}
	if conf.Framing != common.FramingFixed && conf.Framing != common.FramingVariable {
		return fmt.Errorf("%w: unknown framing %q", common.ErrInvalidConfig, conf.Framing)
	}
	return nil
}

// frameCapacity returns the buffer size needed for the largest frame
func frameCapacity(conf common.Config) int {
	if conf.Framing == common.FramingFixed {
		return conf.PacketSize
	}
	return frame.StreamHeaderSize + conf.PacketSize
}

// payloadSlot returns the part of a frame buffer that holds the payload
func payloadSlot(conf common.Config, buf []byte) []byte {
	if conf.Framing == common.FramingFixed {
		return buf[:conf.PacketSize]
	}
	return buf[frame.StreamHeaderSize : frame.StreamHeaderSize+conf.PacketSize]
}

// readFrame reads one frame into buf and returns its payload.
//
// In variable framing the header is read without a deadline, so idle connections
// may wait indefinitely, while the body must arrive within bodyTimeout (if > 0).
// A close before the first byte of a frame returns common.ErrPeerClosed.
func readFrame(conn net.Conn, conf common.Config, buf []byte, bodyTimeout time.Duration) ([]byte, error) {
	if conf.Framing == common.FramingFixed {
		payload := buf[:conf.PacketSize]
		if _, err := base.ReadFull(conn, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	if _, err := base.ReadFull(conn, buf[:frame.StreamHeaderSize]); err != nil {
		return nil, err
	}
	header, err := frame.DeserializeStreamHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrFrameTooLarge, err)
	}
	if int(header.DataLength) > conf.PacketSize {
		return nil, fmt.Errorf("%w: %d > %d", common.ErrFrameTooLarge, header.DataLength, conf.PacketSize)
	}

	if bodyTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(bodyTimeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	payload := buf[frame.StreamHeaderSize:header.FrameSize()]
	if _, err := base.ReadFull(conn, payload); err != nil {
		if errors.Is(err, common.ErrPeerClosed) {
			// the header was already consumed, so this close is inside the frame
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// writeFrame writes the n payload bytes stored in the payload slot of buf as one frame.
// Fixed frames are padded with zeros to the packet size.
func writeFrame(conn net.Conn, conf common.Config, buf []byte, n int) (int, error) {
	if conf.Framing == common.FramingFixed {
		clear(buf[n:conf.PacketSize])
		return base.WriteFull(conn, buf[:conf.PacketSize])
	}

	header := frame.StreamHeader{DataLength: int32(n)}
	if err := header.Serialize(buf); err != nil {
		return 0, err
	}
	return base.WriteFull(conn, buf[:header.FrameSize()])
}
