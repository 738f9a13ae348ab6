package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// StreamHeaderSize is the encoded size of a StreamHeader in bytes
	StreamHeaderSize = 4
	// PacketHeaderSize is the encoded size of a PacketHeader in bytes
	PacketHeaderSize = 6
)

var (
	// ErrShortBuffer is returned if a buffer cannot hold a complete header
	ErrShortBuffer = errors.New("frame: buffer too short for header")
	// ErrNegativeLength is returned if a header carries a negative data length
	ErrNegativeLength = errors.New("frame: negative data length")
)

// --------------------------------------------------------------------------
// Stream Header
// --------------------------------------------------------------------------

// StreamHeader is the length prefix of a single frame on a stream connection
type StreamHeader struct {
	DataLength int32
}

// FrameSize returns the size of the complete frame (header + data)
func (h StreamHeader) FrameSize() int {
	return StreamHeaderSize + int(h.DataLength)
}

// Serialize writes the header into the first StreamHeaderSize bytes of dst
func (h StreamHeader) Serialize(dst []byte) error {
	if len(dst) < StreamHeaderSize {
		return ErrShortBuffer
	}
	if h.DataLength < 0 {
		return ErrNegativeLength
	}
	binary.BigEndian.PutUint32(dst[:4], uint32(h.DataLength))
	return nil
}

// DeserializeStreamHeader reads a StreamHeader from the first StreamHeaderSize bytes of src
func DeserializeStreamHeader(src []byte) (StreamHeader, error) {
	if len(src) < StreamHeaderSize {
		return StreamHeader{}, ErrShortBuffer
	}
	h := StreamHeader{DataLength: int32(binary.BigEndian.Uint32(src[:4]))}
	if h.DataLength < 0 {
		return StreamHeader{}, ErrNegativeLength
	}
	return h, nil
}

// AppendStreamFrame writes header and payload into dst and returns the frame
// slice. dst must have room for StreamHeaderSize+len(payload) bytes.
func AppendStreamFrame(dst []byte, payload []byte) ([]byte, error) {
	size := StreamHeaderSize + len(payload)
	if len(dst) < size {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, size, len(dst))
	}
	if err := (StreamHeader{DataLength: int32(len(payload))}).Serialize(dst); err != nil {
		return nil, err
	}
	copy(dst[StreamHeaderSize:size], payload)
	return dst[:size], nil
}

// --------------------------------------------------------------------------
// Packet Header
// --------------------------------------------------------------------------

// PacketHeader is the typed header of a packet. Type selects the handler,
// DataLength is the number of payload bytes following the header.
type PacketHeader struct {
	Type       uint16
	DataLength int32
}

// FrameSize returns the size of the complete packet (header + data)
func (h PacketHeader) FrameSize() int {
	return PacketHeaderSize + int(h.DataLength)
}

// Serialize writes the header into the first PacketHeaderSize bytes of dst
func (h PacketHeader) Serialize(dst []byte) error {
	if len(dst) < PacketHeaderSize {
		return ErrShortBuffer
	}
	if h.DataLength < 0 {
		return ErrNegativeLength
	}
	binary.BigEndian.PutUint16(dst[:2], h.Type)
	binary.BigEndian.PutUint32(dst[2:6], uint32(h.DataLength))
	return nil
}

// DeserializePacketHeader reads a PacketHeader from the first PacketHeaderSize bytes of src
func DeserializePacketHeader(src []byte) (PacketHeader, error) {
	if len(src) < PacketHeaderSize {
		return PacketHeader{}, ErrShortBuffer
	}
	h := PacketHeader{
		Type:       binary.BigEndian.Uint16(src[:2]),
		DataLength: int32(binary.BigEndian.Uint32(src[2:6])),
	}
	if h.DataLength < 0 {
		return PacketHeader{}, ErrNegativeLength
	}
	return h, nil
}
