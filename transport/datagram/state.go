package datagram

import (
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/lib/pool"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"net"
)

// MaxDatagramSize is the largest configurable datagram size: the maximum UDP payload
// minus the IPv4 and UDP headers (28 bytes) minus the typed packet header.
const MaxDatagramSize = 65535 - 28 - frame.PacketHeaderSize

// opKind is the kind of the last operation issued with a state object
type opKind uint8

const (
	opReceive opKind = iota // reader: ReadFrom of a request
	opSend                  // reader: WriteTo of a response
	opWrite                 // writer: WriteTo
	opRead                  // writer: ReadFrom
)

func (o opKind) String() string {
	switch o {
	case opReceive:
		return "receive"
	case opSend:
		return "send"
	case opWrite:
		return "write"
	case opRead:
		return "read"
	}
	return fmt.Sprintf("opKind(%d)", uint8(o))
}

// state is the context of one in-flight datagram operation
type state struct {
	canary base.Canary

	Op     opKind
	pc     net.PacketConn
	buf    []byte
	n      int
	remote net.Addr
	err    error
}

func (s *state) Canary() *base.Canary { return &s.canary }

// statePolicy only reuses state objects that released their buffer
var statePolicy = pool.PolicyFuncs[*state]{
	CreateFunc: func() *state { return &state{} },
	ResetFunc: func(s *state) {
		s.Op, s.pc, s.buf, s.n, s.remote, s.err = 0, nil, nil, 0, nil, nil
	},
	CanReuseFunc: func(s *state) bool {
		return s.buf == nil
	},
}

// validateSize checks the configured datagram size
func validateSize(conf common.Config) error {
	if conf.PacketSize <= 0 {
		return fmt.Errorf("%w: datagram size must be positive, got %d", common.ErrInvalidConfig, conf.PacketSize)
	}
	if conf.PacketSize > MaxDatagramSize {
		return fmt.Errorf("%w: %d > %d", common.ErrDatagramTooLarge, conf.PacketSize, MaxDatagramSize)
	}
	return nil
}
