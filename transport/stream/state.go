package stream

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/pool"
	"github.com/ValentinKolb/rawnet/transport/base"
	"net"
)

// opKind is the kind of the last operation issued with a state object
type opKind uint8

const (
	opAccept     opKind = iota // reader: accept of a new connection
	opServe                    // reader: read/dispatch/write loop of one connection
	opConnect                  // writer
	opDisconnect               // writer
	opWrite                    // writer
	opRead                     // writer
)

func (o opKind) String() string {
	switch o {
	case opAccept:
		return "accept"
	case opServe:
		return "serve"
	case opConnect:
		return "connect"
	case opDisconnect:
		return "disconnect"
	case opWrite:
		return "write"
	case opRead:
		return "read"
	}
	return fmt.Sprintf("opKind(%d)", uint8(o))
}

// state is the context of one in-flight stream operation. For the reader one
// state object lives as long as its accepted connection.
type state struct {
	canary base.Canary

	Op     opKind
	conn   net.Conn
	id     uint64 // live connection id
	buf    []byte
	n      int
	err    error
	ctx    context.Context
	remote string
	reuse  bool
}

func (s *state) Canary() *base.Canary { return &s.canary }

var statePolicy = pool.PolicyFuncs[*state]{
	CreateFunc: func() *state { return &state{} },
	ResetFunc: func(s *state) {
		s.Op, s.conn, s.id, s.buf, s.n, s.err = 0, nil, 0, nil, 0, nil
		s.ctx, s.remote, s.reuse = nil, "", false
	},
	CanReuseFunc: func(s *state) bool {
		return s.buf == nil
	},
}
