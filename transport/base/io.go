package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rawnet/transport/common"
	"io"
	"net"
)

// maxEmptyReads is the number of consecutive (0, nil) reads tolerated before giving up
const maxEmptyReads = 100

// ReadFull reads exactly len(buf) bytes from r, accumulating partial reads.
//
// A peer close before the first byte returns common.ErrPeerClosed, a close after
// some but not all bytes returns io.ErrUnexpectedEOF.
func ReadFull(r io.Reader, buf []byte) (int, error) {
	n, empty := 0, 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		switch {
		case n == len(buf):
			return n, nil
		case errors.Is(err, io.EOF):
			if n == 0 {
				return 0, common.ErrPeerClosed
			}
			return n, io.ErrUnexpectedEOF
		case err != nil:
			return n, err
		case m == 0:
			empty++
			if empty >= maxEmptyReads {
				return n, io.ErrNoProgress
			}
		default:
			empty = 0
		}
	}
	return n, nil
}

// WriteFull writes all of buf to w, accumulating partial writes.
// A write that makes no progress means the peer is gone and returns common.ErrPeerClosed.
func WriteFull(w io.Writer, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := w.Write(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, common.ErrPeerClosed
		}
	}
	return n, nil
}

// IsClosed reports whether err was caused by closing the local socket
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// MapCanceled translates socket aborts into common.ErrCanceled, other errors pass unchanged
func MapCanceled(err error) error {
	if err == nil || errors.Is(err, common.ErrCanceled) {
		return err
	}
	if IsClosed(err) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", common.ErrCanceled, err)
	}
	return err
}
