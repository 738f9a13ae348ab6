package base

import (
	"context"
	"errors"
	"github.com/ValentinKolb/rawnet/transport/common"
	"net"
	"sync"
)

// ReadResult is the result of an asynchronous datagram read
type ReadResult struct {
	N      int
	Remote net.Addr
}

// Future is the result of one asynchronous operation. It resolves exactly once.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture creates an unresolved future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved creates a future that already completed, used when an operation finished inline
func Resolved[T any](value T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(value, err)
	return f
}

// Resolve completes the future. Only the first call has an effect, it reports whether it resolved the future.
func (f *Future[T]) Resolve(value T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel that is closed once the future resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Completed reports whether the future already resolved, it never blocks
func (f *Future[T]) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Canceled reports whether the future resolved because its operation was aborted
func (f *Future[T]) Canceled() bool {
	return f.Completed() && errors.Is(f.err, common.ErrCanceled)
}

// Result blocks until the future resolved and returns its value
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Wait blocks until the future resolved or ctx is done.
// Giving up on the wait does not cancel the operation itself.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
