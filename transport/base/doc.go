// Package base provides the connection base shared by all rawnet readers and writers,
// independent of the concrete transport (datagram or stream).
//
// The package focuses on:
//   - Owning exactly one OS socket per connection, created and bound with raw system calls
//   - Pooled buffers and state objects per connection, never shared globally
//   - The active operation barrier that blocks disposal until all in-flight work drained
//   - Futures for the asynchronous variants of every operation
//   - Partial I/O accumulation for stream framing
//
// Key Components:
//
//   - Socket: Wraps one OS socket. Bind creates the descriptor with golang.org/x/sys/unix
//     and binds it; PacketConn, Listen and Connect hand it to the runtime poller. A second
//     Bind propagates the kernel error (EINVAL on Linux).
//
//   - Connection: Generic life cycle (Created, Bound, Started, ShuttingDown, Disposed).
//     BeginOperation admits an operation and rents its state object under the barrier
//     lock, EndOperation returns it and wakes the disposer once nothing is active.
//     Close is the drain protocol: cancel the shutdown token, close the socket (which
//     aborts in-flight calls), wait for zero active operations and dispose the state pool.
//
//   - Canary: Embedded in every state object to detect double returns. Detected
//     double returns are logged and counted in rawnet_state_double_returns_total.
//
//   - Future: Resolves exactly once. Operations that were aborted by closing the socket
//     resolve with common.ErrCanceled.
//
//   - ReadFull / WriteFull: Accumulate until a frame is complete. A peer close at a
//     frame boundary is reported as common.ErrPeerClosed, not as a failure.
//
// Execution Model:
//
//	An asynchronous operation is a goroutine that runs one blocking socket call and then
//	the completion function of its component. Synchronous variants run the same function
//	inline, so both share one completion path.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use.
package base
