// Package datagram implements the rawnet reader and writer for connectionless
// sockets (udp, udp4, udp6). Every datagram is one complete message, so no
// accumulation or framing is needed.
//
// The package focuses on:
//   - Continuous receive loops that re-arm before processing a completion
//   - Servicing arbitrarily many peers without per peer state
//   - Synchronous and asynchronous writer operations sharing one completion function
//
// Key Components:
//
//   - Reader: Runs Start(concurrency) receive loops. When a receive completes the next
//     receive is armed first, then the request is passed to the handler, the request
//     buffer is returned and the response is sent from a separately rented buffer.
//     A failing handler is logged and treated as "no response".
//
//   - Writer: Write / Read and the asynchronous WriteAsync / ReadAsync. Payloads larger
//     than the configured datagram size fail with common.ErrPayloadTooLarge before
//     any pool is touched.
//
// Limits:
//
//	The datagram size is validated against MaxDatagramSize (65535 - 28 - 6 bytes),
//	larger sizes fail with common.ErrDatagramTooLarge when the reader or writer is created.
package datagram
