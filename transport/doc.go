// Package transport defines the contracts shared by the rawnet readers and writers.
// The implementations live in the datagram and stream sub packages and are all built
// on the connection base in transport/base.
//
// The package focuses on:
//   - A single request handler contract for datagram and stream readers
//   - Protecting the transports from failing handlers
//   - Common reader and writer interfaces, so callers can swap udp, tcp and unix sockets
//
// Key Components:
//
//   - RequestHandler: Callback invoked with the remote address, the request bytes and
//     a rented response buffer. Returning false sends nothing back.
//
//   - IReader: Lifecycle of a reader (Bind, Start, Shutdown, Close).
//
//   - IDatagramWriter / IStreamWriter: Synchronous and asynchronous request/response
//     operations of the writers. Asynchronous variants return a base.Future.
package transport
