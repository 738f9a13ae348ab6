// Package fake provides controllable in-memory sockets for testing the rawnet transports.
//
// Key Components:
//
//   - PacketConn: net.PacketConn backed by an eapache/queue inbox. Read delays and
//     write errors can be injected to make races between completions and shutdown observable.
//
//   - Network: Routes datagrams between fake PacketConns by address.
//
//   - ChunkedConn: Wraps a net.Conn and splits every Read and Write into chunks,
//     down to a single byte, to exercise partial I/O handling. ChunkedListener does
//     the same for every accepted connection.
package fake
