// Package stream implements the rawnet reader and writer for connection oriented
// sockets (tcp, tcp4, tcp6, unix). A byte stream has no message boundaries, so
// every message travels as a frame.
//
// The package focuses on:
//   - Accumulating partial reads and writes until a whole frame has moved
//   - Isolating connections: one broken peer never affects another
//   - Connect, disconnect and reconnect on a single writer socket
//
// Framing:
//
//	fixed     every frame is exactly PacketSize bytes, shorter payloads are zero padded
//	variable  every frame is a 4 byte big endian length header followed by the payload,
//	          lengths above PacketSize or below zero close the connection
//
// Key Components:
//
//   - Reader: Start(concurrency) runs accept loops. Each accepted connection is upgraded
//     with the socket options (UpgradeConnection), registered as live and served by its
//     own read, dispatch, write loop until the peer closes, a frame is invalid or the
//     reader shuts down. Shutdown closes the listener and all live connections.
//
//   - Writer: Connect / ConnectAsync, Disconnect / DisconnectAsync, Write / Read and the
//     asynchronous WriteAsync / ReadAsync. Disconnect(true) keeps the writer usable for
//     another Connect.
package stream
