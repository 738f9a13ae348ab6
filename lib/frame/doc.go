// Package frame implements the fixed-size packet headers used by the rawnet
// transports. The codec is pure: it never allocates, holds no state and can be
// used concurrently from any number of goroutines.
//
// Two header layouts exist:
//
//   - StreamHeader: length-only framing for stream transports.
//     Layout: [int32 DataLength]
//
//   - PacketHeader: typed framing used by the dispatch layer and the typed
//     datagram wire format.
//     Layout: [uint16 Type][int32 DataLength]
//
// All integers are encoded in network byte order (big endian), independent of
// the host platform. The data segment always follows the header directly in
// the same buffer.
package frame
