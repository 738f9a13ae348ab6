// Package dispatch routes typed packets to handlers registered per packet type.
//
// A typed packet is [u16 type][i32 length][payload] in big endian byte order (see
// lib/frame.PacketHeader). The Registry turns a set of packet handlers into a single
// transport.RequestHandler, so it works on top of both the datagram and the stream
// readers. Unknown types, malformed headers and handler errors produce no response
// and are counted in rawnet_dispatch_packets_total.
package dispatch
