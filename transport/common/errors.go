package common

import "errors"

// --------------------------------------------------------------------------
// Configuration errors (fatal, never retried)
// --------------------------------------------------------------------------

var (
	// ErrInvalidConfig is returned for inconsistent configuration values
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrDatagramTooLarge is returned if the configured datagram size exceeds the transport capacity
	ErrDatagramTooLarge = errors.New("datagram size exceeds the maximum datagram payload")
	// ErrPayloadTooLarge is returned if a caller tries to write more than the configured packet size
	ErrPayloadTooLarge = errors.New("payload exceeds the configured packet size")
	// ErrNotBound is returned if a connection is started before it was bound
	ErrNotBound = errors.New("connection is not bound")
	// ErrUnsupportedNetwork is returned for networks the transports do not implement
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// --------------------------------------------------------------------------
// Lifecycle errors
// --------------------------------------------------------------------------

var (
	// ErrShutdown is returned if an operation is issued after shutdown was requested
	ErrShutdown = errors.New("connection is shutting down")
	// ErrCanceled resolves pending futures whose operation was aborted by closing the socket
	ErrCanceled = errors.New("operation canceled")
	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("connection already started")
	// ErrNotConnected is returned by stream writer operations without an established connection
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect on a connected stream writer
	ErrAlreadyConnected = errors.New("already connected")
)

// --------------------------------------------------------------------------
// Stream errors
// --------------------------------------------------------------------------

var (
	// ErrPeerClosed signals that the peer closed the stream at a frame boundary.
	// It ends a connection loop normally and is not logged as an error.
	ErrPeerClosed = errors.New("peer closed the connection")
	// ErrFrameTooLarge is returned if a frame header announces more data than the packet size
	ErrFrameTooLarge = errors.New("frame exceeds the configured packet size")
)
