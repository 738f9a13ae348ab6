// Package common provides the configuration, logging and error definitions
// shared by all rawnet transports and the command line interface.
//
// The package focuses on:
//   - A single configuration struct for readers and writers of all transports
//   - Custom logging implementation integrated with Dragonboat's logger package
//   - Sentinel errors that distinguish configuration errors, cancellation and
//     peer initiated close from transient socket failures
//
// Key Components:
//
//   - Config: packet size, framing mode, concurrency, pool sizing and socket
//     options. Provides defaults per network, validation and a formatted
//     String() for startup logs.
//
//   - Logger: formatter that implements Dragonboat's logger.ILogger so that all
//     packages can obtain their logger with logger.GetLogger(name).
//
//   - Errors: ErrDatagramTooLarge, ErrPayloadTooLarge, ErrNotBound (configuration),
//     ErrCanceled and ErrShutdown (cancellation), ErrPeerClosed (normal end of a
//     stream connection) and friends.
package common
