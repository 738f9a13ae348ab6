package common

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Networks and framing
// --------------------------------------------------------------------------

// FramingMode selects how frames are delimited on stream connections
type FramingMode string

const (
	// FramingFixed uses frames of exactly PacketSize bytes without header
	FramingFixed FramingMode = "fixed"
	// FramingVariable prefixes every frame with an int32 length header
	FramingVariable FramingMode = "variable"
)

// IsDatagramNetwork reports whether network is a connectionless network
func IsDatagramNetwork(network string) bool {
	switch network {
	case "udp", "udp4", "udp6":
		return true
	}
	return false
}

// IsStreamNetwork reports whether network is a connection oriented network
func IsStreamNetwork(network string) bool {
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Transport configuration struct
// --------------------------------------------------------------------------

// PoolConf sizes the buffer and state object pools of a connection
type PoolConf struct {
	// BucketSize is the largest buffer size class that is pooled
	BucketSize int
	// BuffersPerBucket is the number of idle buffers kept per size class
	BuffersPerBucket int
	// PreallocatedStates is the number of state objects created up front
	PreallocatedStates int
	// MaxRetainedStates is the number of idle state objects kept
	MaxRetainedStates int
}

// SocketConf holds options applied to every socket
type SocketConf struct {
	WriteBufferSize int  // SO_SNDBUF in bytes, 0 keeps the OS default
	ReadBufferSize  int  // SO_RCVBUF in bytes, 0 keeps the OS default
	ReuseAddr       bool // SO_REUSEADDR
}

// TCPConf holds options applied to stream connections
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // < 0 keeps the OS default
}

// Config holds all configuration parameters for readers and writers
type Config struct {
	// Network is one of udp, udp4, udp6, tcp, tcp4, tcp6, unix
	Network string
	// Endpoint is the local (readers) or remote (writers) address, used by the CLI
	Endpoint string

	// PacketSize is the datagram size or the maximum (variable) / exact (fixed) frame payload
	PacketSize int
	// Framing selects the stream framing, ignored for datagrams
	Framing FramingMode
	// Concurrency is the number of parallel receive or accept loops
	Concurrency uint16
	// Backlog is the listen backlog for stream readers, 0 selects SOMAXCONN
	Backlog int
	// TimeoutSecond is the per operation read/write timeout, 0 disables timeouts
	TimeoutSecond int

	Pool   PoolConf
	Socket SocketConf
	TCP    TCPConf

	// Logging configuration
	LogLevel string
}

// DefaultConfig returns the default configuration for a network
func DefaultConfig(network string) Config {
	return Config{
		Network:     network,
		PacketSize:  1024,
		Framing:     FramingVariable,
		Concurrency: 4,
		Pool: PoolConf{
			BucketSize:         64 * 1024,
			BuffersPerBucket:   256,
			PreallocatedStates: 16,
			MaxRetainedStates:  1024,
		},
		Socket: SocketConf{
			ReuseAddr: true,
		},
		TCP: TCPConf{
			TCPNoDelay:   true,
			TCPLingerSec: -1,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values that can never work
func (c *Config) Validate() error {
	if !IsDatagramNetwork(c.Network) && !IsStreamNetwork(c.Network) {
		return fmt.Errorf("%w: %q", ErrUnsupportedNetwork, c.Network)
	}
	if c.PacketSize <= 0 {
		return fmt.Errorf("%w: packet size must be positive, got %d", ErrInvalidConfig, c.PacketSize)
	}
	if IsStreamNetwork(c.Network) && c.Framing != FramingFixed && c.Framing != FramingVariable {
		return fmt.Errorf("%w: unknown framing %q", ErrInvalidConfig, c.Framing)
	}
	if c.Pool.PreallocatedStates < 0 || c.Pool.MaxRetainedStates < 0 || c.Pool.BuffersPerBucket < 0 {
		return fmt.Errorf("%w: pool sizes must not be negative", ErrInvalidConfig)
	}
	if c.TimeoutSecond < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Transport settings
	addSection("Transport")
	addField("Network", c.Network)
	addField("Endpoint", c.Endpoint)
	addField("Packet Size", fmt.Sprintf("%d bytes", c.PacketSize))
	if IsStreamNetwork(c.Network) {
		addField("Framing", string(c.Framing))
		addField("Backlog", fmt.Sprintf("%d", c.Backlog))
	}
	addField("Concurrency", fmt.Sprintf("%d", c.Concurrency))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Pools
	addSection("Pools")
	addField("Bucket Size", fmt.Sprintf("%d bytes", c.Pool.BucketSize))
	addField("Buffers Per Bucket", fmt.Sprintf("%d", c.Pool.BuffersPerBucket))
	addField("Preallocated States", fmt.Sprintf("%d", c.Pool.PreallocatedStates))
	addField("Max Retained States", fmt.Sprintf("%d", c.Pool.MaxRetainedStates))

	// Socket options
	addSection("Socket")
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Socket.ReadBufferSize))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Socket.WriteBufferSize))
	addField("Reuse Address", fmt.Sprintf("%t", c.Socket.ReuseAddr))
	if c.Network != "unix" && IsStreamNetwork(c.Network) {
		addField("TCP No Delay", fmt.Sprintf("%t", c.TCP.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCP.TCPKeepAliveSec))
		addField("TCP Linger", fmt.Sprintf("%d sec", c.TCP.TCPLingerSec))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
