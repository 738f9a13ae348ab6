package dispatch

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
)

var Logger = logger.GetLogger("transport/dispatch")

var (
	// ErrHandlerExists is returned when a packet type already has a handler
	ErrHandlerExists = errors.New("handler already registered for packet type")
	// ErrNilHandler is returned when registering a nil handler
	ErrNilHandler = errors.New("handler must not be nil")
	// ErrResponseWritten is returned by a second write to the same ResponseWriter
	ErrResponseWritten = errors.New("response already written")
)

// ResponseWriter writes the typed response of a packet handler
type ResponseWriter interface {
	// Write encodes one packet with the given type and payload as the response.
	// Only one response can be written per request.
	Write(packetType uint16, payload []byte) error
	// Capacity returns the largest payload that fits into the response
	Capacity() int
}

// PacketHandler handles one typed packet. data is only valid during the call.
// A handler that returns an error or writes nothing sends no response.
type PacketHandler func(remote net.Addr, header frame.PacketHeader, data []byte, w ResponseWriter) error

// Registry dispatches typed packets ([u16 type][i32 length][payload]) to the
// handler registered for their type
type Registry struct {
	handlers *xsync.MapOf[uint16, PacketHandler]

	set        *metrics.Set
	dispatched *metrics.Counter
	unknown    *metrics.Counter
	malformed  *metrics.Counter
	failed     *metrics.Counter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	set := metrics.NewSet()
	return &Registry{
		handlers:   xsync.NewMapOf[uint16, PacketHandler](),
		set:        set,
		dispatched: set.NewCounter(`rawnet_dispatch_packets_total{result="dispatched"}`),
		unknown:    set.NewCounter(`rawnet_dispatch_packets_total{result="unknown_type"}`),
		malformed:  set.NewCounter(`rawnet_dispatch_packets_total{result="malformed"}`),
		failed:     set.NewCounter(`rawnet_dispatch_packets_total{result="handler_error"}`),
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Register adds the handler for packetType
func (r *Registry) Register(packetType uint16, handler PacketHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if _, loaded := r.handlers.LoadOrStore(packetType, handler); loaded {
		return fmt.Errorf("%w: %d", ErrHandlerExists, packetType)
	}
	Logger.Debugf("Registered handler for packet type %d", packetType)
	return nil
}

// Deregister removes the handler for packetType and reports whether one was registered
func (r *Registry) Deregister(packetType uint16) bool {
	_, loaded := r.handlers.LoadAndDelete(packetType)
	return loaded
}

// Registered reports whether packetType has a handler
func (r *Registry) Registered(packetType uint16) bool {
	_, ok := r.handlers.Load(packetType)
	return ok
}

// Handler returns a request handler for the datagram and stream readers
func (r *Registry) Handler() transport.RequestHandler {
	return r.dispatch
}

// WritePrometheus writes the dispatch counters in Prometheus text format
func (r *Registry) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dispatch decodes the packet header and calls the registered handler
func (r *Registry) dispatch(remote net.Addr, request []byte, response []byte) (int, bool) {
	header, err := frame.DeserializePacketHeader(request)
	if err != nil {
		r.malformed.Inc()
		Logger.Warningf("Malformed packet from %s: %v", remote, err)
		return 0, false
	}
	if header.FrameSize() > len(request) {
		r.malformed.Inc()
		Logger.Warningf("Truncated packet of type %d from %s: %d of %d bytes", header.Type, remote, len(request), header.FrameSize())
		return 0, false
	}

	handler, ok := r.handlers.Load(header.Type)
	if !ok {
		r.unknown.Inc()
		Logger.Debugf("No handler for packet type %d from %s", header.Type, remote)
		return 0, false
	}

	w := &responseWriter{buf: response}
	if err := handler(remote, header, request[frame.PacketHeaderSize:header.FrameSize()], w); err != nil {
		r.failed.Inc()
		Logger.Warningf("Handler for packet type %d failed: %v", header.Type, err)
		return 0, false
	}

	r.dispatched.Inc()
	return w.n, w.written
}

// responseWriter encodes a typed response into the rented response buffer
type responseWriter struct {
	buf     []byte
	n       int
	written bool
}

func (w *responseWriter) Write(packetType uint16, payload []byte) error {
	if w.written {
		return ErrResponseWritten
	}
	header := frame.PacketHeader{Type: packetType, DataLength: int32(len(payload))}
	if header.FrameSize() > len(w.buf) {
		return fmt.Errorf("%w: response of %d bytes, capacity %d", frame.ErrShortBuffer, header.FrameSize(), len(w.buf))
	}
	if err := header.Serialize(w.buf); err != nil {
		return err
	}
	copy(w.buf[frame.PacketHeaderSize:], payload)
	w.n, w.written = header.FrameSize(), true
	return nil
}

func (w *responseWriter) Capacity() int {
	return max(0, len(w.buf)-frame.PacketHeaderSize)
}
