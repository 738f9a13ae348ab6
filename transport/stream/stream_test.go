package stream

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/transport"
	"github.com/ValentinKolb/rawnet/transport/base"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/ValentinKolb/rawnet/transport/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func echoHandler(_ net.Addr, request []byte, response []byte) (int, bool) {
	return copy(response, request), true
}

func testConfig(network string, framing common.FramingMode, size int) common.Config {
	conf := common.DefaultConfig(network)
	conf.Framing = framing
	conf.PacketSize = size
	conf.TimeoutSecond = 5
	return conf
}

func startReader(t *testing.T, conf common.Config, address string, handler transport.RequestHandler) *Reader {
	t.Helper()
	socket, err := base.NewSocket(conf.Network, conf.Socket)
	require.NoError(t, err)

	r, err := NewReader(socket, conf, handler)
	require.NoError(t, err)
	require.NoError(t, r.Bind(address))
	require.NoError(t, r.Start(2))
	t.Cleanup(func() { r.Close() })
	return r
}

func connectWriter(t *testing.T, conf common.Config, remote string) *Writer {
	t.Helper()
	socket, err := base.NewSocket(conf.Network, conf.Socket)
	require.NoError(t, err)

	w, err := NewWriter(socket, conf)
	require.NoError(t, err)
	require.NoError(t, w.Connect(remote))
	t.Cleanup(func() { w.Close() })
	return w
}

func roundTrip(t *testing.T, w *Writer, payload []byte) []byte {
	t.Helper()
	n, err := w.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, w.conf.PacketSize)
	n, err = w.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

// assertReaderDrained checks that a closed reader returned every buffer and state object
func assertReaderDrained(t *testing.T, r *Reader) {
	t.Helper()
	assert.EqualValues(t, 0, r.ActiveOperations())
	assert.EqualValues(t, 0, r.BufferStats().Outstanding(), "buffers leaked")
	stats := r.StateStats()
	assert.Equal(t, stats.Rented, stats.Returned, "state objects leaked")
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestEchoVariableFraming tests round trips of frames with different sizes over tcp
func TestEchoVariableFraming(t *testing.T) {
	conf := testConfig("tcp", common.FramingVariable, 256)
	r := startReader(t, conf, "127.0.0.1:0", echoHandler)
	w := connectWriter(t, conf, r.LocalAddr().String())

	for _, size := range []int{0, 1, 9, 100, 255, 256} {
		payload := bytes.Repeat([]byte{byte(size)}, size)
		assert.Equal(t, payload, roundTrip(t, w, payload), "size %d", size)
	}

	// reconnect on the same writer
	require.NoError(t, w.Disconnect(true))
	assert.False(t, w.Connected())
	require.NoError(t, w.Connect(r.LocalAddr().String()))
	assert.Equal(t, []byte("again"), roundTrip(t, w, []byte("again")))

	require.NoError(t, w.Close())
	require.Eventually(t, func() bool { return r.LiveConnections() == 0 }, 2*time.Second, time.Millisecond)
	require.NoError(t, r.Close())
	assertReaderDrained(t, r)

	stats := w.StateStats()
	assert.Equal(t, stats.Rented, stats.Returned)
	assert.EqualValues(t, 0, w.BufferStats().Outstanding())
}

// TestEchoFixedFraming tests that fixed frames are padded to the packet size
func TestEchoFixedFraming(t *testing.T) {
	conf := testConfig("unix", common.FramingFixed, 32)
	r := startReader(t, conf, filepath.Join(t.TempDir(), "fixed.sock"), echoHandler)
	w := connectWriter(t, conf, r.LocalAddr().String())

	got := roundTrip(t, w, []byte("PING-0001"))
	require.Len(t, got, 32)
	assert.Equal(t, []byte("PING-0001"), got[:9])
	assert.Equal(t, make([]byte, 23), got[9:])

	got = roundTrip(t, w, []byte("P2"))
	assert.Equal(t, []byte("P2"), got[:2])
	assert.Equal(t, make([]byte, 30), got[2:], "no residue of the previous frame")
}

// TestPartialIO tests that frames delivered one byte at a time are assembled before dispatch
func TestPartialIO(t *testing.T) {
	for _, framing := range []common.FramingMode{common.FramingVariable, common.FramingFixed} {
		t.Run(string(framing), func(t *testing.T) {
			conf := testConfig("tcp", framing, 64)

			var mu sync.Mutex
			var seen [][]byte
			handler := func(remote net.Addr, request []byte, response []byte) (int, bool) {
				mu.Lock()
				seen = append(seen, append([]byte(nil), request...))
				mu.Unlock()
				return copy(response, request), true
			}

			l, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			r, err := NewReader(base.NewListenerSocket(fake.NewChunkedListener(l, 1)), conf, handler)
			require.NoError(t, err)
			require.NoError(t, r.Start(1))
			defer r.Close()

			conn, err := fake.Dial("tcp", l.Addr().String(), 1)
			require.NoError(t, err)
			defer conn.Close()

			payloads := [][]byte{[]byte("first frame"), []byte("second, a bit longer frame")}
			buf := make([]byte, frameCapacity(conf))
			for _, p := range payloads {
				n := copy(payloadSlot(conf, buf), p)
				_, err := writeFrame(conn, conf, buf, n)
				require.NoError(t, err)

				resp := make([]byte, frameCapacity(conf))
				got, err := readFrame(conn, conf, resp, time.Second)
				require.NoError(t, err)
				assert.Equal(t, p, got[:len(p)])
			}

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, seen, len(payloads))
			for i, p := range payloads {
				assert.Equal(t, p, seen[i][:len(p)], "handler must see the complete frame")
			}
		})
	}
}

// TestConnectionIsolation tests that concurrent connections only see their own frames
// and that a broken connection does not affect the others
func TestConnectionIsolation(t *testing.T) {
	conf := testConfig("tcp", common.FramingVariable, 128)
	r := startReader(t, conf, "127.0.0.1:0", echoHandler)
	addr := r.LocalAddr().String()

	// a peer announcing a frame above the packet size is disconnected
	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer bad.Close()
	header := make([]byte, frame.StreamHeaderSize)
	require.NoError(t, frame.StreamHeader{DataLength: 4096}.Serialize(header))
	_, err = bad.Write(header)
	require.NoError(t, err)

	const clients = 8
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for c := range clients {
		w := connectWriter(t, conf, addr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, conf.PacketSize)
			for i := range 50 {
				msg := []byte(fmt.Sprintf("client-%d-frame-%d", c, i))
				if _, err := w.Write(msg); err != nil {
					errs <- err
					return
				}
				n, err := w.Read(buf)
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(msg, buf[:n]) {
					errs <- fmt.Errorf("client %d expected %q, got %q", c, msg, buf[:n])
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = base.ReadFull(bad, make([]byte, 1))
	assert.ErrorIs(t, err, common.ErrPeerClosed, "the reader must close the broken connection")
}

// TestCloseDrainsServingConnections tests that Close waits for running handlers
func TestCloseDrainsServingConnections(t *testing.T) {
	gate := make(chan struct{})
	var entered atomic.Int32
	handler := func(remote net.Addr, request []byte, response []byte) (int, bool) {
		entered.Add(1)
		<-gate
		return copy(response, request), true
	}

	conf := testConfig("tcp", common.FramingVariable, 64)
	r := startReader(t, conf, "127.0.0.1:0", handler)

	const k = 4
	for range k {
		w := connectWriter(t, conf, r.LocalAddr().String())
		f := w.WriteAsync([]byte("slow"))
		_, err := f.Result()
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return entered.Load() == k }, 2*time.Second, time.Millisecond)
	assert.Equal(t, k, r.LiveConnections())

	closed := make(chan error, 1)
	go func() { closed <- r.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while handlers were still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the handlers finished")
	}

	assert.Equal(t, 0, r.LiveConnections())
	assertReaderDrained(t, r)
}

// TestWriterAsync tests the asynchronous writer operations
func TestWriterAsync(t *testing.T) {
	conf := testConfig("tcp", common.FramingVariable, 64)
	r := startReader(t, conf, "127.0.0.1:0", echoHandler)

	socket, err := base.NewSocket("tcp", conf.Socket)
	require.NoError(t, err)
	w, err := NewWriter(socket, conf)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.ConnectAsync(r.LocalAddr().String()).Result()
	require.NoError(t, err)
	assert.True(t, w.Connected())
	assert.Equal(t, r.LocalAddr().String(), w.RemoteAddr().String())

	buf := make([]byte, 64)
	read := w.ReadAsync(buf)
	n, err := w.WriteAsync([]byte("async frame")).Result()
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	n, err = read.Result()
	require.NoError(t, err)
	assert.Equal(t, "async frame", string(buf[:n]))

	_, err = w.DisconnectAsync(false).Result()
	require.NoError(t, err)
	assert.False(t, w.Connected())

	_, err = w.Write([]byte("gone"))
	assert.ErrorIs(t, err, common.ErrNotConnected)
}

// TestWriterErrors tests validation and state errors of the writer
func TestWriterErrors(t *testing.T) {
	conf := testConfig("tcp", common.FramingVariable, 16)
	socket, err := base.NewSocket("tcp", conf.Socket)
	require.NoError(t, err)
	w, err := NewWriter(socket, conf)
	require.NoError(t, err)

	_, err = w.Write(make([]byte, 17))
	assert.ErrorIs(t, err, common.ErrPayloadTooLarge)
	f := w.WriteAsync(make([]byte, 17))
	require.True(t, f.Completed())
	assert.Equal(t, uint64(0), w.BufferStats().Rented, "oversized payloads must not touch the pools")
	assert.Equal(t, int64(0), w.StateStats().Rented)

	_, err = w.Read(make([]byte, 16))
	assert.ErrorIs(t, err, common.ErrNotConnected)
	assert.ErrorIs(t, w.Disconnect(true), common.ErrNotConnected)

	_, err = NewWriter(socket, testConfig("tcp", "chunked", 16))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Connect("127.0.0.1:1"), common.ErrShutdown)
}

// TestWriterReadCanceledByClose tests that a pending read resolves as canceled when the writer closes
func TestWriterReadCanceledByClose(t *testing.T) {
	conf := testConfig("tcp", common.FramingVariable, 64)
	conf.TimeoutSecond = 0
	silent := func(net.Addr, []byte, []byte) (int, bool) { return 0, false }
	r := startReader(t, conf, "127.0.0.1:0", silent)

	socket, err := base.NewSocket("tcp", conf.Socket)
	require.NoError(t, err)
	w, err := NewWriter(socket, conf)
	require.NoError(t, err)
	require.NoError(t, w.Connect(r.LocalAddr().String()))

	f := w.ReadAsync(make([]byte, 64))
	_, err = w.Write([]byte("no answer"))
	require.NoError(t, err)
	assert.False(t, f.Completed())

	require.NoError(t, w.Close())
	assert.True(t, f.Canceled())
}

// TestShutdownStopsServingConnections tests that an accepted connection answers no
// frame after Shutdown and is torn down without waiting for Close
func TestShutdownStopsServingConnections(t *testing.T) {
	conf := testConfig("tcp", common.FramingVariable, 64)
	r := startReader(t, conf, "127.0.0.1:0", echoHandler)
	w := connectWriter(t, conf, r.LocalAddr().String())

	assert.Equal(t, []byte("before-shutdown"), roundTrip(t, w, []byte("before-shutdown")))
	require.Equal(t, 1, r.LiveConnections())

	r.Shutdown()
	require.Eventually(t, func() bool { return r.LiveConnections() == 0 }, 2*time.Second, 5*time.Millisecond)

	// the write may or may not reach the closed peer, the read must never see an answer
	_, _ = w.Write([]byte("after-shutdown"))
	buf := make([]byte, conf.PacketSize)
	n, err := w.Read(buf)
	assert.Error(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.Close())
	assertReaderDrained(t, r)
}
