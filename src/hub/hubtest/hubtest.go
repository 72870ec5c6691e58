// Package hubtest provides an in-memory connection and helpers for tests
// that drive a hub without a network.
package hubtest

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/collab/src/codec"
	"github.com/orchestra-mcp/collab/src/hub"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// ErrClosed is returned by a closed MockConn.
var ErrClosed = errors.New("connection closed")

// MockConn implements types.Conn. Frames pushed with Push are returned by
// ReadFrame; frames written by the hub are recorded.
type MockConn struct {
	mu       sync.Mutex
	written  [][]byte
	binary   []bool
	pings    int
	in       chan []byte
	closed   bool
	closedCh chan struct{}
	hungUp   bool
	eof      chan struct{}
	stall    chan struct{}
}

func NewMockConn() *MockConn {
	return &MockConn{
		in:       make(chan []byte, 64),
		closedCh: make(chan struct{}),
		eof:      make(chan struct{}),
	}
}

// ReadFrame returns pushed frames in order. After Hangup it returns io.EOF
// once the pushed frames are used up.
func (m *MockConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-m.in:
		return f, nil
	default:
	}
	select {
	case f := <-m.in:
		return f, nil
	case <-m.closedCh:
		return nil, ErrClosed
	case <-m.eof:
		select {
		case f := <-m.in:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}

// WriteFrame records data. While stalled it blocks until Close.
func (m *MockConn) WriteFrame(data []byte, binary bool) error {
	m.mu.Lock()
	stall := m.stall
	m.mu.Unlock()
	if stall != nil {
		select {
		case <-stall:
		case <-m.closedCh:
			return ErrClosed
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.written = append(m.written, append([]byte(nil), data...))
	m.binary = append(m.binary, binary)
	return nil
}

func (m *MockConn) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return nil
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

// Hangup ends the inbound stream like a peer closing its side. Frames pushed
// before the call are still read.
func (m *MockConn) Hangup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hungUp {
		m.hungUp = true
		close(m.eof)
	}
}

// Stall makes writes block, simulating a peer that stopped reading.
func (m *MockConn) Stall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stall == nil {
		m.stall = make(chan struct{})
	}
}

// Pings returns how many pings were written.
func (m *MockConn) Pings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

// Closed reports whether Close was called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Push queues a raw inbound frame.
func (m *MockConn) Push(frame []byte) {
	select {
	case m.in <- frame:
	case <-m.closedCh:
	}
}

// Send encodes env with c and queues it as an inbound frame.
func (m *MockConn) Send(t testing.TB, c codec.Codec, env types.Envelope) {
	t.Helper()
	data, err := c.Marshal(env)
	require.NoError(t, err)
	m.Push(data)
}

// Frames decodes every written frame with c.
func (m *MockConn) Frames(t testing.TB, c codec.Codec) []codec.Frame {
	t.Helper()
	m.mu.Lock()
	written := make([][]byte, len(m.written))
	copy(written, m.written)
	m.mu.Unlock()

	frames := make([]codec.Frame, 0, len(written))
	for _, data := range written {
		f, err := c.Unmarshal(data)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

// Binary reports the frame kind of every written frame.
func (m *MockConn) Binary() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.binary...)
}

// Types returns the type tag of every written frame.
func (m *MockConn) Types(t testing.TB, c codec.Codec) []string {
	t.Helper()
	var kinds []string
	for _, f := range m.Frames(t, c) {
		kinds = append(kinds, f.Type)
	}
	return kinds
}

// Last returns the most recent frame of kind, decoded into v.
func (m *MockConn) Last(t testing.TB, c codec.Codec, kind string, v any) bool {
	t.Helper()
	frames := m.Frames(t, c)
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type != kind {
			continue
		}
		if v != nil && len(frames[i].Raw) > 0 {
			require.NoError(t, c.Decode(frames[i].Raw, v))
		}
		return true
	}
	return false
}

// WaitFor waits until conn has written a frame of kind.
func WaitFor(t testing.TB, conn *MockConn, c codec.Codec, kind string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, k := range conn.Types(t, c) {
			if k == kind {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "waiting for %s", kind)
}

// Count returns how many frames of kind conn has written.
func Count(t testing.TB, conn *MockConn, c codec.Codec, kind string) int {
	t.Helper()
	n := 0
	for _, k := range conn.Types(t, c) {
		if k == kind {
			n++
		}
	}
	return n
}

// NewHub creates a hub and starts its event loop for the test's duration.
func NewHub(t testing.TB) *hub.Hub {
	t.Helper()
	h := hub.New(zerolog.Nop())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

// Connect admits a client with both pumps running and waits until it is
// joined. A nil codec selects JSON.
func Connect(t testing.TB, h *hub.Hub, id, username, room string, c codec.Codec) (*hub.Client, *MockConn) {
	t.Helper()
	conn := NewMockConn()
	client := hub.NewClient(id, username, room, conn, c, h)
	h.Register(client)
	go client.WritePump()
	go client.ReadPump()
	t.Cleanup(func() { conn.Close() })

	if c == nil {
		c = codec.JSON
	}
	WaitFor(t, conn, c, types.TypePeers)
	return client, conn
}

// Settle gives the hub loop and write pumps time to drain. Use it before
// asserting that something was not delivered.
func Settle() {
	time.Sleep(50 * time.Millisecond)
}
