package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var (
	errFakeClosed = errors.New("fake: use of closed connection")
	errFakeHangup = errors.New("fake: peer hung up")
)

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned by
// ReadMessage in order.
type fakeConn struct {
	in chan []byte

	mu       sync.Mutex
	written  [][]byte
	writeErr error

	closed    chan struct{}
	closeOnce sync.Once

	hungUp     chan struct{}
	hangupOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
		hungUp: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errFakeClosed
	case <-c.hungUp:
		return 0, nil, errFakeHangup
	default:
	}

	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	case <-c.hungUp:
		return 0, nil, errFakeHangup
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(frame string) {
	c.in <- []byte(frame)
}

func (c *fakeConn) hangup() {
	c.hangupOnce.Do(func() { close(c.hungUp) })
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// frames decodes every written frame.
func (c *fakeConn) frames(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.written))
	for _, raw := range c.written {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("written frame %s is not JSON: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

// waitFrames polls until at least n frames were written.
func (c *fakeConn) waitFrames(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := c.frames(t); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	frames := c.frames(t)
	t.Fatalf("Expected at least %d frames, got %d: %v", n, len(frames), frames)
	return nil
}

type acquirerFunc func(ctx context.Context) (string, error)

func (f acquirerFunc) SignedURL(ctx context.Context) (string, error) {
	return f(ctx)
}

func staticAcquirer(url string) Acquirer {
	return acquirerFunc(func(context.Context) (string, error) { return url, nil })
}

type dialerFunc func(ctx context.Context, url string) (Conn, error)

func (f dialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

func connDialer(conn Conn) Dialer {
	return dialerFunc(func(context.Context, string) (Conn, error) { return conn, nil })
}

type linkCall struct {
	conversationID string
	callSID        string
}

type fakeLinker struct {
	calls chan linkCall
}

func newFakeLinker() *fakeLinker {
	return &fakeLinker{calls: make(chan linkCall, 4)}
}

func (l *fakeLinker) LinkConversationToCall(_ context.Context, conversationID, callSID string) error {
	l.calls <- linkCall{conversationID: conversationID, callSID: callSID}
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Broadcast(event string, _ any) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *fakeNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// waitEvents polls until at least count events were broadcast.
func (n *fakeNotifier) waitEvents(t *testing.T, count int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := n.seen(); len(events) >= count {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected at least %d events, got %v", count, n.seen())
	return nil
}

// stalledNotifier blocks every Broadcast until release is closed, like a hub
// stuck on a slow observer.
type stalledNotifier struct {
	release chan struct{}
	entered chan string
}

func newStalledNotifier() *stalledNotifier {
	return &stalledNotifier{release: make(chan struct{}), entered: make(chan string, 4)}
}

func (n *stalledNotifier) Broadcast(event string, _ any) {
	n.entered <- event
	<-n.release
}

type fakeRecorder struct {
	mu      sync.Mutex
	relayed map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{relayed: make(map[string]int)}
}

func (r *fakeRecorder) BridgeStarted()            {}
func (r *fakeRecorder) BridgeEnded(time.Duration) {}
func (r *fakeRecorder) SetupFailed(string)        {}
func (r *fakeRecorder) ParseFailed(string)        {}

func (r *fakeRecorder) FrameRelayed(direction string) {
	r.mu.Lock()
	r.relayed[direction]++
	r.mu.Unlock()
}

func (r *fakeRecorder) count(direction string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relayed[direction]
}
