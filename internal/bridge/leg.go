package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the message-oriented socket a leg runs over. *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// controlWriter is implemented by sockets that can send a close frame.
type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Dialer opens the AI leg.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial connects to url. The context bounds the handshake.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

const closeFrameTimeout = time.Second

// leg serializes writes to one socket and makes Close idempotent.
type leg struct {
	name string
	conn Conn

	wsMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

func newLeg(name string, conn Conn) *leg {
	return &leg{name: name, conn: conn}
}

// send writes one text frame.
func (l *leg) send(data []byte) error {
	if l.isClosed() {
		return &SendError{Leg: l.name, Err: ErrTransportClosed}
	}

	l.wsMu.Lock()
	defer l.wsMu.Unlock()

	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &SendError{Leg: l.name, Err: err}
	}
	return nil
}

func (l *leg) isClosed() bool {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	return l.closed
}

// close sends a normal close frame when possible and closes the socket.
// Later calls are no-ops.
func (l *leg) close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	l.closeMu.Unlock()

	if cw, ok := l.conn.(controlWriter); ok {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = cw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameTimeout))
	}
	return l.conn.Close()
}
