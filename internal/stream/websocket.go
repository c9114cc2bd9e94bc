package stream

import (
	"bytes"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a relay.Channel over a websocket connection. Bytes written
// between flushes go out as one text message, without the line terminator.
type WebSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewWebSocket starts a reader that drains control frames; the peer going
// away closes Done.
func NewWebSocket(conn *websocket.Conn, writeTimeout time.Duration) *WebSocket {
	ws := &WebSocket{conn: conn, writeTimeout: writeTimeout, done: make(chan struct{})}
	go ws.readLoop()
	return ws
}

func (ws *WebSocket) readLoop() {
	ws.conn.SetReadLimit(4096)
	for {
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			ws.markDone()
			return
		}
	}
}

func (ws *WebSocket) markDone() {
	ws.doneOnce.Do(func() { close(ws.done) })
}

func (ws *WebSocket) Write(p []byte) (int, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return 0, ErrClosed
	}
	return ws.buf.Write(p)
}

func (ws *WebSocket) Flush() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	msg := bytes.TrimSuffix(ws.buf.Bytes(), []byte{'\n'})
	defer ws.buf.Reset()
	if ws.writeTimeout > 0 {
		_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
	}
	return ws.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close is idempotent. A flush blocked on a stalled peer is cut short by
// closing the socket under it.
func (ws *WebSocket) Close() error {
	cut := false
	if !ws.mu.TryLock() {
		cut = true
		_ = ws.conn.UnderlyingConn().Close()
		ws.mu.Lock()
	}
	defer ws.mu.Unlock()
	if ws.closed {
		return nil
	}
	ws.closed = true
	defer ws.markDone()
	if cut {
		return nil
	}
	_ = ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ws.conn.Close()
}

func (ws *WebSocket) Done() <-chan struct{} { return ws.done }
