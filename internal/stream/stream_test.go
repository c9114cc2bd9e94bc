package stream

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPWriteFlushClose(t *testing.T) {
	rec := httptest.NewRecorder()
	h := NewHTTP(rec, time.Second)

	require.NoError(t, h.Open("text/plain; charset=utf-8"))
	n, err := h.Write([]byte("one\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, h.Flush())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "one\n", rec.Body.String())
	assert.True(t, rec.Flushed)

	select {
	case <-h.Done():
		t.Fatal("done before close")
	default:
	}

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	<-h.Done()

	_, err = h.Write([]byte("late\n"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.Flush(), ErrClosed)
	assert.ErrorIs(t, h.Open("text/plain"), ErrClosed)
	assert.Equal(t, "one\n", rec.Body.String())
}

func TestWebSocketDelivers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	served := make(chan *WebSocket, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := NewWebSocket(conn, time.Second)
		served <- ws
		<-ws.Done()
		_ = ws.Close()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	ws := <-served
	_, err = ws.Write([]byte(`hello\nworld` + "\n"))
	require.NoError(t, err)
	require.NoError(t, ws.Flush())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.Equal(t, `hello\nworld`, string(msg))

	require.NoError(t, conn.Close())
	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer close not observed")
	}

	_ = ws.Close()
	_, err = ws.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

// stalledPeer opens a request to srv and never reads the response.
func stalledPeer(t *testing.T, srv *httptest.Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: relay\r\n\r\n"))
	require.NoError(t, err)
	return conn
}

// fillUntilError writes large chunks to h until one fails.
func fillUntilError(h *HTTP, writing *atomic.Int64) error {
	chunk := bytes.Repeat([]byte("x"), 60<<10)
	for {
		writing.Store(time.Now().UnixNano())
		_, err := h.Write(chunk)
		if err == nil {
			err = h.Flush()
		}
		writing.Store(0)
		if err != nil {
			return err
		}
	}
}

func TestHTTPWriteTimesOutOnStalledPeer(t *testing.T) {
	failed := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := NewHTTP(w, 200*time.Millisecond)
		if err := h.Open("text/plain"); err != nil {
			failed <- err
			return
		}
		var writing atomic.Int64
		failed <- fillUntilError(h, &writing)
	}))
	defer srv.Close()

	stalledPeer(t, srv)

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("write to a stalled peer never failed")
	}
}

func TestHTTPCloseCutsStalledWrite(t *testing.T) {
	served := make(chan *HTTP, 1)
	var writing atomic.Int64
	failed := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no deadline: only Close can end a blocked write
		h := NewHTTP(w, 0)
		if err := h.Open("text/plain"); err != nil {
			failed <- err
			return
		}
		served <- h
		failed <- fillUntilError(h, &writing)
	}))
	defer srv.Close()

	stalledPeer(t, srv)
	h := <-served

	require.Eventually(t, func() bool {
		start := writing.Load()
		return start != 0 && time.Since(time.Unix(0, start)) > 300*time.Millisecond
	}, 15*time.Second, 20*time.Millisecond, "writer never blocked")

	closed := make(chan struct{})
	go func() {
		_ = h.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close waited on a stalled write")
	}
	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stalled write not cut short")
	}
	<-h.Done()
}
