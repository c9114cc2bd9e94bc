// Package stream adapts network connections to relay.Channel.
package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

var ErrClosed = errors.New("stream closed")

// HTTP is a relay.Channel over a held-open HTTP response. Closing it
// releases the handler parked on Done, which then returns and lets
// net/http finish the response.
//
// Every write carries a deadline of writeTimeout, so a peer that stops
// reading fails the write instead of holding it forever.
type HTTP struct {
	writeTimeout time.Duration

	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	closed bool
	done   chan struct{}
}

// NewHTTP wraps w. writeTimeout <= 0 means writes have no deadline.
func NewHTTP(w http.ResponseWriter, writeTimeout time.Duration) *HTTP {
	return &HTTP{
		writeTimeout: writeTimeout,
		w:            w,
		rc:           http.NewResponseController(w),
		done:         make(chan struct{}),
	}
}

// Open sends the status line and headers so the peer sees the stream
// start before the first message.
func (h *HTTP) Open(contentType string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	hdr := h.w.Header()
	hdr.Set("Content-Type", contentType)
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")

	defer h.armDeadline()()
	h.w.WriteHeader(http.StatusOK)
	return h.rc.Flush()
}

func (h *HTTP) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	defer h.armDeadline()()
	return h.w.Write(p)
}

func (h *HTTP) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	defer h.armDeadline()()
	return h.rc.Flush()
}

// armDeadline sets the write deadline and returns the func that clears
// it, so an idle stream never trips a stale deadline when net/http ends
// the response. Writers that do not support deadlines (tests) are fine.
func (h *HTTP) armDeadline() func() {
	if h.writeTimeout <= 0 {
		return func() {}
	}
	_ = h.rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return func() { _ = h.rc.SetWriteDeadline(time.Time{}) }
}

// Close is idempotent. A write blocked on a stalled peer is cut short
// rather than waited for; no write starts after Close returns.
func (h *HTTP) Close() error {
	if !h.mu.TryLock() {
		_ = h.rc.SetWriteDeadline(time.Now())
		h.mu.Lock()
		// the write either failed already or finished first
		_ = h.rc.SetWriteDeadline(time.Time{})
	}
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	return nil
}

// Done is closed once the channel is closed.
func (h *HTTP) Done() <-chan struct{} { return h.done }
