package relay

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrDuplicateRegistration = errors.New("token already registered")
	ErrUnknownToken          = errors.New("unknown token")
	ErrChannelWrite          = errors.New("channel write failed")
	ErrChannelClose          = errors.New("channel close failed")
)

// Channel is one open delivery path to a recipient: a long-lived HTTP
// response, a websocket, or anything else that can take bytes.
// Implementations must be comparable (pointer types are). Close may be
// called while a Write or Flush is in progress; it must unblock that call
// and refuse every later one.
type Channel interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// link is the registry's handle on an attached Channel. mu serializes
// writes so two deliveries never interleave bytes on the same Channel.
// Closing does not take mu: a send blocked on a stalled peer must not hold
// up Remove or Shutdown. Channels stop accepting writes once Close returns.
type link struct {
	id string
	ch Channel

	mu     sync.Mutex
	closed atomic.Bool
}

func newLink(ch Channel) *link {
	return &link{id: uuid.NewString(), ch: ch}
}

func (l *link) send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return fmt.Errorf("%w: channel %s already closed", ErrChannelWrite, l.id)
	}
	n, err := l.ch.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%w: write: %w", ErrChannelWrite, err)
	}
	if err := l.ch.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrChannelWrite, err)
	}
	return nil
}

func (l *link) close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := l.ch.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClose, err)
	}
	return nil
}
