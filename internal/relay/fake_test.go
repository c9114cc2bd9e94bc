package relay

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
)

var errBroken = errors.New("broken pipe")

type fakeChannel struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	flushErr error
	closeErr error
	writes   int
	flushes  int
	closes   int

	busy    atomic.Bool
	overlap atomic.Bool

	// onWrite runs before the write, outside mu
	onWrite func()
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.busy.Swap(true) {
		f.overlap.Store(true)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		f.busy.Store(false)
		return 0, f.writeErr
	}
	return f.buf.Write(p)
}

func (f *fakeChannel) Flush() error {
	defer f.busy.Store(false)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.flushErr
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.closeErr
}

func (f *fakeChannel) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

func (f *fakeChannel) counts() (writes, flushes, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes, f.flushes, f.closes
}

// stallChannel blocks in Write until it is closed, like a stream whose peer
// stopped reading.
type stallChannel struct {
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

func newStallChannel() *stallChannel {
	return &stallChannel{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *stallChannel) Write(p []byte) (int, error) {
	s.enterOnce.Do(func() { close(s.entered) })
	<-s.release
	return 0, errBroken
}

func (s *stallChannel) Flush() error { return nil }

func (s *stallChannel) Close() error {
	s.releaseOnce.Do(func() { close(s.release) })
	return nil
}
