// Package feed fans lifecycle events out to live observers (the /events/live
// SSE endpoint). Delivery is best effort: a subscriber whose buffer is full
// misses the event instead of stalling the publisher.
package feed

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	TS     time.Time      `json:"ts"`
	Kind   string         `json:"kind"`
	Token  string         `json:"token,omitempty"`
	Detail map[string]int `json:"detail,omitempty"`
}

type Subscription struct {
	C       <-chan []byte
	ch      chan []byte
	dropped atomic.Int64
}

// Dropped reports how many events this subscriber missed.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

type Feed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func New() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

func (f *Feed) Subscribe(buf int) *Subscription {
	ch := make(chan []byte, buf)
	s := &Subscription{C: ch, ch: ch}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

// Unsubscribe is safe to call more than once.
func (f *Feed) Unsubscribe(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s]; !ok {
		return
	}
	delete(f.subs, s)
	close(s.ch)
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Publish encodes ev once and offers it to every subscriber.
func (f *Feed) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		select {
		case s.ch <- b:
		default:
			s.dropped.Add(1)
		}
	}
}
