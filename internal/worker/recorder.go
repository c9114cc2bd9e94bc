package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/edupinhata/naval-gunbound-war/internal/store"
)

type Inserter interface {
	InsertEvent(ctx context.Context, ev *store.Event) (int64, error)
}

// Recorder writes ledger events in the background so request handlers
// never wait on the database. When the queue is full events are dropped.
type Recorder struct {
	st    Inserter
	log   zerolog.Logger
	queue chan store.Event
	// per-insert timeout
	timeout time.Duration
}

func NewRecorder(st Inserter, size int, log zerolog.Logger) *Recorder {
	if size <= 0 {
		size = 1024
	}
	return &Recorder{
		st:      st,
		log:     log.With().Str("component", "recorder").Logger(),
		queue:   make(chan store.Event, size),
		timeout: 5 * time.Second,
	}
}

// Record enqueues ev. A nil Recorder ignores it.
func (r *Recorder) Record(ev store.Event) {
	if r == nil {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	select {
	case r.queue <- ev:
	default:
		r.log.Debug().Str("kind", ev.Kind).Msg("queue full, dropping event")
	}
}

// Run drains the queue until ctx is done, then writes whatever is still
// queued before returning.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case ev := <-r.queue:
			r.write(context.Background(), ev)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.queue:
			r.write(context.Background(), ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, ev store.Event) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	if _, err := r.st.InsertEvent(ctx, &ev); err != nil {
		r.log.Warn().Err(err).Str("kind", ev.Kind).Msg("record event")
	}
}
