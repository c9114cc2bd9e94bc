package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/edupinhata/naval-gunbound-war/internal/config"
	"github.com/edupinhata/naval-gunbound-war/internal/exporter"
	"github.com/edupinhata/naval-gunbound-war/internal/feed"
	"github.com/edupinhata/naval-gunbound-war/internal/relay"
	"github.com/edupinhata/naval-gunbound-war/internal/store"
	"github.com/edupinhata/naval-gunbound-war/internal/stream"
	"github.com/edupinhata/naval-gunbound-war/internal/token"
	"github.com/edupinhata/naval-gunbound-war/internal/webui"
)

const maxTokenBytes = 256

type Recorder interface {
	Record(ev store.Event)
}

type Publisher interface {
	Publish(ctx context.Context, msg []byte) error
}

type API struct {
	cfg     *config.Config
	reg     *relay.Registry
	tokens  *token.Deriver
	log     zerolog.Logger
	ledger  exporter.EventLister
	rec     Recorder
	pub     Publisher
	feed    *feed.Feed
	limiter *rate.Limiter

	upgrader websocket.Upgrader
}

type Option func(*API)

// WithLedger enables GET /events and lifecycle recording.
func WithLedger(ledger exporter.EventLister, rec Recorder) Option {
	return func(a *API) {
		a.ledger = ledger
		a.rec = rec
	}
}

// WithFeed shares an existing live feed instead of a private one.
func WithFeed(f *feed.Feed) Option {
	return func(a *API) { a.feed = f }
}

// WithPublisher forwards every local broadcast to other instances.
func WithPublisher(p Publisher) Option {
	return func(a *API) { a.pub = p }
}

func New(cfg *config.Config, reg *relay.Registry, tokens *token.Deriver, log zerolog.Logger, opts ...Option) *API {
	a := &API{
		cfg:    cfg,
		reg:    reg,
		tokens: tokens,
		feed:   feed.New(),
		log:    log.With().Str("component", "api").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if cfg.API.BroadcastRate > 0 {
		burst := cfg.API.BroadcastBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.API.BroadcastRate), burst)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(a.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.reg.Stats())
	})

	// POST /token: the caller's address is hashed into its token.
	r.Post("/token", a.handleToken)

	// GET /stream?token=...: held open, one framed line per message.
	r.Get("/stream", a.handleStream)

	// GET /ws?token=...: same as /stream, one websocket text message per message.
	r.Get("/ws", a.handleWebSocket)

	r.With(limit(a.limiter)).Post("/broadcast", a.handleBroadcast)

	r.Post("/delete", a.handleDelete)

	// GET /events?format=json|csv&limit=N
	r.Get("/events", a.handleEvents)

	// SSE feed of lifecycle events as they happen.
	r.Get("/events/live", a.handleLive)

	// Web UI
	if ui, err := webui.Handler(); err == nil {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/ui/", http.StatusFound)
		})
		r.Handle("/ui/*", http.StripPrefix("/ui", ui))
	}

	return r
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	tok := a.tokens.Derive(r.RemoteAddr)

	status := http.StatusCreated
	kind := store.KindRegistered
	if !a.reg.Create(tok) {
		status = http.StatusOK
		kind = store.KindDuplicate
		a.log.Debug().Err(relay.ErrDuplicateRegistration).Str("token", tok).Msg("token reissued")
	}
	a.record(kind, tok, r, nil)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(tok))
}

func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}
	if !a.reg.Has(tok) {
		a.log.Debug().Err(relay.ErrUnknownToken).Str("token", tok).Msg("stream rejected")
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}

	// Headers go out before the channel is reachable by Broadcast.
	ch := stream.NewHTTP(w, a.cfg.API.WriteTimeout)
	if err := ch.Open("text/plain; charset=utf-8"); err != nil {
		a.log.Warn().Err(err).Str("token", tok).Msg("open stream")
		return
	}
	if !a.reg.Attach(tok, ch) {
		// removed after the check; the stream ends empty
		_ = ch.Close()
		return
	}
	a.record(store.KindAttached, tok, r, map[string]int{"websocket": 0})
	a.park(r, tok, ch)
}

func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}
	if !a.reg.Has(tok) {
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		a.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	ch := stream.NewWebSocket(conn, a.cfg.API.WriteTimeout)
	if !a.reg.Attach(tok, ch) {
		// removed between the check and the upgrade
		_ = ch.Close()
		return
	}
	a.record(store.KindAttached, tok, r, map[string]int{"websocket": 1})
	a.park(r, tok, ch)
}

type doneChannel interface {
	relay.Channel
	Done() <-chan struct{}
}

// park blocks until the peer goes away or the registry closes ch. ch is
// closed on return even when Detach missed it: a remove or prune may have
// unlinked it without closing it yet, and a broadcast holding an older
// snapshot must not reach the writer after the handler returns.
func (a *API) park(r *http.Request, tok string, ch doneChannel) {
	select {
	case <-r.Context().Done():
	case <-ch.Done():
	}
	if a.reg.Detach(tok, ch) {
		a.record(store.KindDetached, tok, r, nil)
	}
	_ = ch.Close()
}

func (a *API) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.API.MaxMessageBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	rep := a.reg.Broadcast(body)
	if a.pub != nil {
		if err := a.pub.Publish(r.Context(), body); err != nil {
			a.log.Warn().Err(err).Msg("cluster publish")
		}
	}
	a.record(store.KindBroadcast, "", r, map[string]int{
		"bytes":     len(body),
		"clients":   rep.Clients,
		"delivered": rep.Delivered,
		"pruned":    rep.Pruned,
	})
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTokenBytes))
	if err != nil {
		http.Error(w, "bad token", http.StatusBadRequest)
		return
	}
	tok := string(bytes.TrimSpace(body))
	if tok == "" || !a.reg.Remove(tok) {
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}
	a.record(store.KindRemoved, tok, r, nil)
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		http.Error(w, "event ledger disabled", http.StatusNotFound)
		return
	}
	format := r.URL.Query().Get("format")
	limit := 1000
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	b, ct, err := exporter.Export(r.Context(), a.ledger, format, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// handleLive streams lifecycle events as SSE until the peer goes away.
func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := a.feed.Subscribe(256)
	defer a.feed.Unsubscribe(sub)

	// comment line opens the stream
	_, _ = w.Write([]byte(": ok\n\n"))
	if err := rc.Flush(); err != nil {
		a.log.Warn().Err(err).Msg("live feed: streaming unsupported")
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case b, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(b)
			_, _ = w.Write([]byte("\n\n"))
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (a *API) record(kind, tok string, r *http.Request, detail map[string]int) {
	a.feed.Publish(feed.Event{Kind: kind, Token: tok, Detail: detail})
	if a.rec == nil {
		return
	}
	a.rec.Record(store.Event{
		Kind:   kind,
		Token:  store.Ptr(tok),
		Remote: store.Ptr(r.RemoteAddr),
		Detail: detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
