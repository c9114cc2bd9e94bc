// Package relay holds the token-keyed client registry and the broadcast
// fan-out. It does not know about HTTP; handlers hand it already-extracted
// tokens, message bytes and opaque Channels.
package relay

import (
	"sync"

	"github.com/rs/zerolog"
)

// Report summarizes one Broadcast call.
type Report struct {
	Clients   int `json:"clients"`
	Delivered int `json:"delivered"`
	Pruned    int `json:"pruned"`
}

type Stats struct {
	Clients  int `json:"clients"`
	Channels int `json:"channels"`
}

// Registry maps tokens to clients. The map lock is only held to mutate or
// copy the map; channel I/O always happens outside it.
type Registry struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

func New(log zerolog.Logger) *Registry {
	return &Registry{log: log, clients: make(map[string]*Client)}
}

// Create registers an empty client under token. It returns false if the
// token is already registered (first registration wins) or the registry
// has been shut down.
func (r *Registry) Create(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.clients[token]; ok {
		return false
	}
	r.clients[token] = newClient(token, r.log)
	return true
}

// Has reports whether token is registered.
func (r *Registry) Has(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[token]
	return ok
}

// Remove deregisters token and closes all of its channels. Close errors are
// logged, not returned.
func (r *Registry) Remove(token string) bool {
	r.mu.Lock()
	c, ok := r.clients[token]
	if ok {
		delete(r.clients, token)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	n := c.closeAll()
	r.log.Debug().Str("token", token).Int("channels", n).Msg("client removed")
	return true
}

// Attach adds ch to the client registered under token. On false the caller
// still owns ch and must close it.
func (r *Registry) Attach(token string, ch Channel) bool {
	r.mu.RLock()
	c, ok := r.clients[token]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	l, ok := c.add(ch)
	if !ok {
		// removed between lookup and add
		return false
	}
	r.log.Debug().Str("token", token).Str("channel", l.id).Msg("channel attached")
	return true
}

// Detach removes ch from token's client and closes it. Used when the
// stream behind ch ends on its own.
func (r *Registry) Detach(token string, ch Channel) bool {
	r.mu.RLock()
	c, ok := r.clients[token]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return c.detach(ch)
}

// Broadcast delivers msg to every client registered when the call starts.
func (r *Registry) Broadcast(msg []byte) Report {
	clients := r.snapshot()
	rep := Report{Clients: len(clients)}
	for _, c := range clients {
		d := c.Deliver(msg)
		rep.Delivered += d.Delivered
		rep.Pruned += d.Pruned
	}
	if rep.Pruned > 0 {
		r.log.Info().Int("pruned", rep.Pruned).Msg("dropped dead channels during broadcast")
	}
	return rep
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) Stats() Stats {
	clients := r.snapshot()
	st := Stats{Clients: len(clients)}
	for _, c := range clients {
		st.Channels += c.Channels()
	}
	return st
}

// Shutdown removes every client and closes every channel. Create and
// Attach fail afterwards. Safe to call more than once.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	var channels int
	for _, c := range clients {
		channels += c.closeAll()
	}
	if len(clients) > 0 {
		r.log.Info().Int("clients", len(clients)).Int("channels", channels).Msg("registry drained")
	}
}

func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
