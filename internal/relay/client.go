package relay

import (
	"sync"

	"github.com/rs/zerolog"
)

// Delivery summarizes one Deliver call.
type Delivery struct {
	Delivered int `json:"delivered"`
	Pruned    int `json:"pruned"`
}

// Client is the registry record for one token. It owns the channels
// attached to that token; channels that fail a write are pruned.
type Client struct {
	token string
	log   zerolog.Logger

	mu     sync.Mutex
	links  map[Channel]*link
	closed bool
}

func newClient(token string, log zerolog.Logger) *Client {
	return &Client{
		token: token,
		log:   log.With().Str("token", token).Logger(),
		links: make(map[Channel]*link),
	}
}

func (c *Client) Token() string { return c.token }

// Channels returns the number of channels currently attached.
func (c *Client) Channels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}

// Deliver writes msg, framed, to every attached channel. A failing channel
// is closed and dropped; the others still get the message.
func (c *Client) Deliver(msg []byte) Delivery {
	links := c.snapshot()
	if len(links) == 0 {
		return Delivery{}
	}

	frame := Frame(msg)
	var d Delivery
	for _, l := range links {
		if err := l.send(frame); err != nil {
			// a concurrent detach or remove may have dropped l already
			if c.prune(l, err) {
				d.Pruned++
			}
			continue
		}
		d.Delivered++
	}
	return d
}

func (c *Client) snapshot() []*link {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*link, 0, len(c.links))
	for _, l := range c.links {
		out = append(out, l)
	}
	return out
}

func (c *Client) add(ch Channel) (*link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	if l, ok := c.links[ch]; ok {
		return l, true
	}
	l := newLink(ch)
	c.links[ch] = l
	return l, true
}

// unlink drops l from the set if it is still the current link for its channel.
func (c *Client) unlink(l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.links[l.ch]; ok && cur == l {
		delete(c.links, l.ch)
		return true
	}
	return false
}

// prune drops and closes l after a failed send. It reports false when l
// was no longer attached.
func (c *Client) prune(l *link, cause error) bool {
	if !c.unlink(l) {
		return false
	}
	c.log.Debug().Err(cause).Str("channel", l.id).Msg("pruning channel")
	if err := l.close(); err != nil {
		c.log.Debug().Err(err).Str("channel", l.id).Msg("close after failed write")
	}
	return true
}

func (c *Client) detach(ch Channel) bool {
	c.mu.Lock()
	l, ok := c.links[ch]
	if ok {
		delete(c.links, ch)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if err := l.close(); err != nil {
		c.log.Warn().Err(err).Str("channel", l.id).Msg("close detached channel")
	}
	return true
}

// closeAll marks the client closed so later attaches fail, then closes
// every channel it still owns.
func (c *Client) closeAll() int {
	c.mu.Lock()
	c.closed = true
	links := make([]*link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.links = make(map[Channel]*link)
	c.mu.Unlock()

	for _, l := range links {
		if err := l.close(); err != nil {
			c.log.Warn().Err(err).Str("channel", l.id).Msg("close channel")
		}
	}
	return len(links)
}
