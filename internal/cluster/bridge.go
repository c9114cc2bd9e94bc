// Package cluster relays broadcasts between daemon instances over Redis
// pub/sub, so a message posted to any instance reaches clients attached to
// all of them.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edupinhata/naval-gunbound-war/internal/relay"
)

var ErrRedisNotReady = errors.New("redis did not become ready")

type Broadcaster interface {
	Broadcast(msg []byte) relay.Report
}

type envelope struct {
	Origin string `json:"origin"`
	Body   []byte `json:"body"`
}

// Connect parses url and pings the server, retrying a few times.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for range 3 {
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		_ = rdb.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	return nil, ErrRedisNotReady
}

type Bridge struct {
	rdb     *redis.Client
	channel string
	origin  string
	local   Broadcaster
	log     zerolog.Logger
}

func New(rdb *redis.Client, channel string, local Broadcaster, log zerolog.Logger) *Bridge {
	origin := uuid.NewString()
	return &Bridge{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		local:   local,
		log:     log.With().Str("component", "cluster").Str("origin", origin).Logger(),
	}
}

// Publish announces msg to the other instances. Local delivery is the
// caller's job; this instance skips its own envelopes.
func (b *Bridge) Publish(ctx context.Context, msg []byte) error {
	payload, err := json.Marshal(envelope{Origin: b.origin, Body: msg})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.channel, err)
	}
	return nil
}

// Run subscribes and delivers remote broadcasts until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Msg("cluster bridge subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(m.Payload)
		}
	}
}

func (b *Bridge) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn().Err(err).Msg("bad envelope")
		return
	}
	if env.Origin == b.origin {
		return
	}
	rep := b.local.Broadcast(env.Body)
	b.log.Debug().Str("from", env.Origin).Int("clients", rep.Clients).Int("delivered", rep.Delivered).Msg("remote broadcast")
}

func (b *Bridge) Close() error {
	return b.rdb.Close()
}
