package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupinhata/naval-gunbound-war/internal/api"
	"github.com/edupinhata/naval-gunbound-war/internal/config"
	"github.com/edupinhata/naval-gunbound-war/internal/relay"
	"github.com/edupinhata/naval-gunbound-war/internal/token"
)

func newServer(t *testing.T) (*httptest.Server, *relay.Registry) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	d, err := token.NewDeriver("", false)
	require.NoError(t, err)
	reg := relay.New(zerolog.Nop())
	srv := httptest.NewServer(api.New(cfg, reg, d, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv, reg
}

func TestClientRoundTrip(t *testing.T) {
	srv, reg := newServer(t)
	c := NewClient(srv.URL+"/", srv.Client())
	ctx := context.Background()

	tok, created, err := c.Token(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = c.Token(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- c.Listen(ctx, tok, func(msg []byte) {
			mu.Lock()
			got = append(got, string(msg))
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool { return reg.Stats().Channels == 1 }, 2*time.Second, 10*time.Millisecond)

	rep, err := c.Send(ctx, []byte("line one\nline two"))
	require.NoError(t, err)
	assert.Equal(t, relay.Report{Clients: 1, Delivered: 1}, rep)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Delete(ctx, tok))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after delete")
	}
	assert.Equal(t, []string{"line one\nline two"}, got)

	assert.ErrorIs(t, c.Delete(ctx, tok), ErrUnknownToken)
	assert.ErrorIs(t, c.Listen(ctx, tok, func([]byte) {}), ErrUnknownToken)
}

func TestCommands(t *testing.T) {
	srv, reg := newServer(t)

	run := func(stdin string, args ...string) (string, error) {
		root := newRoot()
		out := new(bytes.Buffer)
		root.SetOut(out)
		root.SetErr(new(bytes.Buffer))
		root.SetIn(strings.NewReader(stdin))
		root.SetArgs(append([]string{"--server", srv.URL}, args...))
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("", "token")
	require.NoError(t, err)
	tok := strings.TrimSpace(out)
	assert.Len(t, tok, token.Len)
	assert.True(t, reg.Has(tok))

	out, err = run("", "send", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "clients=1 delivered=0 pruned=0\n", out)

	out, err = run("from stdin\n", "send", "-")
	require.NoError(t, err)
	assert.Equal(t, "clients=1 delivered=0 pruned=0\n", out)

	out, err = run("", "delete", "--token", tok)
	require.NoError(t, err)
	assert.Equal(t, "deleted\n", out)

	_, err = run("", "delete", "--token", tok)
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = run("", "listen")
	assert.Error(t, err)
}
