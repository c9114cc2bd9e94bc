package relay

import (
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDeliverWritesAndFlushes(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	ch := &fakeChannel{}
	_, ok := c.add(ch)
	require.True(t, ok)

	d := c.Deliver([]byte("hi"))

	assert.Equal(t, Delivery{Delivered: 1}, d)
	assert.Equal(t, "hi\n", ch.String())
	writes, flushes, closes := ch.counts()
	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, flushes)
	assert.Equal(t, 0, closes)
}

func TestClientDeliverNoChannels(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	assert.Equal(t, Delivery{}, c.Deliver([]byte("nobody")))
}

func TestClientPrunesFailedWrite(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	bad := &fakeChannel{writeErr: errBroken}
	good := &fakeChannel{}
	c.add(bad)
	c.add(good)

	d := c.Deliver([]byte("m"))

	assert.Equal(t, Delivery{Delivered: 1, Pruned: 1}, d)
	assert.Equal(t, "m\n", good.String())
	assert.Equal(t, 1, c.Channels())
	_, _, closes := bad.counts()
	assert.Equal(t, 1, closes)

	// the pruned channel is not written again
	c.Deliver([]byte("m2"))
	writes, _, _ := bad.counts()
	assert.Equal(t, 1, writes)
	assert.Equal(t, "m\nm2\n", good.String())
}

func TestClientPrunesFailedFlush(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	ch := &fakeChannel{flushErr: errBroken}
	c.add(ch)

	d := c.Deliver([]byte("m"))

	assert.Equal(t, Delivery{Pruned: 1}, d)
	assert.Equal(t, 0, c.Channels())
}

func TestClientPruneIgnoresCloseError(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	ch := &fakeChannel{writeErr: errBroken, closeErr: errBroken}
	c.add(ch)

	assert.NotPanics(t, func() { c.Deliver([]byte("m")) })
	assert.Equal(t, 0, c.Channels())
}

func TestClientAddSameChannelTwice(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	ch := &fakeChannel{}
	l1, _ := c.add(ch)
	l2, _ := c.add(ch)

	assert.Same(t, l1, l2)
	assert.Equal(t, 1, c.Channels())
}

func TestClientAddAfterClose(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	ch := &fakeChannel{}
	c.add(ch)

	assert.Equal(t, 1, c.closeAll())
	_, ok := c.add(&fakeChannel{})
	assert.False(t, ok)
	_, _, closes := ch.counts()
	assert.Equal(t, 1, closes)
}

func TestClientConcurrentDeliverDoesNotInterleave(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	ch := &fakeChannel{}
	c.add(ch)

	const n = 50
	msg := strings.Repeat("x", 512)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Deliver([]byte(msg))
		}()
	}
	wg.Wait()

	assert.False(t, ch.overlap.Load(), "writes overlapped on one channel")
	lines := strings.Split(strings.TrimSuffix(ch.String(), "\n"), "\n")
	require.Len(t, lines, n)
	for _, l := range lines {
		assert.Equal(t, msg, l)
	}
}

func TestClientDetach(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	ch := &fakeChannel{}
	c.add(ch)

	assert.True(t, c.detach(ch))
	assert.False(t, c.detach(ch))
	assert.Equal(t, 0, c.Channels())
	_, _, closes := ch.counts()
	assert.Equal(t, 1, closes)
}

func TestClientDeliverDoesNotCountPruneItLost(t *testing.T) {
	c := newClient("t1", zerolog.Nop())
	ch := &fakeChannel{writeErr: errBroken}
	ch.onWrite = func() { c.detach(ch) }
	c.add(ch)

	d := c.Deliver([]byte("m"))

	assert.Equal(t, Delivery{}, d)
	assert.Equal(t, 0, c.Channels())
	_, _, closes := ch.counts()
	assert.Equal(t, 1, closes)
}
