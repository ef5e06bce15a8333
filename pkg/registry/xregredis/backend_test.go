package xregredis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xreg/pkg/registry/xregistry"
	"github.com/omeyang/xreg/pkg/registry/xregtest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBackend(t *testing.T, opts ...Option) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := New(client, append([]Option{WithPollInterval(20 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b, mr
}

func recv(t *testing.T, ch <-chan xregistry.Change) xregistry.Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "feed closed")
		require.NoError(t, c.Err)
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for change")
		return xregistry.Change{}
	}
}

func TestConformance(t *testing.T) {
	xregtest.Run(t, func(t *testing.T) xregistry.Backend {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		b, err := New(client, WithPollInterval(20*time.Millisecond))
		require.NoError(t, err)
		return b
	})
}

func TestNew_NilClient(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNilClient)
}

func TestBackend_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	_, err := b.Get(ctx, "/a")
	require.ErrorIs(t, err, xregistry.ErrNodeNotFound)

	c, err := b.Put(ctx, "", "/a", "1", false)
	require.NoError(t, err)
	assert.Equal(t, xregistry.Change{Type: xregistry.EventAdd, Path: "/a", Value: "1", Revision: 1}, c)

	c, err = b.Put(ctx, "", "/a", "2", false)
	require.NoError(t, err)
	assert.Equal(t, xregistry.EventUpdate, c.Type)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, int64(2), c.Revision)

	n, err := b.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, xregistry.Node{Path: "/a", Value: "2", Version: 1, CreateRevision: 1}, n)

	c, existed, err := b.Delete(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, int64(3), c.Revision)
	assert.Equal(t, int64(1), c.Version)

	_, existed, err = b.Delete(ctx, "/a")
	require.NoError(t, err)
	assert.False(t, existed)

	rev, err := b.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)
}

func TestBackend_Ephemeral(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	_, err := b.Put(ctx, "nope", "/e", "v", true)
	require.ErrorIs(t, err, xregistry.ErrSessionExpired)

	s, err := b.OpenSession(ctx, time.Minute)
	require.NoError(t, err)
	_, err = b.Put(ctx, s, "/e", "v", true)
	require.NoError(t, err)
	_, err = b.Put(ctx, s, "/e", "v", false)
	require.ErrorIs(t, err, xregistry.ErrEphemeralMismatch)

	n, err := b.Get(ctx, "/e")
	require.NoError(t, err)
	assert.True(t, n.Ephemeral)
	assert.Equal(t, s, n.Owner)

	require.NoError(t, b.KeepAlive(ctx, s))
	require.NoError(t, b.CloseSession(ctx, s))
	_, err = b.Get(ctx, "/e")
	require.ErrorIs(t, err, xregistry.ErrNodeNotFound)
	require.ErrorIs(t, b.KeepAlive(ctx, s), xregistry.ErrSessionExpired)
	require.ErrorIs(t, b.CloseSession(ctx, s), xregistry.ErrSessionExpired)
}

func TestBackend_ExpiredSessionReapedByKeepAlive(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b, mr := newTestBackend(t, WithClock(clock.Now))

	short, err := b.OpenSession(ctx, time.Second)
	require.NoError(t, err)
	long, err := b.OpenSession(ctx, time.Minute)
	require.NoError(t, err)
	_, err = b.Put(ctx, short, "/svc/a", "", true)
	require.NoError(t, err)
	_, err = b.Put(ctx, long, "/svc/b", "", true)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	clock.Advance(2 * time.Second)
	require.NoError(t, b.KeepAlive(ctx, long))

	_, err = b.Get(ctx, "/svc/a")
	require.ErrorIs(t, err, xregistry.ErrNodeNotFound)
	_, err = b.Get(ctx, "/svc/b")
	require.NoError(t, err)
	require.ErrorIs(t, b.KeepAlive(ctx, short), xregistry.ErrSessionExpired)

	feed, err := b.Watch(ctx, 2)
	require.NoError(t, err)
	c := recv(t, feed)
	assert.Equal(t, xregistry.EventRemove, c.Type)
	assert.Equal(t, "/svc/a", c.Path)
}

func TestBackend_List(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	for _, p := range []string{"/a", "/a/b", "/a/b/c", "/ab", "/a0", "/b"} {
		_, err := b.Put(ctx, "", p, "", false)
		require.NoError(t, err)
	}

	paths, err := b.List(ctx, "/a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/a/b", "/a/b/c"}, paths)

	paths, err = b.List(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, paths, 6)

	paths, err = b.List(ctx, "/zzz")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestBackend_WatchResumesAndCollapses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, _ := newTestBackend(t)

	_, err := b.Put(ctx, "", "/a", "1", false)
	require.NoError(t, err)
	_, err = b.Put(ctx, "", "/a", "2", false)
	require.NoError(t, err)
	_, err = b.Put(ctx, "", "/b", "1", false)
	require.NoError(t, err)

	feed, err := b.Watch(ctx, 0)
	require.NoError(t, err)
	c := recv(t, feed)
	assert.Equal(t, "/a", c.Path)
	assert.Equal(t, "2", c.Value, "one batch collapses per path")
	assert.Equal(t, int64(2), c.Revision)
	assert.Equal(t, "/b", recv(t, feed).Path)

	_, err = b.Put(ctx, "", "/c", "1", false)
	require.NoError(t, err)
	c = recv(t, feed)
	assert.Equal(t, "/c", c.Path)
	assert.Equal(t, int64(4), c.Revision)

	resumed, err := b.Watch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "/c", recv(t, resumed).Path)
}

func TestBackend_StreamTrimmed(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t, WithStreamMaxLen(2))
	for range 5 {
		_, err := b.Put(ctx, "", "/a", "v", false)
		require.NoError(t, err)
	}
	_, err := b.Put(ctx, "", "/b", "v", false)
	require.NoError(t, err)

	feed, err := b.Watch(ctx, 0)
	require.NoError(t, err)
	c := recv(t, feed)
	assert.Equal(t, int64(5), c.Revision, "only the retained tail is replayed")
}

func TestBackend_WatchErrorOnServerLoss(t *testing.T) {
	b, mr := newTestBackend(t)
	feed, err := b.Watch(context.Background(), 0)
	require.NoError(t, err)

	mr.Close()
	select {
	case c, ok := <-feed:
		require.True(t, ok)
		require.Error(t, c.Err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "feed did not report the failure")
	}
	_, ok := <-feed
	assert.False(t, ok)
}

func TestBackend_Close(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	feed, err := b.Watch(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, b.Close(ctx))
	require.NoError(t, b.Close(ctx))
	for range feed {
	}
	_, err = b.Revision(ctx)
	require.ErrorIs(t, err, ErrClosed)
	_, err = b.Watch(ctx, 0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	_, err := Open(ctx, Config{})
	require.ErrorIs(t, err, ErrNoAddrs)

	b, err := Open(ctx, Config{Addrs: []string{mr.Addr()}, KeyPrefix: "{test}"})
	require.NoError(t, err)
	_, err = b.Put(ctx, "", "/a", "v", false)
	require.NoError(t, err)
	assert.True(t, mr.Exists("{test}:n:/a"))
	require.NoError(t, b.Close(ctx))
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Addrs: []string{"localhost:6379"}}
	cfg.applyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultKeyPrefix, cfg.KeyPrefix)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)

	cfg.PollInterval = -1
	require.Error(t, cfg.Validate())
}
