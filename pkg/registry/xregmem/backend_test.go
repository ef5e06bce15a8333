package xregmem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// fakeClock 手动推进的时钟
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

func newBackend(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	b := New(opts...)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func recv(t *testing.T, ch <-chan xregistry.Change) xregistry.Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "feed closed")
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for change")
		return xregistry.Change{}
	}
}

func TestBackend_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	_, err := b.Get(ctx, "/a")
	require.ErrorIs(t, err, xregistry.ErrNodeNotFound)

	c, err := b.Put(ctx, "", "/a", "1", false)
	require.NoError(t, err)
	assert.Equal(t, xregistry.EventAdd, c.Type)
	assert.Equal(t, int64(1), c.Revision)
	assert.Equal(t, int64(0), c.Version)

	c, err = b.Put(ctx, "", "/a", "2", false)
	require.NoError(t, err)
	assert.Equal(t, xregistry.EventUpdate, c.Type)
	assert.Equal(t, int64(2), c.Revision)
	assert.Equal(t, int64(1), c.Version)

	n, err := b.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, xregistry.Node{Path: "/a", Value: "2", Version: 1, CreateRevision: 1}, n)

	c, existed, err := b.Delete(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, xregistry.EventRemove, c.Type)
	assert.Empty(t, c.Value)

	_, existed, err = b.Delete(ctx, "/a")
	require.NoError(t, err)
	assert.False(t, existed)

	rev, err := b.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev, "no-op delete does not bump revision")
}

func TestBackend_EphemeralRules(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	_, err := b.Put(ctx, "missing", "/e", "v", true)
	require.ErrorIs(t, err, xregistry.ErrSessionExpired)

	s, err := b.OpenSession(ctx, time.Minute)
	require.NoError(t, err)
	_, err = b.Put(ctx, s, "/e", "v", true)
	require.NoError(t, err)
	_, err = b.Put(ctx, s, "/e", "v", false)
	require.ErrorIs(t, err, xregistry.ErrEphemeralMismatch)

	n, err := b.Get(ctx, "/e")
	require.NoError(t, err)
	assert.Equal(t, s, n.Owner)

	require.NoError(t, b.CloseSession(ctx, s))
	_, err = b.Get(ctx, "/e")
	require.ErrorIs(t, err, xregistry.ErrNodeNotFound)
	require.ErrorIs(t, b.CloseSession(ctx, s), xregistry.ErrSessionExpired)
	require.ErrorIs(t, b.KeepAlive(ctx, s), xregistry.ErrSessionExpired)
}

func TestBackend_SessionTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := newBackend(t, WithClock(clock.Now))

	s, err := b.OpenSession(ctx, 10*time.Second)
	require.NoError(t, err)
	_, err = b.Put(ctx, s, "/e", "v", true)
	require.NoError(t, err)

	clock.Advance(8 * time.Second)
	require.NoError(t, b.KeepAlive(ctx, s))
	clock.Advance(8 * time.Second)
	require.NoError(t, b.KeepAlive(ctx, s), "keepalive extends the deadline")
	assert.Equal(t, 1, b.Sessions())

	clock.Advance(11 * time.Second)
	require.ErrorIs(t, b.KeepAlive(ctx, s), xregistry.ErrSessionExpired)
	_, err = b.Get(ctx, "/e")
	require.ErrorIs(t, err, xregistry.ErrNodeNotFound)
	assert.Equal(t, 0, b.Sessions())
}

func TestBackend_FailKeepAliveAndExpire(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	s, err := b.OpenSession(ctx, time.Minute)
	require.NoError(t, err)

	b.FailKeepAlive(s, true)
	require.ErrorIs(t, b.KeepAlive(ctx, s), ErrInjected)
	b.FailKeepAlive(s, false)
	require.NoError(t, b.KeepAlive(ctx, s))

	b.Expire(s)
	require.ErrorIs(t, b.KeepAlive(ctx, s), xregistry.ErrSessionExpired)
}

func TestBackend_List(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	for _, p := range []string{"/a", "/a/b", "/a/b/c", "/ab", "/x"} {
		_, err := b.Put(ctx, "", p, "", false)
		require.NoError(t, err)
	}

	paths, err := b.List(ctx, "/a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/a/b", "/a/b/c"}, paths)

	paths, err = b.List(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, paths, 5)

	paths, err = b.List(ctx, "/missing")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestBackend_WatchReplayAndLive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := newBackend(t)

	_, err := b.Put(ctx, "", "/a", "1", false)
	require.NoError(t, err)
	_, err = b.Put(ctx, "", "/b", "1", false)
	require.NoError(t, err)

	feed, err := b.Watch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "/b", recv(t, feed).Path, "replays history after the given revision")

	_, err = b.Put(ctx, "", "/c", "1", false)
	require.NoError(t, err)
	c := recv(t, feed)
	assert.Equal(t, "/c", c.Path)
	assert.Equal(t, int64(3), c.Revision)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-feed
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestBackend_WatchPollingCollapses(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, WithPollInterval(200*time.Millisecond))

	feed, err := b.Watch(ctx, 0)
	require.NoError(t, err)
	_, err = b.Put(ctx, "", "/a", "1", false)
	require.NoError(t, err)
	_, err = b.Put(ctx, "", "/a", "2", false)
	require.NoError(t, err)
	_, err = b.Put(ctx, "", "/b", "1", false)
	require.NoError(t, err)

	first := recv(t, feed)
	assert.Equal(t, "/a", first.Path)
	assert.Equal(t, "2", first.Value)
	assert.Equal(t, xregistry.EventUpdate, first.Type)
	assert.Equal(t, "/b", recv(t, feed).Path)
}

func TestBackend_HistoryTruncation(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, WithHistorySize(2))
	for range 6 {
		_, err := b.Put(ctx, "", "/a", "v", false)
		require.NoError(t, err)
	}

	feed, err := b.Watch(ctx, 0)
	require.NoError(t, err)
	c := recv(t, feed)
	assert.Greater(t, c.Revision, int64(1), "oldest revisions are gone")
}

func TestBackend_Close(t *testing.T) {
	ctx := context.Background()
	b := New()
	feed, err := b.Watch(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, b.Close(ctx))
	require.NoError(t, b.Close(ctx))
	_, ok := <-feed
	assert.False(t, ok)

	_, err = b.OpenSession(ctx, time.Second)
	require.ErrorIs(t, err, ErrClosed)
	_, err = b.Watch(ctx, 0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
}
