package xregtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// Factory 为每个子测试创建后端，Run 在子测试结束时关闭它
type Factory func(t *testing.T) xregistry.Backend

// Option 套件选项
type Option func(*suite)

// WithEventTimeout 设置等待事件或状态迁移的上限，轮询型后端需放宽
func WithEventTimeout(d time.Duration) Option {
	return func(s *suite) {
		if d > 0 {
			s.eventTimeout = d
		}
	}
}

// WithRegistryOptions 追加创建 Registry 时的选项
func WithRegistryOptions(opts ...xregistry.Option) Option {
	return func(s *suite) {
		s.regOpts = append(s.regOpts, opts...)
	}
}

type suite struct {
	factory      Factory
	eventTimeout time.Duration
	regOpts      []xregistry.Option
}

var runSeq atomic.Int64

// Run 针对 factory 创建的后端执行全部一致性用例
func Run(t *testing.T, factory Factory, opts ...Option) {
	s := &suite{factory: factory, eventTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}

	cases := []struct {
		name string
		fn   func(t *testing.T, e *env)
	}{
		{"Lifecycle", s.testLifecycle},
		{"ConnectUntilTimeout", s.testConnectUntilTimeout},
		{"ConnectionStateListener", s.testConnectionStateListener},
		{"PutGetDelete", s.testPutGetDelete},
		{"Version", s.testVersion},
		{"ExistsAndChildren", s.testExistsAndChildren},
		{"EphemeralMismatch", s.testEphemeralMismatch},
		{"InvalidPath", s.testInvalidPath},
		{"EphemeralRemovedOnClose", s.testEphemeralRemovedOnClose},
		{"SessionLost", s.testSessionLost},
		{"SubscribePathOnly", s.testSubscribePathOnly},
		{"SubscribeSubtree", s.testSubscribeSubtree},
		{"SubscribeNoReplay", s.testSubscribeNoReplay},
		{"Unsubscribe", s.testUnsubscribe},
		{"ListenerPanic", s.testListenerPanic},
		{"Lock", s.testLock},
		{"TryAcquireLockTimeout", s.testTryAcquireLockTimeout},
		{"TryAcquireLockZeroTimeout", s.testTryAcquireLockZeroTimeout},
		{"LockIgnoresOtherChildren", s.testLockIgnoresOtherChildren},
		{"LockHandoff", s.testLockHandoff},
		{"LockFIFO", s.testLockFIFO},
		{"LockReleasedOnSessionLost", s.testLockReleasedOnSessionLost},
		{"CloseWakesLockWaiters", s.testCloseWakesLockWaiters},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			backend := factory(t)
			require.NotNil(t, backend)
			t.Cleanup(func() {
				_ = backend.Close(context.Background())
			})
			c.fn(t, &env{
				suite:   s,
				backend: backend,
				root:    fmt.Sprintf("/xregtest/%d-%s", runSeq.Add(1), strings.ToLower(c.name)),
			})
		})
	}
}

// env 单个用例的后端与路径空间
type env struct {
	*suite
	backend xregistry.Backend
	root    string
}

func (e *env) path(segments ...string) string {
	return xregistry.Join(e.root, segments...)
}

// newRegistry 创建但不启动 Registry，测试结束时关闭
func (e *env) newRegistry(t *testing.T) *xregistry.Registry {
	t.Helper()
	opts := append([]xregistry.Option{
		xregistry.WithSessionTimeout(10 * time.Second),
		xregistry.WithHeartbeatInterval(200 * time.Millisecond),
		xregistry.WithConnectTimeout(5 * time.Second),
		xregistry.WithLockRecheckInterval(200 * time.Millisecond),
	}, e.regOpts...)
	reg, err := xregistry.New(e.backend, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = reg.Close(context.Background())
	})
	return reg
}

func (e *env) started(t *testing.T) *xregistry.Registry {
	t.Helper()
	reg := e.newRegistry(t)
	require.NoError(t, reg.Start(context.Background()))
	return reg
}

// recorder 收集事件的监听器
type recorder struct {
	scope  xregistry.Scope
	events chan xregistry.Event
}

func newRecorder(scope xregistry.Scope) *recorder {
	return &recorder{scope: scope, events: make(chan xregistry.Event, 256)}
}

func (r *recorder) Notify(ev xregistry.Event) { r.events <- ev }
func (r *recorder) Scope() xregistry.Scope    { return r.scope }

func (e *env) next(t *testing.T, r *recorder) xregistry.Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(e.eventTimeout):
		require.FailNow(t, "timed out waiting for event")
		return xregistry.Event{}
	}
}

func (e *env) expect(t *testing.T, r *recorder, typ xregistry.EventType, path string) xregistry.Event {
	t.Helper()
	ev := e.next(t, r)
	require.Equal(t, typ, ev.Type, "event on %s", ev.Path)
	require.Equal(t, path, ev.Path)
	return ev
}

func (e *env) quiet(t *testing.T, r *recorder, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.events:
		require.FailNow(t, "unexpected event", "%s %s", ev.Type, ev.Path)
	case <-time.After(d):
	}
}

func (e *env) eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, e.eventTimeout, 20*time.Millisecond, msg)
}

func (s *suite) testLifecycle(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.newRegistry(t)

	assert.False(t, reg.IsConnected())
	assert.Equal(t, xregistry.StateDisconnected, reg.State())
	_, err := reg.Get(ctx, e.path("a"))
	require.ErrorIs(t, err, xregistry.ErrNotStarted)
	require.ErrorIs(t, reg.Put(ctx, e.path("a"), "v", false), xregistry.ErrNotStarted)

	require.NoError(t, reg.Start(ctx))
	assert.True(t, reg.IsConnected())
	assert.NotEmpty(t, reg.SessionID())
	require.NoError(t, reg.Start(ctx), "second Start is a no-op")

	require.NoError(t, reg.Close(ctx))
	require.NoError(t, reg.Close(ctx), "Close is idempotent")
	assert.False(t, reg.IsConnected())
	assert.Equal(t, xregistry.StateClosed, reg.State())

	_, err = reg.Get(ctx, e.path("a"))
	require.ErrorIs(t, err, xregistry.ErrClosed)
	_, err = reg.AcquireLock(ctx, e.path("lock"))
	require.ErrorIs(t, err, xregistry.ErrClosed)
	require.ErrorIs(t, reg.Start(ctx), xregistry.ErrClosed)
}

func (s *suite) testConnectUntilTimeout(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.newRegistry(t)
	require.ErrorIs(t, reg.ConnectUntilTimeout(ctx, 10*time.Millisecond), xregistry.ErrNotStarted)

	require.NoError(t, reg.Start(ctx))
	require.NoError(t, reg.ConnectUntilTimeout(ctx, time.Second))

	require.NoError(t, reg.Close(ctx))
	start := time.Now()
	require.ErrorIs(t, reg.ConnectUntilTimeout(ctx, 5*time.Second), xregistry.ErrClosed)
	assert.Less(t, time.Since(start), time.Second)
}

func (s *suite) testConnectionStateListener(t *testing.T, e *env) {
	reg := e.newRegistry(t)
	states := make(chan xregistry.ConnectionState, 16)
	reg.AddConnectionStateListener(func(s xregistry.ConnectionState) { states <- s })

	require.NoError(t, reg.Start(context.Background()))
	deadline := time.After(e.eventTimeout)
	for {
		select {
		case st := <-states:
			if st == xregistry.StateConnected {
				return
			}
		case <-deadline:
			require.FailNow(t, "listener did not observe CONNECTED")
		}
	}
}

func (s *suite) testPutGetDelete(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("node")

	_, err := reg.Get(ctx, p)
	require.ErrorIs(t, err, xregistry.ErrNoNode)
	assert.Equal(t, xregistry.KindNoNode, xregistry.KindOf(err))

	require.NoError(t, reg.Put(ctx, p, "v1", false))
	v, err := reg.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, reg.Put(ctx, p, "v2", false))
	v, err = reg.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, reg.Delete(ctx, p))
	require.NoError(t, reg.Delete(ctx, p), "Delete of missing node succeeds")
	_, err = reg.Get(ctx, p)
	require.ErrorIs(t, err, xregistry.ErrNoNode)

	require.NoError(t, reg.Put(ctx, p, "", false))
	v, err = reg.Get(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, v, "empty value is stored")
}

func (s *suite) testVersion(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("versioned")

	require.NoError(t, reg.Put(ctx, p, "a", true))
	n, err := reg.GetNode(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n.Version)
	assert.True(t, n.Ephemeral)
	assert.Equal(t, reg.SessionID(), n.Owner)

	require.NoError(t, reg.Put(ctx, p, "b", true))
	require.NoError(t, reg.Put(ctx, p, "c", true))
	n, err = reg.GetNode(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Version)
	assert.Equal(t, "c", n.Value)

	require.NoError(t, reg.Delete(ctx, p))
	require.NoError(t, reg.Put(ctx, p, "d", false))
	n, err = reg.GetNode(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n.Version, "recreate resets version")
	assert.False(t, n.Ephemeral)
	assert.Empty(t, n.Owner)
}

func (s *suite) testExistsAndChildren(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)

	require.NoError(t, reg.Put(ctx, e.path("a", "b", "c"), "x", false))
	require.NoError(t, reg.Put(ctx, e.path("a", "d"), "y", false))
	require.NoError(t, reg.Put(ctx, e.path("a", "b", "e"), "z", false))

	ok, err := reg.Exists(ctx, e.path("a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Exists(ctx, e.path("a"))
	require.NoError(t, err)
	assert.False(t, ok, "intermediate path does not exist")

	children, err := reg.Children(ctx, e.path("a"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "d"}, children)

	children, err = reg.Children(ctx, e.path("a", "b"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c", "e"}, children)

	children, err = reg.Children(ctx, e.path("missing"))
	require.NoError(t, err)
	assert.Empty(t, children)

	children, err = reg.Children(ctx, e.path("a", "b", "c"))
	require.NoError(t, err)
	assert.Empty(t, children, "leaf has no children")
}

func (s *suite) testEphemeralMismatch(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("flag")

	require.NoError(t, reg.Put(ctx, p, "v", true))
	err := reg.Put(ctx, p, "v", false)
	require.ErrorIs(t, err, xregistry.ErrBackend)
	require.ErrorIs(t, err, xregistry.ErrEphemeralMismatch)

	v, err := reg.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func (s *suite) testInvalidPath(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	for _, p := range []string{"", "a", "/a/", "/a//b"} {
		err := reg.Put(ctx, p, "v", false)
		require.ErrorIs(t, err, xregistry.ErrInvalidPath, "path %q", p)
	}
}

func (s *suite) testEphemeralRemovedOnClose(t *testing.T, e *env) {
	ctx := context.Background()
	owner := e.started(t)
	observer := e.started(t)
	p := e.path("members", "worker-1")

	rec := newRecorder(xregistry.ScopeSubtree)
	_, err := observer.Subscribe(ctx, e.path("members"), rec)
	require.NoError(t, err)

	require.NoError(t, owner.Put(ctx, p, "host:1", true))
	e.expect(t, rec, xregistry.EventAdd, p)

	require.NoError(t, owner.Close(ctx))
	ev := e.expect(t, rec, xregistry.EventRemove, p)
	assert.Empty(t, ev.Value)

	ok, err := observer.Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func (s *suite) testSessionLost(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.newRegistry(t)
	lost := make(chan struct{})
	var once sync.Once
	reg.AddConnectionStateListener(func(st xregistry.ConnectionState) {
		if st == xregistry.StateLost {
			once.Do(func() { close(lost) })
		}
	})
	require.NoError(t, reg.Start(ctx))
	observer := e.started(t)
	p := e.path("ephemeral")
	require.NoError(t, reg.Put(ctx, p, "v", true))

	require.NoError(t, e.backend.CloseSession(ctx, reg.SessionID()))

	select {
	case <-lost:
	case <-time.After(e.eventTimeout):
		require.FailNow(t, "session loss not detected")
	}
	assert.Equal(t, xregistry.StateLost, reg.State())
	assert.False(t, reg.IsConnected())

	err := reg.Put(ctx, e.path("after-loss"), "v", false)
	require.ErrorIs(t, err, xregistry.ErrConnectLost)
	_, err = reg.AcquireLock(ctx, e.path("lock"))
	require.ErrorIs(t, err, xregistry.ErrConnectLost)

	e.eventually(t, func() bool {
		ok, err := observer.Exists(ctx, p)
		return err == nil && !ok
	}, "ephemeral node should be removed with its session")

	// 读操作不受影响
	_, err = reg.Get(ctx, p)
	require.ErrorIs(t, err, xregistry.ErrNoNode)
}

func (s *suite) testSubscribePathOnly(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("watched")

	rec := newRecorder(xregistry.ScopePathOnly)
	sub, err := reg.Subscribe(ctx, p, rec)
	require.NoError(t, err)
	assert.Equal(t, p, sub.Path())

	require.NoError(t, reg.Put(ctx, p, "1", false))
	ev := e.expect(t, rec, xregistry.EventAdd, p)
	assert.Equal(t, "1", ev.Value)
	assert.Equal(t, int64(0), ev.Version)

	require.NoError(t, reg.Put(ctx, p, "2", false))
	ev = e.expect(t, rec, xregistry.EventUpdate, p)
	assert.Equal(t, "2", ev.Value)
	assert.Equal(t, int64(1), ev.Version)

	require.NoError(t, reg.Put(ctx, xregistry.Join(p, "child"), "c", false))
	require.NoError(t, reg.Delete(ctx, p))
	ev = e.expect(t, rec, xregistry.EventRemove, p)
	assert.Empty(t, ev.Value)

	require.NoError(t, reg.Delete(ctx, p))
	e.quiet(t, rec, 300*time.Millisecond)
}

func (s *suite) testSubscribeSubtree(t *testing.T, e *env) {
	ctx := context.Background()
	writer := e.started(t)
	reader := e.started(t)

	rec := newRecorder(xregistry.ScopeSubtree)
	_, err := reader.Subscribe(ctx, e.path("tree"), rec)
	require.NoError(t, err)

	require.NoError(t, writer.Put(ctx, e.path("tree"), "root", false))
	e.expect(t, rec, xregistry.EventAdd, e.path("tree"))
	require.NoError(t, writer.Put(ctx, e.path("tree", "a", "b"), "deep", false))
	e.expect(t, rec, xregistry.EventAdd, e.path("tree", "a", "b"))
	require.NoError(t, writer.Put(ctx, e.path("treehouse"), "sibling", false))
	require.NoError(t, writer.Delete(ctx, e.path("tree", "a", "b")))
	e.expect(t, rec, xregistry.EventRemove, e.path("tree", "a", "b"))
}

func (s *suite) testSubscribeNoReplay(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("replay")

	require.NoError(t, reg.Put(ctx, p, "before", false))

	rec := newRecorder(xregistry.ScopePathOnly)
	_, err := reg.Subscribe(ctx, p, rec)
	require.NoError(t, err)
	e.quiet(t, rec, 300*time.Millisecond)

	require.NoError(t, reg.Put(ctx, p, "after", false))
	ev := e.expect(t, rec, xregistry.EventUpdate, p)
	assert.Equal(t, "after", ev.Value)
}

func (s *suite) testUnsubscribe(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("unsub")

	byHandle := newRecorder(xregistry.ScopePathOnly)
	sub, err := reg.Subscribe(ctx, p, byHandle)
	require.NoError(t, err)
	byPath := newRecorder(xregistry.ScopePathOnly)
	_, err = reg.Subscribe(ctx, p, byPath)
	require.NoError(t, err)

	require.NoError(t, reg.Put(ctx, p, "1", false))
	e.expect(t, byHandle, xregistry.EventAdd, p)
	e.expect(t, byPath, xregistry.EventAdd, p)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, reg.Unsubscribe(p))

	require.NoError(t, reg.Put(ctx, p, "2", false))
	e.quiet(t, byHandle, 300*time.Millisecond)
	e.quiet(t, byPath, 0)

	_, err = reg.Subscribe(ctx, p, nil)
	require.ErrorIs(t, err, xregistry.ErrNilListener)
}

func (s *suite) testListenerPanic(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("panic")

	var calls atomic.Int32
	_, err := reg.Subscribe(ctx, p, xregistry.NewListener(xregistry.ScopePathOnly, func(xregistry.Event) {
		calls.Add(1)
		panic("listener failure")
	}))
	require.NoError(t, err)
	rec := newRecorder(xregistry.ScopePathOnly)
	_, err = reg.Subscribe(ctx, p, rec)
	require.NoError(t, err)

	require.NoError(t, reg.Put(ctx, p, "1", false))
	e.expect(t, rec, xregistry.EventAdd, p)
	require.NoError(t, reg.Put(ctx, p, "2", false))
	e.expect(t, rec, xregistry.EventUpdate, p)
	e.eventually(t, func() bool { return calls.Load() == 2 }, "panicking listener stays subscribed")
}

func (s *suite) testLock(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("lock")

	ok, err := reg.AcquireLock(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.AcquireLock(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok, "reentrant")

	ok, err = reg.TryAcquireLock(ctx, p, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok, "reentrant try")

	ok, err = reg.ReleaseLock(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.ReleaseLock(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok, "single release frees the lock")

	ok, err = reg.ReleaseLock(ctx, e.path("never"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func (s *suite) testTryAcquireLockTimeout(t *testing.T, e *env) {
	ctx := context.Background()
	holder := e.started(t)
	other := e.started(t)
	p := e.path("lock")

	ok, err := holder.AcquireLock(ctx, p)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	ok, err = other.TryAcquireLock(ctx, p, 300*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	children, err := other.Children(ctx, p)
	require.NoError(t, err)
	assert.Len(t, children, 1, "timed out contender is removed")

	_, err = holder.ReleaseLock(ctx, p)
	require.NoError(t, err)
	ok, err = other.TryAcquireLock(ctx, p, e.eventTimeout)
	require.NoError(t, err)
	assert.True(t, ok)
}

func (s *suite) testTryAcquireLockZeroTimeout(t *testing.T, e *env) {
	ctx := context.Background()
	holder := e.started(t)
	other := e.started(t)
	p := e.path("lock")

	ok, err := holder.TryAcquireLock(ctx, p, 0)
	require.NoError(t, err)
	require.True(t, ok, "free lock is acquired without waiting")

	ok, err = other.TryAcquireLock(ctx, p, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	children, err := other.Children(ctx, p)
	require.NoError(t, err)
	assert.Len(t, children, 1, "failed attempt leaves no contender behind")
}

func (s *suite) testLockIgnoresOtherChildren(t *testing.T, e *env) {
	ctx := context.Background()
	reg := e.started(t)
	p := e.path("lock")

	require.NoError(t, reg.Put(ctx, p+"/data", "x", false))
	ok, err := reg.TryAcquireLock(ctx, p, e.eventTimeout)
	require.NoError(t, err)
	assert.True(t, ok, "a plain child does not hold the lock")
	_, err = reg.ReleaseLock(ctx, p)
	require.NoError(t, err)

	require.NoError(t, reg.Put(ctx, p+"/meta", "y", true))
	done := make(chan bool, 1)
	go func() {
		ok, _ := reg.AcquireLock(ctx, p)
		done <- ok
	}()
	select {
	case ok := <-done:
		assert.True(t, ok, "an ephemeral child outside the contender format does not hold the lock")
	case <-time.After(e.eventTimeout):
		require.FailNow(t, "AcquireLock blocked behind a non-contender child")
	}
}

func (s *suite) testLockHandoff(t *testing.T, e *env) {
	ctx := context.Background()
	holder := e.started(t)
	waiter := e.started(t)
	p := e.path("lock")

	ok, err := holder.AcquireLock(ctx, p)
	require.NoError(t, err)
	require.True(t, ok)

	acquired := make(chan bool, 1)
	go func() {
		ok, _ := waiter.AcquireLock(ctx, p)
		acquired <- ok
	}()

	select {
	case <-acquired:
		require.FailNow(t, "lock acquired while held")
	case <-time.After(300 * time.Millisecond):
	}

	_, err = holder.ReleaseLock(ctx, p)
	require.NoError(t, err)
	select {
	case ok := <-acquired:
		assert.True(t, ok)
	case <-time.After(e.eventTimeout):
		require.FailNow(t, "waiter not promoted after release")
	}
}

func (s *suite) testLockFIFO(t *testing.T, e *env) {
	ctx := context.Background()
	holder := e.started(t)
	p := e.path("lock")

	ok, err := holder.AcquireLock(ctx, p)
	require.NoError(t, err)
	require.True(t, ok)

	const waiters = 3
	order := make(chan int, waiters)
	regs := make([]*xregistry.Registry, waiters)
	for i := range waiters {
		regs[i] = e.started(t)
	}
	for i, reg := range regs {
		go func() {
			if ok, err := reg.AcquireLock(ctx, p); err == nil && ok {
				order <- i
			}
		}()
		// 等待竞争者节点落盘，保证排队先后
		e.eventually(t, func() bool {
			children, err := holder.Children(ctx, p)
			return err == nil && len(children) == i+2
		}, "contender registered")
	}

	_, err = holder.ReleaseLock(ctx, p)
	require.NoError(t, err)
	for want := range waiters {
		select {
		case got := <-order:
			require.Equal(t, want, got, "locks granted in request order")
			_, err := regs[got].ReleaseLock(ctx, p)
			require.NoError(t, err)
		case <-time.After(e.eventTimeout):
			require.FailNow(t, "waiter not promoted", "waiter %d", want)
		}
	}
}

func (s *suite) testLockReleasedOnSessionLost(t *testing.T, e *env) {
	ctx := context.Background()
	holder := e.started(t)
	waiter := e.started(t)
	p := e.path("lock")

	ok, err := holder.AcquireLock(ctx, p)
	require.NoError(t, err)
	require.True(t, ok)

	acquired := make(chan bool, 1)
	go func() {
		ok, _ := waiter.AcquireLock(ctx, p)
		acquired <- ok
	}()

	require.NoError(t, e.backend.CloseSession(ctx, holder.SessionID()))
	select {
	case ok := <-acquired:
		assert.True(t, ok)
	case <-time.After(e.eventTimeout):
		require.FailNow(t, "waiter not promoted after holder session loss")
	}

	e.eventually(t, func() bool { return holder.State() == xregistry.StateLost }, "holder observes LOST")
	ok, err = holder.ReleaseLock(ctx, p)
	require.ErrorIs(t, err, xregistry.ErrConnectLost)
	assert.False(t, ok)
}

func (s *suite) testCloseWakesLockWaiters(t *testing.T, e *env) {
	ctx := context.Background()
	holder := e.started(t)
	waiter := e.started(t)
	p := e.path("lock")

	ok, err := holder.AcquireLock(ctx, p)
	require.NoError(t, err)
	require.True(t, ok)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := waiter.AcquireLock(ctx, p)
		done <- result{ok, err}
	}()
	e.eventually(t, func() bool {
		children, err := holder.Children(ctx, p)
		return err == nil && len(children) == 2
	}, "waiter registered")

	require.NoError(t, waiter.Close(ctx))
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.False(t, r.ok)
	case <-time.After(e.eventTimeout):
		require.FailNow(t, "Close did not wake lock waiter")
	}

	require.NoError(t, holder.Close(ctx))
	e.eventually(t, func() bool {
		n, err := e.backend.List(ctx, p)
		return err == nil && len(n) == 0
	}, "Close releases held lock")
}
