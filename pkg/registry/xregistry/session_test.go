package xregistry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/observability/xmetrics"
)

func newTestSession(t *testing.T, backend Backend, mutate func(*Config)) *sessionManager {
	t.Helper()
	cfg := &Config{
		SessionTimeout:    time.Second,
		HeartbeatInterval: 100 * time.Millisecond,
		ConnectTimeout:    300 * time.Millisecond,
	}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.applyDefaults()
	return newSessionManager(backend, cfg, xlog.Discard(), xmetrics.NoopObserver{})
}

// stateLog 记录监听器收到的状态序列
type stateLog struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (l *stateLog) listen(s ConnectionState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) get() []ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnectionState(nil), l.states...)
}

func runDispatch(t *testing.T, m *sessionManager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.dispatchLoop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSession_OpenRetriesThenConnects(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, nil)
	log := &stateLog{}
	m.addListener(log.listen)
	runDispatch(t, m)

	gomock.InOrder(
		backend.EXPECT().OpenSession(gomock.Any(), time.Second).Return("", errors.New("unavailable")),
		backend.EXPECT().OpenSession(gomock.Any(), time.Second).Return("s1", nil),
	)
	require.NoError(t, m.open(context.Background()))
	assert.Equal(t, "s1", m.sessionID())

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]ConnectionState{StateConnecting, StateConnected}, log.get())
	}, time.Second, 10*time.Millisecond)
}

func TestSession_OpenFailsWithinConnectTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, nil)

	backend.EXPECT().OpenSession(gomock.Any(), gomock.Any()).Return("", errors.New("unavailable")).AnyTimes()
	start := time.Now()
	err := m.open(context.Background())
	require.ErrorIs(t, err, ErrConnectFailed)
	assert.Less(t, time.Since(start), 2*time.Second)

	state, _ := m.current()
	assert.Equal(t, StateDisconnected, state)
}

func openSession(t *testing.T, backend *MockBackend, m *sessionManager) {
	t.Helper()
	backend.EXPECT().OpenSession(gomock.Any(), gomock.Any()).Return("s1", nil)
	require.NoError(t, m.open(context.Background()))
}

func TestSession_SuspendAndRecover(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, nil)
	log := &stateLog{}
	runDispatch(t, m)
	openSession(t, backend, m)
	m.addListener(log.listen)
	ctx := context.Background()

	backend.EXPECT().KeepAlive(gomock.Any(), "s1").Return(errors.New("timeout"))
	require.NoError(t, m.heartbeat(ctx))
	state, _ := m.current()
	assert.Equal(t, StateSuspended, state)

	backend.EXPECT().KeepAlive(gomock.Any(), "s1").Return(nil)
	require.NoError(t, m.heartbeat(ctx))
	state, _ = m.current()
	assert.Equal(t, StateConnected, state)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(
			[]ConnectionState{StateSuspended, StateReconnected, StateConnected}, log.get())
	}, time.Second, 10*time.Millisecond, "listeners added after CONNECTED do not see it")
}

func TestSession_LostOnExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, nil)
	openSession(t, backend, m)
	lostCalls := 0
	m.onLost = func() { lostCalls++ }
	lost := m.lostCh()

	backend.EXPECT().KeepAlive(gomock.Any(), "s1").Return(ErrSessionExpired)
	require.NoError(t, m.heartbeat(context.Background()))

	state, _ := m.current()
	assert.Equal(t, StateLost, state)
	assert.Equal(t, 1, lostCalls)
	select {
	case <-lost:
	default:
		t.Fatal("lost channel not closed")
	}

	// LOST 之后不再续约
	require.NoError(t, m.heartbeat(context.Background()))
}

func TestSession_LostAfterTTLWhileSuspended(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, func(c *Config) {
		c.SessionTimeout = 50 * time.Millisecond
		c.HeartbeatInterval = 10 * time.Millisecond
	})
	openSession(t, backend, m)

	backend.EXPECT().KeepAlive(gomock.Any(), "s1").Return(errors.New("timeout")).Times(2)
	require.NoError(t, m.heartbeat(context.Background()))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, m.heartbeat(context.Background()))

	state, _ := m.current()
	assert.Equal(t, StateLost, state)
}

func TestSession_ListenerPanicRecovered(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, nil)
	log := &stateLog{}
	m.addListener(func(ConnectionState) { panic("boom") })
	m.addListener(log.listen)
	runDispatch(t, m)

	openSession(t, backend, m)
	require.Eventually(t, func() bool {
		return len(log.get()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSession_WaitConnected(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, nil)
	ctx := context.Background()

	require.ErrorIs(t, m.waitConnected(ctx, 20*time.Millisecond), ErrTimeout)

	done := make(chan error, 1)
	go func() { done <- m.waitConnected(ctx, time.Second) }()
	openSession(t, backend, m)
	require.NoError(t, <-done)

	backend.EXPECT().CloseSession(gomock.Any(), "s1").Return(nil)
	m.close(ctx)
	require.ErrorIs(t, m.waitConnected(ctx, time.Second), ErrClosed)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	m2 := newTestSession(t, backend, nil)
	require.ErrorIs(t, m2.waitConnected(cctx, time.Second), context.Canceled)
}

func TestSession_CloseIgnoresExpired(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, nil)
	openSession(t, backend, m)

	backend.EXPECT().CloseSession(gomock.Any(), "s1").Return(ErrSessionExpired)
	m.close(context.Background())
	state, _ := m.current()
	assert.Equal(t, StateClosed, state)
}

func TestSession_CloseInterruptsOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	m := newTestSession(t, backend, func(c *Config) { c.ConnectTimeout = 10 * time.Second })

	attempted := make(chan struct{}, 1)
	backend.EXPECT().OpenSession(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ time.Duration) (string, error) {
		select {
		case attempted <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	}).MinTimes(1)

	done := make(chan error, 1)
	go func() { done <- m.open(context.Background()) }()
	<-attempted

	start := time.Now()
	m.close(context.Background())
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("open kept retrying after close")
	}
	state, _ := m.current()
	assert.Equal(t, StateClosed, state)
}
