package xregistry

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/observability/xmetrics"
)

const (
	openSessionDelay    = 100 * time.Millisecond
	openSessionMaxDelay = 2 * time.Second
)

// transition 一次状态迁移及迁移时刻的监听器快照
type transition struct {
	state     ConnectionState
	listeners []ConnectionListener
}

// sessionManager 维护本地会话的存活与状态机，并按迁移顺序串行通知监听器。
type sessionManager struct {
	backend  Backend
	cfg      *Config
	logger   xlog.Logger
	observer xmetrics.Observer
	onLost   func()

	mu        sync.Mutex
	state     ConnectionState
	id        string
	lastAlive time.Time
	listeners []ConnectionListener
	changed   chan struct{} // 每次迁移时关闭并替换
	lost      chan struct{} // 进入 LOST 或 CLOSED 时关闭
	queue     []transition
	wake      chan struct{}
	dispatch  bool // CLOSED 之后不再分发

	closeCtx    context.Context // close 时取消，中断进行中的 open
	cancelClose context.CancelFunc
}

func newSessionManager(backend Backend, cfg *Config, logger xlog.Logger, observer xmetrics.Observer) *sessionManager {
	closeCtx, cancelClose := context.WithCancel(context.Background())
	return &sessionManager{
		backend:     backend,
		cfg:         cfg,
		logger:      logger,
		observer:    observer,
		state:       StateDisconnected,
		changed:     make(chan struct{}),
		lost:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		dispatch:    true,
		closeCtx:    closeCtx,
		cancelClose: cancelClose,
	}
}

func (m *sessionManager) addListener(l ConnectionListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

func (m *sessionManager) current() (ConnectionState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.id
}

func (m *sessionManager) sessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// lostCh 在会话丢失或关闭时关闭
func (m *sessionManager) lostCh() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost
}

// setStateLocked 记录迁移并入队通知，调用方持有 mu
func (m *sessionManager) setStateLocked(to ConnectionState) {
	if m.state == to {
		return
	}
	from := m.state
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})
	if to == StateLost || to == StateClosed {
		select {
		case <-m.lost:
		default:
			close(m.lost)
		}
	}
	if to == StateClosed {
		m.dispatch = false
		m.queue = nil
	}
	if m.dispatch {
		m.queue = append(m.queue, transition{state: to, listeners: slices.Clone(m.listeners)})
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}

	ctx := context.Background()
	m.logger.Info(ctx, "session state changed",
		xlog.Session(m.id), xlog.State(from), slog.String("to", to.String()))
	xmetrics.RecordEvent(ctx, m.observer, "session", to.String())
}

// dispatchLoop 按迁移顺序串行调用监听器
func (m *sessionManager) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		}
		for {
			m.mu.Lock()
			if len(m.queue) == 0 || !m.dispatch {
				m.mu.Unlock()
				break
			}
			t := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			for _, l := range t.listeners {
				if !m.dispatching() {
					return nil
				}
				m.notify(ctx, l, t.state)
			}
		}
	}
}

func (m *sessionManager) dispatching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatch
}

func (m *sessionManager) notify(ctx context.Context, l ConnectionListener, state ConnectionState) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(ctx, "connection state listener panicked",
				xlog.State(state), slog.Any("panic", r))
		}
	}()
	l(state)
}

// open 建立会话，ConnectTimeout 内重试；失败时状态回到 DISCONNECTED
func (m *sessionManager) open(ctx context.Context) error {
	m.mu.Lock()
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	openCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(m.closeCtx, cancel)
	defer stop()

	id, err := retry.NewWithData[string](
		retry.Context(openCtx),
		retry.UntilSucceeded(),
		retry.Delay(openSessionDelay),
		retry.MaxDelay(openSessionMaxDelay),
		retry.LastErrorOnly(true),
		retry.WrapContextErrorWithLastError(true),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Warn(openCtx, "open session failed, retrying",
				slog.Uint64("attempt", uint64(n)), xlog.Err(err))
		}),
	).Do(func() (string, error) {
		return m.backend.OpenSession(openCtx, m.cfg.SessionTimeout)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		switch m.state {
		case StateClosed:
			return newError(KindClosed, "start", "", nil)
		case StateConnecting:
			m.setStateLocked(StateDisconnected)
		}
		return newError(KindConnectFailed, "start", "", err)
	}
	if m.state != StateConnecting {
		// Start 期间被 Close，会话立即归还
		go m.discard(id)
		return newError(KindClosed, "start", "", nil)
	}
	m.id = id
	m.lastAlive = time.Now()
	m.setStateLocked(StateConnected)
	return nil
}

func (m *sessionManager) discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.backend.CloseSession(ctx, id); err != nil {
		m.logger.Warn(ctx, "discard session failed", xlog.Session(id), xlog.Err(err))
	}
}

// heartbeat 续约一次并驱动 CONNECTED/SUSPENDED/RECONNECTED/LOST 迁移，从不返回错误
func (m *sessionManager) heartbeat(ctx context.Context) error {
	state, id := m.current()
	if state == StateLost || state == StateClosed || id == "" {
		return nil
	}

	hbCtx, cancel := context.WithTimeout(ctx, m.cfg.HeartbeatInterval)
	err := m.backend.KeepAlive(hbCtx, id)
	cancel()
	if ctx.Err() != nil {
		return nil
	}

	m.mu.Lock()
	if m.state == StateLost || m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	lost := false
	switch {
	case err == nil:
		m.lastAlive = time.Now()
		if m.state == StateSuspended {
			m.setStateLocked(StateReconnected)
			m.setStateLocked(StateConnected)
		}
	case errors.Is(err, ErrSessionExpired):
		lost = true
	default:
		if m.state == StateConnected {
			m.logger.Warn(ctx, "session heartbeat failed", xlog.Session(id), xlog.Err(err))
			m.setStateLocked(StateSuspended)
		}
		lost = time.Since(m.lastAlive) >= m.cfg.SessionTimeout
	}
	if lost {
		m.setStateLocked(StateLost)
	}
	onLost := m.onLost
	m.mu.Unlock()

	if lost && onLost != nil {
		onLost()
	}
	return nil
}

// waitConnected 阻塞直到 CONNECTED、超时或关闭
func (m *sessionManager) waitConnected(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		m.mu.Lock()
		state, changed := m.state, m.changed
		m.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			return newError(KindClosed, "connect", "", nil)
		}

		select {
		case <-changed:
		case <-timer.C:
			return newError(KindTimeout, "connect", "", nil)
		case <-ctx.Done():
			return wrapBackendError("connect", "", ctx.Err())
		}
	}
}

// close 进入 CLOSED 并关闭后端会话，会话已过期时忽略
func (m *sessionManager) close(ctx context.Context) {
	m.mu.Lock()
	id := m.id
	m.setStateLocked(StateClosed)
	m.mu.Unlock()
	m.cancelClose()

	if id == "" {
		return
	}
	if err := m.backend.CloseSession(ctx, id); err != nil && !errors.Is(err, ErrSessionExpired) {
		m.logger.Warn(ctx, "close session failed", xlog.Session(id), xlog.Err(err))
	}
}
