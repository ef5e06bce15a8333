package xregistry

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/util/xid"
	"github.com/omeyang/xreg/pkg/util/xkeylock"
)

const abandonTimeout = 5 * time.Second

// lockManager 基于临时节点的公平互斥锁。
//
// 每次竞争在锁路径下创建临时节点 <seq>-<session>，创建修订号最小者持有锁，
// 其余竞争者等待前驱节点删除。会话丢失时后端删除其节点，下一位竞争者随之晋升。
// 同一会话内重入直接返回，本地并发竞争先经 xkeylock 串行化。
type lockManager struct {
	store   *pathStore
	router  *watchRouter
	session *sessionManager
	ids     *xid.Generator
	keys    *xkeylock.KeyLock
	recheck time.Duration
	logger  xlog.Logger

	mu     sync.Mutex
	held   map[string]string // 锁路径 -> 本会话竞争者节点路径
	closed chan struct{}
	once   sync.Once
}

func newLockManager(store *pathStore, router *watchRouter, session *sessionManager, cfg *Config, logger xlog.Logger) (*lockManager, error) {
	ids, err := xid.NewGenerator()
	if err != nil {
		return nil, err
	}
	keys, err := xkeylock.New()
	if err != nil {
		return nil, err
	}
	return &lockManager{
		store:   store,
		router:  router,
		session: session,
		ids:     ids,
		keys:    keys,
		recheck: cfg.LockRecheckInterval,
		logger:  logger,
		held:    make(map[string]string),
		closed:  make(chan struct{}),
	}, nil
}

func (m *lockManager) isHeld(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[path]
	return ok
}

// acquire 阻塞直到获得锁；Close 时返回 false, nil
func (m *lockManager) acquire(ctx context.Context, path string) (bool, error) {
	if m.isHeld(path) {
		return true, nil
	}
	h, err := m.keys.Acquire(ctx, path)
	if errors.Is(err, xkeylock.ErrClosed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = h.Unlock() }()

	if m.isHeld(path) {
		return true, nil
	}
	return m.contend(ctx, path, true)
}

// acquireOnce 只竞争一次，锁被占用时立即返回 false
func (m *lockManager) acquireOnce(ctx context.Context, path string) (bool, error) {
	if m.isHeld(path) {
		return true, nil
	}
	h, err := m.keys.TryAcquire(path)
	if err != nil || h == nil {
		// 本地已有竞争者或已关闭
		return false, nil
	}
	defer func() { _ = h.Unlock() }()

	if m.isHeld(path) {
		return true, nil
	}
	return m.contend(ctx, path, false)
}

// closing 是否已进入 Close
func (m *lockManager) closing() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// contend 创建竞争者节点并等待成为最早的竞争者，wait 为 false 时只判断一次
func (m *lockManager) contend(ctx context.Context, path string, wait bool) (bool, error) {
	wake := make(chan struct{}, 1)
	waker := NewListener(ScopeSubtree, func(ev Event) {
		if ev.Type == EventRemove && ev.Path != path {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	})
	sub, err := m.router.add(path, waker, 0, true)
	if err != nil {
		return false, nil
	}
	defer sub.Unsubscribe()

	seq, err := m.ids.Next(ctx)
	if err != nil {
		return false, err
	}
	session := m.session.sessionID()
	name := xid.FormatSortable(seq) + "-" + session
	node := Join(path, name)
	if _, err := m.store.put(ctx, session, node, session, true); err != nil {
		if m.closing() {
			return false, nil
		}
		if ctx.Err() != nil {
			// 请求可能已提交
			m.abandon(node)
		}
		return false, err
	}

	ticker := time.NewTicker(m.recheck)
	defer ticker.Stop()
	lost := m.session.lostCh()
	for {
		owner, present, err := m.owner(ctx, path, name)
		switch {
		case m.closing():
			// 关闭会话时后端一并删除竞争者节点
			return false, nil
		case err != nil:
			m.abandon(node)
			return false, err
		case !present:
			// 竞争者节点随会话一起消失
			return false, newError(KindConnectLost, "lock", path, ErrSessionExpired)
		case owner:
			m.mu.Lock()
			m.held[path] = node
			m.mu.Unlock()
			m.logger.Debug(ctx, "lock acquired", xlog.Path(path), xlog.Session(session))
			return true, nil
		case !wait:
			m.abandon(node)
			return false, nil
		}

		select {
		case <-wake:
		case <-ticker.C:
		case <-lost:
			if m.closing() {
				return false, nil
			}
			return false, newError(KindConnectLost, "lock", path, nil)
		case <-m.closed:
			return false, nil
		case <-ctx.Done():
			m.abandon(node)
			return false, ctx.Err()
		}
	}
}

// owner 判断 name 是否为当前创建修订号最小的竞争者
func (m *lockManager) owner(ctx context.Context, path, name string) (owner, present bool, err error) {
	nodes, err := m.store.nodesUnder(ctx, path)
	if err != nil {
		return false, false, err
	}
	nodes = slices.DeleteFunc(nodes, func(n Node) bool { return !isContender(path, n) })
	if len(nodes) == 0 {
		return false, false, nil
	}
	slices.SortFunc(nodes, func(a, b Node) int {
		if c := cmp.Compare(a.CreateRevision, b.CreateRevision); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	self := Join(path, name)
	for _, n := range nodes {
		if n.Path == self {
			return n.Path == nodes[0].Path, true, nil
		}
	}
	return false, false, nil
}

// isContender 锁路径下只有 <seq>-<session> 形式且归属该会话的临时节点参与排队
func isContender(path string, n Node) bool {
	if !n.Ephemeral {
		return false
	}
	seq, session, ok := strings.Cut(strings.TrimPrefix(n.Path, SubtreePrefix(path)), "-")
	if !ok || session == "" || session != n.Owner {
		return false
	}
	_, err := xid.ParseSortable(seq)
	return err == nil
}

// abandon 放弃等待时删除自己的竞争者节点，不受调用方 ctx 影响
func (m *lockManager) abandon(node string) {
	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()
	if _, err := m.store.remove(ctx, node); err != nil {
		m.logger.Warn(ctx, "remove lock contender failed", xlog.Path(node), xlog.Err(err))
	}
}

// tryAcquire 限时获取，超时返回 false, nil；timeout 不大于 0 时只尝试一次
func (m *lockManager) tryAcquire(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	if m.isHeld(path) {
		return true, nil
	}
	if timeout <= 0 {
		return m.acquireOnce(ctx, path)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := m.acquire(tctx, path)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return false, nil
	}
	return ok, err
}

// release 释放本会话持有的锁，未持有时返回 false
func (m *lockManager) release(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	node, ok := m.held[path]
	delete(m.held, path)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if _, err := m.store.remove(ctx, node); err != nil {
		m.mu.Lock()
		m.held[path] = node
		m.mu.Unlock()
		return false, err
	}
	return true, nil
}

// onLost 会话丢失后本地持有记录全部作废
func (m *lockManager) onLost() {
	m.mu.Lock()
	n := len(m.held)
	clear(m.held)
	m.mu.Unlock()
	if n > 0 {
		m.logger.Warn(context.Background(), "session lost, dropped held locks", slog.Int("count", n))
	}
}

// close 唤醒全部等待者并释放持有的锁
func (m *lockManager) close(ctx context.Context) {
	m.once.Do(func() {
		close(m.closed)
		_ = m.keys.Close()
	})

	m.mu.Lock()
	held := maps.Clone(m.held)
	clear(m.held)
	m.mu.Unlock()

	for path, node := range held {
		if _, err := m.store.remove(ctx, node); err != nil {
			m.logger.Warn(ctx, "release lock on close failed", xlog.Path(path), xlog.Err(err))
		}
	}
}
