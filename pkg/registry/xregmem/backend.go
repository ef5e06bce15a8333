package xregmem

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// ErrClosed 后端已关闭
var ErrClosed = errors.New("xregmem: backend closed")

// ErrInjected FailKeepAlive 注入的续约失败
var ErrInjected = errors.New("xregmem: injected keepalive failure")

type session struct {
	ttl      time.Duration
	deadline time.Time
	failing  bool
}

// Backend 进程内 [xregistry.Backend] 实现
//
// 同一实例可被多个 Registry 共享，用于单进程内模拟多个会话。
// 会话过期在每次调用时惰性回收。
type Backend struct {
	opts *options

	mu       sync.Mutex
	nodes    map[string]xregistry.Node
	sessions map[string]*session
	rev      int64
	history  []xregistry.Change
	watchers map[*watcher]struct{}
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

var _ xregistry.Backend = (*Backend)(nil)

// New 创建内存后端
func New(opts ...Option) *Backend {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &Backend{
		opts:     o,
		nodes:    make(map[string]xregistry.Node),
		sessions: make(map[string]*session),
		watchers: make(map[*watcher]struct{}),
		done:     make(chan struct{}),
	}
}

var defaultBackend = sync.OnceValue(func() *Backend { return New() })

// Default 返回进程级共享实例
func Default() *Backend {
	return defaultBackend()
}

// OpenSession 创建会话
func (b *Backend) OpenSession(_ context.Context, ttl time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	b.sessions[id] = &session{ttl: ttl, deadline: b.opts.now().Add(ttl)}
	return id, nil
}

// KeepAlive 续约会话
func (b *Backend) KeepAlive(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.reapLocked()
	s, ok := b.sessions[id]
	if !ok {
		return xregistry.ErrSessionExpired
	}
	if s.failing {
		return ErrInjected
	}
	s.deadline = b.opts.now().Add(s.ttl)
	return nil
}

// CloseSession 关闭会话并删除其临时节点
func (b *Backend) CloseSession(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.sessions[id]; !ok {
		return xregistry.ErrSessionExpired
	}
	b.dropSessionLocked(id)
	return nil
}

// Get 读取节点
func (b *Backend) Get(_ context.Context, path string) (xregistry.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return xregistry.Node{}, ErrClosed
	}
	b.reapLocked()
	n, ok := b.nodes[path]
	if !ok {
		return xregistry.Node{}, xregistry.ErrNodeNotFound
	}
	return n, nil
}

// Put 创建或更新节点
func (b *Backend) Put(_ context.Context, sessionID, path, value string, ephemeral bool) (xregistry.Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return xregistry.Change{}, ErrClosed
	}
	b.reapLocked()

	if n, ok := b.nodes[path]; ok {
		if n.Ephemeral != ephemeral {
			return xregistry.Change{}, xregistry.ErrEphemeralMismatch
		}
		b.rev++
		n.Value = value
		n.Version++
		b.nodes[path] = n
		return b.publishLocked(xregistry.EventUpdate, n), nil
	}

	n := xregistry.Node{Path: path, Value: value, Ephemeral: ephemeral}
	if ephemeral {
		if _, ok := b.sessions[sessionID]; !ok {
			return xregistry.Change{}, xregistry.ErrSessionExpired
		}
		n.Owner = sessionID
	}
	b.rev++
	n.CreateRevision = b.rev
	b.nodes[path] = n
	return b.publishLocked(xregistry.EventAdd, n), nil
}

// Delete 删除节点
func (b *Backend) Delete(_ context.Context, path string) (xregistry.Change, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return xregistry.Change{}, false, ErrClosed
	}
	b.reapLocked()
	n, ok := b.nodes[path]
	if !ok {
		return xregistry.Change{}, false, nil
	}
	return b.removeLocked(n), true, nil
}

// List 返回 path 之下的全部路径
func (b *Backend) List(_ context.Context, path string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.reapLocked()
	prefix := xregistry.SubtreePrefix(path)
	out := make([]string, 0)
	for p := range b.nodes {
		if p != path && strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Revision 返回当前修订号
func (b *Backend) Revision(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	return b.rev, nil
}

// Close 关闭后端，结束全部 Watch
func (b *Backend) Close(_ context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

// Expire 立即使会话过期，效果与 TTL 到期相同
func (b *Backend) Expire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; ok {
		b.opts.logger.Info(context.Background(), "session expired by request", xlog.Session(id))
		b.dropSessionLocked(id)
	}
}

// FailKeepAlive 使会话续约持续失败或恢复，会话本身仍按 TTL 过期
func (b *Backend) FailKeepAlive(id string, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		s.failing = fail
	}
}

// Sessions 返回存活会话数
func (b *Backend) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reapLocked()
	return len(b.sessions)
}

// reapLocked 回收已到期会话
func (b *Backend) reapLocked() {
	now := b.opts.now()
	for id, s := range b.sessions {
		if now.After(s.deadline) {
			b.opts.logger.Info(context.Background(), "session ttl elapsed", xlog.Session(id))
			b.dropSessionLocked(id)
		}
	}
}

func (b *Backend) dropSessionLocked(id string) {
	delete(b.sessions, id)
	for _, n := range b.nodes {
		if n.Ephemeral && n.Owner == id {
			b.removeLocked(n)
		}
	}
}

func (b *Backend) removeLocked(n xregistry.Node) xregistry.Change {
	delete(b.nodes, n.Path)
	b.rev++
	return b.publishLocked(xregistry.EventRemove, n)
}

// publishLocked 以当前修订号记录变更并投递给全部 watcher
func (b *Backend) publishLocked(t xregistry.EventType, n xregistry.Node) xregistry.Change {
	c := xregistry.Change{Type: t, Path: n.Path, Value: n.Value, Version: n.Version, Revision: b.rev}
	if t == xregistry.EventRemove {
		c.Value = ""
	}
	b.history = append(b.history, c)
	if size := b.opts.historySize; len(b.history) >= 2*size {
		b.history = append(b.history[:0:0], b.history[len(b.history)-size:]...)
	}
	for w := range b.watchers {
		w.push(c)
	}
	return c
}
