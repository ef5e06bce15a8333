package xregistry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omeyang/xreg/pkg/lifecycle/xrun"
	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/observability/xmetrics"
)

const componentName = "xregistry"

type phase int

const (
	phaseCreated phase = iota
	phaseStarting
	phaseStarted
	phaseClosed
)

// Registry 层级协调注册中心门面
//
// 组合路径存储、会话管理、变更路由与锁管理，负责生命周期。
// 全部方法并发安全。
type Registry struct {
	backend  Backend
	cfg      Config
	logger   xlog.Logger
	observer xmetrics.Observer
	owned    bool
	onClose  []func() error

	store   *pathStore
	session *sessionManager
	router  *watchRouter
	locks   *lockManager

	mu    sync.Mutex
	phase phase
	group *xrun.Group
}

// New 创建 Registry，需调用 Start 建立会话后才能使用
func New(backend Backend, opts ...Option) (*Registry, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	cfg := o.config
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With(xlog.Component(componentName))
	store, err := newPathStore(backend, &cfg, logger)
	if err != nil {
		return nil, err
	}
	session := newSessionManager(backend, &cfg, logger, o.observer)
	router := newWatchRouter(backend, logger, o.observer)
	locks, err := newLockManager(store, router, session, &cfg, logger)
	if err != nil {
		store.close()
		return nil, err
	}

	session.onLost = func() {
		store.purge()
		locks.onLost()
	}
	router.onChange = func(c Change) {
		store.invalidate(c.Path)
	}

	return &Registry{
		backend:  backend,
		cfg:      cfg,
		logger:   logger,
		observer: o.observer,
		owned:    o.closeBackend,
		onClose:  o.onClose,
		store:    store,
		session:  session,
		router:   router,
		locks:    locks,
	}, nil
}

// Config 返回填充默认值后的生效配置
func (r *Registry) Config() Config {
	return r.cfg
}

// Start 建立会话并启动心跳与变更分发，重复调用返回 nil
//
// ConnectTimeout 内无法建立会话时返回 ErrConnectFailed，状态回到 DISCONNECTED，可再次 Start。
func (r *Registry) Start(ctx context.Context) (err error) {
	ctx, span := r.startSpan(ctx, "start", "")
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	r.mu.Lock()
	switch r.phase {
	case phaseClosed:
		r.mu.Unlock()
		return newError(KindClosed, "start", "", nil)
	case phaseStarting, phaseStarted:
		r.mu.Unlock()
		return nil
	}
	r.phase = phaseStarting
	group, _ := xrun.NewGroup(context.Background(), xrun.WithName(componentName), xrun.WithLogger(r.logger))
	r.group = group
	group.GoWithName("session-dispatch", r.session.dispatchLoop)
	r.mu.Unlock()

	rev, err := r.store.revision(ctx)
	if err != nil {
		r.abortStart(group)
		return newError(KindConnectFailed, "start", "", err)
	}
	r.router.startRev.Store(rev)

	if err := r.session.open(ctx); err != nil {
		r.abortStart(group)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != phaseStarting {
		return newError(KindClosed, "start", "", nil)
	}
	r.phase = phaseStarted
	group.GoWithName("session-heartbeat", xrun.Ticker(r.cfg.HeartbeatInterval, false, r.session.heartbeat))
	group.GoWithName("watch-dispatch", r.router.run)

	r.logger.Info(ctx, "registry started",
		xlog.Session(r.session.sessionID()), xlog.Revision(rev))
	return nil
}

// abortStart 回退到可再次 Start 的状态
func (r *Registry) abortStart(group *xrun.Group) {
	r.mu.Lock()
	if r.phase == phaseStarting {
		r.phase = phaseCreated
		r.group = nil
	}
	r.mu.Unlock()
	group.Cancel(nil)
	_ = group.Wait()
}

// Close 关闭 Registry，可重复调用，始终返回 nil
//
// 先拆除订阅，本会话临时节点的 REMOVE 事件不会投递给本实例的监听器；
// 随后唤醒等锁者并释放持有的锁，最后关闭会话。过程中的错误仅记录日志。
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.phase == phaseClosed {
		r.mu.Unlock()
		return nil
	}
	r.phase = phaseClosed
	group := r.group
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	r.router.close()
	r.locks.close(ctx)
	r.session.close(ctx)
	if group != nil {
		group.Cancel(nil)
		if err := group.Wait(); err != nil {
			r.logger.Warn(ctx, "background task exited with error", xlog.Err(err))
		}
	}
	r.store.close()
	if r.owned {
		if err := r.backend.Close(ctx); err != nil {
			r.logger.Warn(ctx, "close backend failed", xlog.Err(err))
		}
	}
	r.logger.Info(ctx, "registry closed")
	for _, fn := range r.onClose {
		// 钩子可能关闭日志输出，此后不再记录
		_ = fn()
	}
	return nil
}

// IsConnected 会话是否处于正常状态
func (r *Registry) IsConnected() bool {
	state := r.State()
	return state == StateConnected || state == StateReconnected
}

// State 返回当前连接状态
func (r *Registry) State() ConnectionState {
	state, _ := r.session.current()
	return state
}

// SessionID 返回当前会话 ID，Start 之前为空
func (r *Registry) SessionID() string {
	return r.session.sessionID()
}

// AddConnectionStateListener 注册连接状态监听器，可在 Start 之前调用
//
// 监听器只收到注册之后发生的迁移。
func (r *Registry) AddConnectionStateListener(l ConnectionListener) {
	if l == nil {
		return
	}
	r.session.addListener(l)
}

// ConnectUntilTimeout 阻塞直到会话 CONNECTED，超时返回 ErrTimeout
func (r *Registry) ConnectUntilTimeout(ctx context.Context, timeout time.Duration) error {
	if err := r.checkPhase("connect", ""); err != nil {
		return err
	}
	return r.session.waitConnected(ctx, timeout)
}

// Get 读取节点值，不存在时返回 ErrNoNode
func (r *Registry) Get(ctx context.Context, path string) (value string, err error) {
	n, err := r.GetNode(ctx, path)
	if err != nil {
		return "", err
	}
	return n.Value, nil
}

// GetNode 读取节点及其元数据
func (r *Registry) GetNode(ctx context.Context, path string) (node Node, err error) {
	ctx, span := r.startSpan(ctx, "get", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("get", path, false); err != nil {
		return Node{}, err
	}
	n, err := r.store.get(ctx, path)
	if err != nil {
		return Node{}, wrapBackendError("get", path, err)
	}
	return n, nil
}

// Put 创建或更新节点
//
// ephemeral 节点归属当前会话，会话关闭或过期时删除。
// 已存在节点的临时标记不可更改，不一致时返回 ErrBackend（包装 ErrEphemeralMismatch）。
func (r *Registry) Put(ctx context.Context, path, value string, ephemeral bool) (err error) {
	ctx, span := r.startSpan(ctx, "put", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("put", path, true); err != nil {
		return err
	}
	if _, err := r.store.put(ctx, r.session.sessionID(), path, value, ephemeral); err != nil {
		return wrapBackendError("put", path, err)
	}
	return nil
}

// Delete 删除节点，节点不存在时同样返回 nil
func (r *Registry) Delete(ctx context.Context, path string) (err error) {
	ctx, span := r.startSpan(ctx, "delete", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("delete", path, true); err != nil {
		return err
	}
	if _, err := r.store.remove(ctx, path); err != nil {
		return wrapBackendError("delete", path, err)
	}
	return nil
}

// Exists 判断节点是否存在，仅作为其他节点前缀的中间路径不算存在
func (r *Registry) Exists(ctx context.Context, path string) (ok bool, err error) {
	ctx, span := r.startSpan(ctx, "exists", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("exists", path, false); err != nil {
		return false, err
	}
	ok, err = r.store.exists(ctx, path)
	if err != nil {
		return false, wrapBackendError("exists", path, err)
	}
	return ok, nil
}

// Children 返回 path 下的直接子段名，无序；path 不存在时返回空
func (r *Registry) Children(ctx context.Context, path string) (names []string, err error) {
	ctx, span := r.startSpan(ctx, "children", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("children", path, false); err != nil {
		return nil, err
	}
	names, err = r.store.children(ctx, path)
	if err != nil {
		return nil, wrapBackendError("children", path, err)
	}
	return names, nil
}

// Subscribe 订阅 path 的变更，只投递订阅之后提交的事件
func (r *Registry) Subscribe(ctx context.Context, path string, l Listener) (sub Subscription, err error) {
	ctx, span := r.startSpan(ctx, "subscribe", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("subscribe", path, false); err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrNilListener
	}
	rev, err := r.store.revision(ctx)
	if err != nil {
		return nil, wrapBackendError("subscribe", path, err)
	}
	s, err := r.router.add(path, l, rev, false)
	if err != nil {
		return nil, err
	}
	r.logger.Debug(ctx, "subscribed", xlog.Path(path), xlog.Revision(rev),
		slog.String("scope", l.Scope().String()))
	return s, nil
}

// Unsubscribe 取消 path 上通过 Subscribe 注册的全部订阅
func (r *Registry) Unsubscribe(path string) error {
	if err := r.ready("unsubscribe", path, false); err != nil {
		return err
	}
	r.router.removePath(path)
	return nil
}

// AcquireLock 阻塞获取锁，同一会话重入直接返回 true
//
// Close 时等待中的调用返回 false, nil；会话丢失时返回 ErrConnectLost。
func (r *Registry) AcquireLock(ctx context.Context, path string) (ok bool, err error) {
	ctx, span := r.startSpan(ctx, "acquire_lock", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("acquire_lock", path, true); err != nil {
		return false, err
	}
	ok, err = r.locks.acquire(ctx, path)
	if err != nil {
		return false, wrapBackendError("acquire_lock", path, err)
	}
	return ok, nil
}

// TryAcquireLock 在 timeout 内获取锁，超时返回 false, nil；timeout 不大于 0 时只尝试一次
func (r *Registry) TryAcquireLock(ctx context.Context, path string, timeout time.Duration) (ok bool, err error) {
	ctx, span := r.startSpan(ctx, "try_acquire_lock", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("try_acquire_lock", path, true); err != nil {
		return false, err
	}
	ok, err = r.locks.tryAcquire(ctx, path, timeout)
	if err != nil {
		return false, wrapBackendError("try_acquire_lock", path, err)
	}
	return ok, nil
}

// ReleaseLock 释放锁，未持有时返回 false；一次释放即解除全部重入
func (r *Registry) ReleaseLock(ctx context.Context, path string) (ok bool, err error) {
	ctx, span := r.startSpan(ctx, "release_lock", path)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := r.ready("release_lock", path, true); err != nil {
		return false, err
	}
	ok, err = r.locks.release(ctx, path)
	if err != nil {
		return false, wrapBackendError("release_lock", path, err)
	}
	return ok, nil
}

func (r *Registry) checkPhase(op, path string) error {
	r.mu.Lock()
	p := r.phase
	r.mu.Unlock()
	switch p {
	case phaseCreated:
		return newError(KindNotStarted, op, path, nil)
	case phaseClosed:
		return newError(KindClosed, op, path, nil)
	}
	return nil
}

// ready 校验生命周期、路径与会话状态；mutation 为 true 时会话暂停或丢失即拒绝
func (r *Registry) ready(op, path string, mutation bool) error {
	if err := r.checkPhase(op, path); err != nil {
		return err
	}
	if r.phaseIs(phaseStarting) {
		return newError(KindNotStarted, op, path, nil)
	}
	if err := ValidatePath(path); err != nil {
		return newError(KindInvalidPath, op, path, err)
	}
	if mutation {
		switch r.State() {
		case StateSuspended, StateLost:
			return newError(KindConnectLost, op, path, nil)
		}
	}
	return nil
}

func (r *Registry) phaseIs(p phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase == p
}

func (r *Registry) startSpan(ctx context.Context, op, path string) (context.Context, xmetrics.Span) {
	opts := xmetrics.SpanOptions{
		Component: componentName,
		Operation: op,
		Kind:      xmetrics.KindClient,
	}
	if path != "" {
		opts.Attrs = []xmetrics.Attr{xmetrics.String("path", path)}
	}
	return xmetrics.Start(ctx, r.observer, opts)
}
