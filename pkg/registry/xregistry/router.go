package xregistry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/observability/xmetrics"
)

const (
	watchInitialBackoff = 100 * time.Millisecond
	watchMaxBackoff     = 5 * time.Second
)

var errFeedClosed = errors.New("xregistry: change feed closed")

// subscription 一条订阅；after 之前（含）的修订号不会投递，避免回放注册前的变更
type subscription struct {
	id       uint64
	path     string
	scope    Scope
	listener Listener
	after    int64
	internal bool
	active   atomic.Bool
	router   *watchRouter
}

func (s *subscription) Path() string {
	return s.path
}

func (s *subscription) Unsubscribe() {
	if s.active.CompareAndSwap(true, false) {
		s.router.remove(s.id)
	}
}

// watchRouter 消费后端变更流并按提交顺序分发到匹配的订阅。
//
// 单 goroutine 分发保证同一订阅的监听器串行调用，同一路径的事件按序到达。
type watchRouter struct {
	backend  Backend
	logger   xlog.Logger
	observer xmetrics.Observer
	onChange func(Change) // 分发前回调，用于失效读缓存

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	startRev atomic.Int64
}

func newWatchRouter(backend Backend, logger xlog.Logger, observer xmetrics.Observer) *watchRouter {
	return &watchRouter{
		backend:  backend,
		logger:   logger,
		observer: observer,
		subs:     make(map[uint64]*subscription),
	}
}

// add 注册订阅，after 为注册时刻的后端修订号
func (r *watchRouter) add(path string, l Listener, after int64, internal bool) (*subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, newError(KindClosed, "subscribe", path, nil)
	}
	r.nextID++
	sub := &subscription{
		id:       r.nextID,
		path:     path,
		scope:    l.Scope(),
		listener: l,
		after:    after,
		internal: internal,
		router:   r,
	}
	sub.active.Store(true)
	r.subs[sub.id] = sub
	return sub, nil
}

func (r *watchRouter) remove(id uint64) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// removePath 取消 path 上的全部外部订阅，返回取消数量
func (r *watchRouter) removePath(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, sub := range r.subs {
		if sub.path == path && !sub.internal {
			sub.active.Store(false)
			delete(r.subs, id)
			n++
		}
	}
	return n
}

// close 丢弃全部订阅，此后不再调用任何监听器
func (r *watchRouter) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, sub := range r.subs {
		sub.active.Store(false)
		delete(r.subs, id)
	}
}

// run 持续消费变更流，中断后从最后处理的修订号带抖动退避重连
func (r *watchRouter) run(ctx context.Context) error {
	after := r.startRev.Load()
	backoff := watchInitialBackoff
	for {
		last, err := r.consume(ctx, after)
		if ctx.Err() != nil {
			return nil
		}
		if last > after {
			after = last
			backoff = watchInitialBackoff
		}
		r.logger.Warn(ctx, "change feed interrupted, resubscribing",
			xlog.Revision(after), xlog.Err(err), xlog.Duration(backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = nextBackoff(backoff)
	}
}

// consume 消费一次变更流，返回最后处理的修订号
//
// 同一修订号可能包含多条变更（例如会话过期一次删除多个节点），
// 因此只丢弃不大于续传点的重复变更。
func (r *watchRouter) consume(ctx context.Context, resume int64) (int64, error) {
	last := resume
	feed, err := r.backend.Watch(ctx, resume)
	if err != nil {
		return last, err
	}
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case c, ok := <-feed:
			if !ok {
				return last, errFeedClosed
			}
			if c.Err != nil {
				return last, c.Err
			}
			if c.Revision <= resume {
				continue
			}
			r.dispatch(ctx, c)
			last = c.Revision
		}
	}
}

func (r *watchRouter) dispatch(ctx context.Context, c Change) {
	if r.onChange != nil {
		r.onChange(c)
	}
	ev := eventOf(c)

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	matched := make([]*subscription, 0, 4)
	for _, sub := range r.subs {
		if c.Revision > sub.after && Matches(sub.path, sub.scope, c.Path) {
			matched = append(matched, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range matched {
		if !sub.active.Load() {
			continue
		}
		r.notify(ctx, sub, ev)
	}
	if len(matched) > 0 {
		xmetrics.RecordEvent(ctx, r.observer, "router", ev.Type.String())
	}
}

func (r *watchRouter) notify(ctx context.Context, sub *subscription, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error(ctx, "listener panicked",
				xlog.Path(sub.path), slog.String("event", ev.Type.String()), slog.Any("panic", p))
		}
	}()
	sub.listener.Notify(ev)
}

// nextBackoff 指数退避并加入 ±20% 抖动，避免大量客户端同时重连
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	next += time.Duration(float64(next) * (rand.Float64()*0.4 - 0.2))
	return min(next, watchMaxBackoff)
}
