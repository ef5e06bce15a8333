package xregmem

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omeyang/xreg/internal/coalesce"
	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// watcher 单个订阅者的无界队列，push 从不阻塞提交路径
type watcher struct {
	mu     sync.Mutex
	queue  []xregistry.Change
	signal chan struct{}
	out    chan xregistry.Change
}

func (w *watcher) push(c xregistry.Change) {
	w.mu.Lock()
	w.queue = append(w.queue, c)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) drain() []xregistry.Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.queue
	w.queue = nil
	return batch
}

// Watch 订阅修订号大于 after 的变更，历史已截断的部分无法补发
func (b *Backend) Watch(ctx context.Context, after int64) (<-chan xregistry.Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	w := &watcher{
		signal: make(chan struct{}, 1),
		out:    make(chan xregistry.Change),
	}
	if len(b.history) > 0 && b.history[0].Revision > after+1 {
		b.opts.logger.Warn(ctx, "watch history truncated",
			xlog.Revision(after), slog.Int64("oldest", b.history[0].Revision))
	}
	for _, c := range b.history {
		if c.Revision > after {
			w.queue = append(w.queue, c)
		}
	}
	if len(w.queue) > 0 {
		w.signal <- struct{}{}
	}
	b.watchers[w] = struct{}{}

	b.wg.Add(1)
	go b.pump(ctx, w)
	return w.out, nil
}

func (b *Backend) pump(ctx context.Context, w *watcher) {
	defer b.wg.Done()
	defer close(w.out)
	defer func() {
		b.mu.Lock()
		delete(b.watchers, w)
		b.mu.Unlock()
	}()

	var tick <-chan time.Time
	if b.opts.pollInterval > 0 {
		ticker := time.NewTicker(b.opts.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		} else {
			select {
			case <-w.signal:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}

		batch := w.drain()
		if tick != nil {
			batch = coalesce.Collapse(batch)
		}
		for _, c := range batch {
			select {
			case w.out <- c:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}
	}
}
