package xregetcd

import (
	"context"
	"log/slog"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// Watch 监听命名空间下修订号大于 after 的全部变更
//
// 历史已被压缩时从压缩点继续并记录告警，压缩窗口内的变更不再补发。
func (b *Backend) Watch(ctx context.Context, after int64) (<-chan xregistry.Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	out := make(chan xregistry.Change)
	b.wg.Add(1)
	go b.pump(ctx, after, out)
	return out, nil
}

func (b *Backend) pump(ctx context.Context, after int64, out chan<- xregistry.Change) {
	defer b.wg.Done()
	defer close(out)

	// 无 leader 时立即中断，交由上层重订阅
	ctx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	next := after + 1
	for {
		wch := b.watcher.Watch(ctx, "/",
			clientv3.WithPrefix(), clientv3.WithRev(next), clientv3.WithPrevKV())
		compacted, ok := b.drain(ctx, wch, out, &next)
		if !ok {
			return
		}
		b.opts.logger.Warn(ctx, "change history compacted beyond resume point",
			xlog.Revision(next-1), slog.Int64("compacted", compacted))
		next = compacted
	}
}

// drain 转发一个 Watch 通道的事件；返回压缩点和 true 表示需要从压缩点重建
func (b *Backend) drain(ctx context.Context, wch clientv3.WatchChan, out chan<- xregistry.Change, next *int64) (int64, bool) {
	send := func(c xregistry.Change) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case <-ctx.Done():
			return 0, false
		case resp, ok := <-wch:
			if !ok {
				if ctx.Err() == nil {
					send(xregistry.Change{Err: errWatchClosed})
				}
				return 0, false
			}
			if resp.CompactRevision > 0 {
				return resp.CompactRevision, true
			}
			if err := resp.Err(); err != nil {
				if ctx.Err() == nil {
					send(xregistry.Change{Err: err})
				}
				return 0, false
			}
			for _, ev := range resp.Events {
				c, ok := changeFromEvent(ev)
				if !ok {
					continue
				}
				if !send(c) {
					return 0, false
				}
				*next = c.Revision + 1
			}
		}
	}
}

func changeFromEvent(ev *clientv3.Event) (xregistry.Change, bool) {
	if ev.Kv == nil {
		return xregistry.Change{}, false
	}
	c := xregistry.Change{
		Path:     string(ev.Kv.Key),
		Revision: ev.Kv.ModRevision,
	}
	switch ev.Type {
	case mvccpb.PUT:
		c.Type = xregistry.EventUpdate
		if ev.IsCreate() {
			c.Type = xregistry.EventAdd
		}
		c.Value = string(ev.Kv.Value)
		c.Version = ev.Kv.Version - 1
	case mvccpb.DELETE:
		c.Type = xregistry.EventRemove
		if ev.PrevKv != nil {
			c.Value = string(ev.PrevKv.Value)
			c.Version = ev.PrevKv.Version - 1
		}
	default:
		return xregistry.Change{}, false
	}
	return c, true
}
