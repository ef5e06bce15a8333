package xregmongo

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/xreg/internal/coalesce"
	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// sequencer 保证按修订号连续投递事件
//
// 修订号分配与事件写入不是原子的，读到 n+2 而缺 n+1 时 n+1 可能仍在写入途中。
// 缺口持续超过 timeout 视为写入方已放弃或事件已被清理，跳过缺口。
type sequencer struct {
	next     int64
	timeout  time.Duration
	gapSince time.Time
}

// accept 返回可以投递的连续事件前缀和本次跳过的修订号数量
func (s *sequencer) accept(docs []eventDoc, now time.Time) (ready []eventDoc, skipped int64) {
	for _, d := range docs {
		if d.Seq < s.next {
			continue
		}
		if d.Seq > s.next {
			if s.gapSince.IsZero() {
				s.gapSince = now
			}
			if now.Sub(s.gapSince) < s.timeout {
				break
			}
			skipped += d.Seq - s.next
			s.next = d.Seq
		}
		s.gapSince = time.Time{}
		ready = append(ready, d)
		s.next = d.Seq + 1
	}
	return ready, skipped
}

// Watch 轮询事件集合，投递修订号大于 after 的变更
func (b *Backend) Watch(ctx context.Context, after int64) (<-chan xregistry.Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	out := make(chan xregistry.Change)
	b.wg.Add(1)
	go b.poll(ctx, after, out)
	return out, nil
}

func (b *Backend) poll(ctx context.Context, after int64, out chan<- xregistry.Change) {
	defer b.wg.Done()
	defer close(out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	send := func(c xregistry.Change) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	seq := &sequencer{next: after + 1, timeout: b.opts.gapTimeout}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		for {
			docs, err := b.read(ctx, seq.next-1)
			if err != nil {
				if ctx.Err() == nil {
					send(xregistry.Change{Err: err})
				}
				return
			}
			ready, skipped := seq.accept(docs, time.Now())
			if skipped > 0 {
				b.opts.logger.Warn(ctx, "skipped missing change events",
					xlog.Revision(seq.next-1), slog.Int64("skipped", skipped))
			}
			batch := make([]xregistry.Change, 0, len(ready))
			for _, d := range ready {
				if d.Type != eventNoop {
					batch = append(batch, d.change())
				}
			}
			for _, c := range coalesce.Collapse(batch) {
				if !send(c) {
					return
				}
			}
			if int64(len(docs)) < b.opts.batchSize || len(ready) < len(docs) {
				break
			}
		}
		timer.Reset(b.opts.pollInterval)
	}
}

func (b *Backend) read(ctx context.Context, after int64) ([]eventDoc, error) {
	cur, err := b.events.Find(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: after}}}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(b.opts.batchSize),
	)
	if err != nil {
		return nil, err
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
