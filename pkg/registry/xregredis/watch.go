package xregredis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xreg/internal/coalesce"
	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// Watch 轮询变更流，投递修订号大于 after 的变更
//
// 流条目 ID 即修订号，XREAD 直接从 after 续读。每批读取结果按路径合并。
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

	timer := time.NewTimer(0)
	defer timer.Stop()
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		for {
			batch, err := b.read(ctx, after)
			if err != nil {
				if ctx.Err() == nil {
					send(xregistry.Change{Err: err})
				}
				return
			}
			if len(batch) == 0 {
				break
			}
			if first && batch[0].Revision > after+1 {
				b.opts.logger.Warn(ctx, "change stream trimmed beyond resume point",
					xlog.Revision(after), slog.Int64("oldest", batch[0].Revision))
			}
			first = false
			after = batch[len(batch)-1].Revision
			for _, c := range coalesce.Collapse(batch) {
				if !send(c) {
					return
				}
			}
			if int64(len(batch)) < b.opts.batchSize {
				break
			}
		}
		first = false
		timer.Reset(b.opts.pollInterval)
	}
}

func (b *Backend) read(ctx context.Context, after int64) ([]xregistry.Change, error) {
	streams, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.evKey, strconv.FormatInt(after, 10) + "-0"},
		Count:   b.opts.batchSize,
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var batch []xregistry.Change
	for _, s := range streams {
		for _, msg := range s.Messages {
			c, err := changeFromMessage(msg)
			if err != nil {
				return nil, err
			}
			batch = append(batch, c)
		}
	}
	return batch, nil
}

func changeFromMessage(msg redis.XMessage) (xregistry.Change, error) {
	revStr, _, _ := strings.Cut(msg.ID, "-")
	rev, err := strconv.ParseInt(revStr, 10, 64)
	if err != nil {
		return xregistry.Change{}, fmt.Errorf("xregredis: bad stream id %q: %w", msg.ID, err)
	}
	field := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}
	typ, _ := strconv.Atoi(field("t"))
	ver, _ := strconv.ParseInt(field("ver"), 10, 64)
	return xregistry.Change{
		Type:     xregistry.EventType(typ),
		Path:     field("p"),
		Value:    field("v"),
		Version:  ver,
		Revision: rev,
	}, nil
}
