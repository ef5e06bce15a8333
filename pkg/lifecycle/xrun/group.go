package xrun

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xreg/pkg/observability/xlog"
)

// Group 一组共享生命周期的后台任务
type Group struct {
	eg       *errgroup.Group
	ctx      context.Context
	causeCtx context.Context
	cancel   context.CancelCauseFunc
	opts     *groupOptions
}

// NewGroup 创建任务组，返回的 context 在任一任务失败或 Cancel 时取消
func NewGroup(ctx context.Context, opts ...Option) (*Group, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	causeCtx, cancel := context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(causeCtx)
	return &Group{
		eg:       eg,
		ctx:      egCtx,
		causeCtx: causeCtx,
		cancel:   cancel,
		opts:     options,
	}, egCtx
}

// Go 启动一个任务
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		return fn(g.ctx)
	})
}

// GoWithName 启动一个具名任务，启停与异常退出会记录日志
func (g *Group) GoWithName(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		attrs := []slog.Attr{slog.String("group", g.opts.name), slog.String("task", name)}
		g.opts.logger.Debug(g.ctx, "task starting", attrs...)
		err := fn(g.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.opts.logger.Warn(context.WithoutCancel(g.ctx), "task exited with error", append(attrs, xlog.Err(err))...)
		} else {
			g.opts.logger.Debug(context.WithoutCancel(g.ctx), "task stopped", attrs...)
		}
		return err
	})
}

// Wait 等待全部任务退出
//
// 因 Cancel(nil) 或父 context 取消而退出时返回 nil；
// Cancel 传入非取消原因时返回该原因。
func (g *Group) Wait() error {
	defer g.cancel(nil)

	err := g.eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if g.causeCtx.Err() != nil {
		if cause := context.Cause(g.causeCtx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
	}
	return nil
}

// Cancel 以指定原因取消全部任务，cause 为 nil 时等价于 context.Canceled
func (g *Group) Cancel(cause error) {
	g.cancel(cause)
}

// Context 返回任务组的 context
func (g *Group) Context() context.Context {
	return g.ctx
}

// Ticker 返回按固定间隔执行 fn 的任务函数
//
// immediate 为 true 时先执行一次。fn 返回错误会结束任务。
func Ticker(interval time.Duration, immediate bool, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ErrInvalidInterval
		}
		if fn == nil {
			return ErrNilFunc
		}
		if immediate {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := fn(ctx); err != nil {
				return err
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
