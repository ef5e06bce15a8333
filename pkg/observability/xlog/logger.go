package xlog

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// xlogger Logger 的默认实现
type xlogger struct {
	handler    slog.Handler
	levelVar   *slog.LevelVar
	addSource  bool
	onError    func(error)
	errorCount *atomic.Uint64 // 派生 logger 共享
}

//go:noinline
func (l *xlogger) log(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	if !l.handler.Enabled(ctx, level) {
		return
	}

	var pc uintptr
	if l.addSource {
		var pcs [1]uintptr
		// runtime.Callers -> log -> Debug/Info/... -> 业务代码
		runtime.Callers(3, pcs[:])
		pc = pcs[0]
	}

	r := slog.NewRecord(time.Now(), level, msg, pc)
	r.AddAttrs(attrs...)
	if err := l.handler.Handle(ctx, r); err != nil {
		l.errorCount.Add(1)
		if l.onError != nil {
			l.safeOnError(err)
		}
	}
}

// safeOnError 隔离回调 panic，日志失败不扩散到业务调用链
func (l *xlogger) safeOnError(err error) {
	defer func() {
		if r := recover(); r != nil {
			l.errorCount.Add(1)
		}
	}()
	l.onError(err)
}

// Debug 记录调试日志
//
//go:noinline
func (l *xlogger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, msg, attrs)
}

// Info 记录普通日志
//
//go:noinline
func (l *xlogger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelInfo, msg, attrs)
}

// Warn 记录警告日志
//
//go:noinline
func (l *xlogger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelWarn, msg, attrs)
}

// Error 记录错误日志
//
//go:noinline
func (l *xlogger) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelError, msg, attrs)
}

// With 返回带额外属性的派生 Logger，共享级别与错误计数
func (l *xlogger) With(attrs ...slog.Attr) Logger {
	if len(attrs) == 0 {
		return l
	}
	return &xlogger{
		handler:    l.handler.WithAttrs(attrs),
		levelVar:   l.levelVar,
		addSource:  l.addSource,
		onError:    l.onError,
		errorCount: l.errorCount,
	}
}

// SetLevel 动态设置日志级别
func (l *xlogger) SetLevel(level Level) {
	l.levelVar.Set(slog.Level(level))
}

// GetLevel 获取当前日志级别
func (l *xlogger) GetLevel() Level {
	return Level(l.levelVar.Level())
}

// ErrorCount 返回 Handler 写入失败的累计次数
func (l *xlogger) ErrorCount() uint64 {
	return l.errorCount.Load()
}

// Discard 返回丢弃所有输出的 Logger
func Discard() Logger {
	return &xlogger{
		handler:    slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}),
		levelVar:   new(slog.LevelVar),
		errorCount: new(atomic.Uint64),
	}
}
