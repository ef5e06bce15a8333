package xlog

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// globalLogger 全局 Logger 实例（并发安全）
var globalLogger atomic.Pointer[LoggerWithLevel]

var globalOnce sync.Once

// Default 返回全局默认 Logger
//
// 首次调用时创建 stderr、Info 级别、text 格式的 Logger。
func Default() LoggerWithLevel {
	if l := globalLogger.Load(); l != nil {
		return *l
	}
	globalOnce.Do(func() {
		logger, _, err := New().Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "xlog: failed to build default logger: %v, using fallback\n", err)
			logger = &xlogger{
				handler:    slog.NewTextHandler(os.Stderr, nil),
				levelVar:   new(slog.LevelVar),
				errorCount: new(atomic.Uint64),
			}
		}
		globalLogger.CompareAndSwap(nil, &logger)
	})
	return *globalLogger.Load()
}

// SetDefault 替换全局默认 Logger，nil 会被忽略
func SetDefault(l LoggerWithLevel) {
	if l == nil {
		return
	}
	globalLogger.Store(&l)
}
