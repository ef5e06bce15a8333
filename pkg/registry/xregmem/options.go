package xregmem

import (
	"time"

	"github.com/omeyang/xreg/pkg/observability/xlog"
)

// DefaultHistorySize 默认保留的变更历史条数
const DefaultHistorySize = 10000

// Option 内存后端配置选项
type Option func(*options)

type options struct {
	pollInterval time.Duration
	historySize  int
	logger       xlog.Logger
	now          func() time.Time
}

func defaultOptions() *options {
	return &options{
		historySize: DefaultHistorySize,
		logger:      xlog.Discard(),
		now:         time.Now,
	}
}

// WithPollInterval 以固定间隔批量投递变更并合并同一路径的多次变更，
// 模拟轮询型后端。0 表示变更立即投递。
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.pollInterval = d
		}
	}
}

// WithHistorySize 设置变更历史容量，Watch 只能从历史内的修订号续传
func WithHistorySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.historySize = n
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock 替换时钟，用于测试会话过期
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
