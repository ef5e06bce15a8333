package xregredis

import (
	"time"

	"github.com/omeyang/xreg/pkg/observability/xlog"
)

// Option Redis 后端选项
type Option func(*options)

type options struct {
	keyPrefix    string
	pollInterval time.Duration
	streamMaxLen int64
	batchSize    int64
	logger       xlog.Logger
	now          func() time.Time
	closeClient  bool
}

func defaultOptions() *options {
	return &options{
		keyPrefix:    DefaultKeyPrefix,
		pollInterval: DefaultPollInterval,
		streamMaxLen: DefaultStreamMaxLen,
		batchSize:    DefaultBatchSize,
		logger:       xlog.Discard(),
		now:          time.Now,
	}
}

// WithKeyPrefix 设置键前缀，用于多个注册中心共用一个 Redis
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithPollInterval 设置变更流轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithStreamMaxLen 设置变更流保留条数
func WithStreamMaxLen(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.streamMaxLen = n
		}
	}
}

// WithBatchSize 设置单次读取变更条数
func WithBatchSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
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

// WithClock 替换会话过期索引使用的时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCloseClient Close 时一并关闭 Redis 客户端
func WithCloseClient() Option {
	return func(o *options) {
		o.closeClient = true
	}
}
