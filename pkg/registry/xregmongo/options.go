package xregmongo

import (
	"time"

	"github.com/omeyang/xreg/pkg/observability/xlog"
)

// Option MongoDB 后端选项
type Option func(*backendOptions)

type backendOptions struct {
	database         string
	collectionPrefix string
	pollInterval     time.Duration
	batchSize        int64
	gapTimeout       time.Duration
	eventRetention   int64
	janitorSchedule  string
	logger           xlog.Logger
	now              func() time.Time
	disconnect       bool
}

func defaultOptions() *backendOptions {
	return &backendOptions{
		database:         DefaultDatabase,
		collectionPrefix: DefaultCollectionPrefix,
		pollInterval:     DefaultPollInterval,
		batchSize:        DefaultBatchSize,
		gapTimeout:       DefaultGapTimeout,
		eventRetention:   DefaultEventRetention,
		janitorSchedule:  DefaultJanitorSchedule,
		logger:           xlog.Discard(),
		now:              time.Now,
	}
}

// WithDatabase 设置数据库名
func WithDatabase(name string) Option {
	return func(o *backendOptions) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollectionPrefix 设置集合名前缀
func WithCollectionPrefix(prefix string) Option {
	return func(o *backendOptions) {
		if prefix != "" {
			o.collectionPrefix = prefix
		}
	}
}

// WithPollInterval 设置事件轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(o *backendOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithBatchSize 设置单次读取事件条数
func WithBatchSize(n int64) Option {
	return func(o *backendOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithGapTimeout 设置事件序号缺口的最长等待时间
func WithGapTimeout(d time.Duration) Option {
	return func(o *backendOptions) {
		if d > 0 {
			o.gapTimeout = d
		}
	}
}

// WithEventRetention 设置事件保留条数
func WithEventRetention(n int64) Option {
	return func(o *backendOptions) {
		if n > 0 {
			o.eventRetention = n
		}
	}
}

// WithJanitorSchedule 设置清理任务的 cron 表达式，空串表示不启动清理任务
func WithJanitorSchedule(schedule string) Option {
	return func(o *backendOptions) {
		o.janitorSchedule = schedule
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger xlog.Logger) Option {
	return func(o *backendOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock 替换会话过期判断使用的时钟
func WithClock(now func() time.Time) Option {
	return func(o *backendOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDisconnect Close 时断开客户端
func WithDisconnect() Option {
	return func(o *backendOptions) {
		o.disconnect = true
	}
}
