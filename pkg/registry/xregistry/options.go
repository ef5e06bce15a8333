package xregistry

import (
	"time"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/observability/xmetrics"
)

// Option Registry 配置选项
type Option func(*options)

type options struct {
	config       Config
	logger       xlog.Logger
	observer     xmetrics.Observer
	closeBackend bool
	onClose      []func() error
}

func defaultOptions() *options {
	return &options{
		config:   *DefaultConfig(),
		logger:   xlog.Discard(),
		observer: xmetrics.NoopObserver{},
	}
}

// WithConfig 使用完整配置，零值字段按默认值填充
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = *cfg
		}
	}
}

// WithSessionTimeout 设置会话 TTL
func WithSessionTimeout(d time.Duration) Option {
	return func(o *options) {
		o.config.SessionTimeout = d
	}
}

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) {
		o.config.HeartbeatInterval = d
	}
}

// WithConnectTimeout 设置 Start 的连接超时
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.config.ConnectTimeout = d
	}
}

// WithLockRecheckInterval 设置等锁兜底重检间隔
func WithLockRecheckInterval(d time.Duration) Option {
	return func(o *options) {
		o.config.LockRecheckInterval = d
	}
}

// WithCacheSize 设置读缓存容量，0 关闭缓存
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.config.CacheSize = n
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

// WithObserver 设置观测器
func WithObserver(observer xmetrics.Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithCloseBackend Close 时一并关闭 Backend，用于由工厂创建、独占后端的 Registry
func WithCloseBackend() Option {
	return func(o *options) {
		o.closeBackend = true
	}
}

// WithOnClose 注册 Close 最后执行的清理函数，如关闭日志文件；错误被忽略
func WithOnClose(fn func() error) Option {
	return func(o *options) {
		if fn != nil {
			o.onClose = append(o.onClose, fn)
		}
	}
}
