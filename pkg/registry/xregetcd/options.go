package xregetcd

import (
	"crypto/tls"
	"time"

	"github.com/omeyang/xreg/pkg/observability/xlog"
)

// defaultHealthCheckKey 健康检查读取的键，位于命名空间之外时需要相应的 RBAC 授权
const defaultHealthCheckKey = "xregetcd-health-check"

// Option etcd 后端选项。
type Option func(*options)

type options struct {
	namespace      string
	logger         xlog.Logger
	closeClient    bool
	healthCheck    bool
	healthTimeout  time.Duration
	healthCheckKey string
	tlsConfig      *tls.Config
}

func defaultOptions() *options {
	return &options{
		namespace:      DefaultNamespace,
		logger:         xlog.Discard(),
		healthTimeout:  10 * time.Second,
		healthCheckKey: defaultHealthCheckKey,
	}
}

// WithNamespace 设置键前缀。
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCloseClient Close 时一并关闭 etcd 客户端。
func WithCloseClient() Option {
	return func(o *options) {
		o.closeClient = true
	}
}

// WithHealthCheck 创建客户端后执行一次 Get 验证连接，timeout 默认 10 秒。
// 凭证无效时 NewClient 直接失败。
func WithHealthCheck(enabled bool, timeout time.Duration) Option {
	return func(o *options) {
		o.healthCheck = enabled
		if timeout > 0 {
			o.healthTimeout = timeout
		}
	}
}

// WithHealthCheckKey 设置健康检查使用的键。
func WithHealthCheckKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.healthCheckKey = key
		}
	}
}

// WithTLS 设置 TLS 配置。
func WithTLS(config *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = config
	}
}
