package xregfactory

import (
	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/observability/xmetrics"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// Option Open 选项
type Option func(*options)

type options struct {
	logger       xlog.Logger
	observer     xmetrics.Observer
	registryOpts []xregistry.Option
}

func defaultOptions() *options {
	return &options{}
}

// WithLogger 设置注册中心和后端共用的日志记录器，替代配置中的日志设置
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver 设置注册中心的观测器
func WithObserver(observer xmetrics.Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithRegistryOptions 追加注册中心选项，在配置文件之后应用
func WithRegistryOptions(opts ...xregistry.Option) Option {
	return func(o *options) {
		o.registryOpts = append(o.registryOpts, opts...)
	}
}
