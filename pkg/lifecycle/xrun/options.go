package xrun

import "github.com/omeyang/xreg/pkg/observability/xlog"

type groupOptions struct {
	name   string
	logger xlog.Logger
}

// Option Group 配置选项
type Option func(*groupOptions)

func defaultOptions() *groupOptions {
	return &groupOptions{
		name:   "xrun",
		logger: xlog.Discard(),
	}
}

// WithName 设置 Group 名称，用于日志
func WithName(name string) Option {
	return func(o *groupOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger xlog.Logger) Option {
	return func(o *groupOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
