package xregfactory

import (
	"context"
	"fmt"

	"github.com/omeyang/xreg/pkg/config/xconf"
	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/registry/xregetcd"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
	"github.com/omeyang/xreg/pkg/registry/xregmem"
	"github.com/omeyang/xreg/pkg/registry/xregmongo"
	"github.com/omeyang/xreg/pkg/registry/xregredis"
)

// NewLogger 按日志配置构建 Logger，返回的清理函数关闭轮转文件
func NewLogger(lc LogConfig) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().SetLevelString(lc.Level).SetFormat(lc.Format)
	if lc.File != "" {
		var opts []xlog.RotationOption
		if lc.MaxSizeMB > 0 {
			opts = append(opts, xlog.WithMaxSize(lc.MaxSizeMB))
		}
		if lc.MaxBackups > 0 {
			opts = append(opts, xlog.WithMaxBackups(lc.MaxBackups))
		}
		if lc.MaxAgeDays > 0 {
			opts = append(opts, xlog.WithMaxAge(lc.MaxAgeDays))
		}
		b = b.SetRotation(lc.File, opts...)
	}
	return b.Build()
}

// OpenBackend 按类型创建后端，owned 为 false 表示后端为进程共享实例，调用方不应关闭
func OpenBackend(ctx context.Context, c *Config, logger xlog.Logger) (backend xregistry.Backend, owned bool, err error) {
	if logger == nil {
		logger = xlog.Discard()
	}
	switch c.Type {
	case TypeMemory:
		return xregmem.Default(), false, nil
	case TypeEtcd:
		b, err := xregetcd.Open(ctx, &c.Etcd, xregetcd.WithLogger(logger))
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	case TypeRedis:
		b, err := xregredis.Open(ctx, c.Redis, xregredis.WithLogger(logger))
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	case TypeMongo:
		b, err := xregmongo.Open(ctx, c.Mongo, xregmongo.WithLogger(logger))
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
	}
}

// Open 校验配置并创建注册中心，尚未 Start
//
// 未通过 WithLogger 指定日志记录器时按 c.Log 构建，日志文件随注册中心 Close 关闭。
// 非共享后端随注册中心 Close 一并关闭。
func Open(ctx context.Context, c *Config, opts ...Option) (reg *xregistry.Registry, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	logger := o.logger
	var regOpts []xregistry.Option
	if logger == nil {
		built, cleanup, err := NewLogger(c.Log)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				_ = cleanup()
			}
		}()
		logger = built
		regOpts = append(regOpts, xregistry.WithOnClose(cleanup))
	}

	backend, owned, err := OpenBackend(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	settings := c.Options
	regOpts = append(regOpts,
		xregistry.WithConfig(&settings),
		xregistry.WithLogger(logger),
	)
	if o.observer != nil {
		regOpts = append(regOpts, xregistry.WithObserver(o.observer))
	}
	if owned {
		regOpts = append(regOpts, xregistry.WithCloseBackend())
	}
	reg, err = xregistry.New(backend, append(regOpts, o.registryOpts...)...)
	if err != nil {
		if owned {
			_ = backend.Close(ctx)
		}
		return nil, err
	}
	return reg, nil
}

// OpenFile 从配置文件的 section 段落创建注册中心
func OpenFile(ctx context.Context, path, section string, opts ...Option) (*xregistry.Registry, error) {
	cfg, err := xconf.New(path)
	if err != nil {
		return nil, err
	}
	c, err := Load(cfg, section)
	if err != nil {
		return nil, err
	}
	return Open(ctx, c, opts...)
}
