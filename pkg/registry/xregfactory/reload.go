package xregfactory

import (
	"context"

	"github.com/omeyang/xreg/pkg/config/xconf"
	"github.com/omeyang/xreg/pkg/observability/xlog"
)

// WatchLogLevel 监听配置文件，<section>.log.level 变化时调整 logger 级别
//
// 其余配置项在运行期不生效，需要重建注册中心。调用方负责 Stop 返回的 Watcher。
func WatchLogLevel(cfg xconf.Config, section string, logger xlog.LoggerWithLevel) (*xconf.Watcher, error) {
	key := "log.level"
	if section != "" {
		key = section + "." + key
	}
	return xconf.Watch(cfg, func(c xconf.Config, err error) {
		ctx := context.Background()
		if err != nil {
			logger.Warn(ctx, "config reload failed, keeping log level", xlog.Err(err))
			return
		}
		raw := c.Client().String(key)
		if raw == "" {
			return
		}
		level, err := xlog.ParseLevel(raw)
		if err != nil {
			logger.Warn(ctx, "invalid log level in config", xlog.Err(err))
			return
		}
		if level != logger.GetLevel() {
			logger.SetLevel(level)
			logger.Info(ctx, "log level changed", xlog.Operation("reload"))
		}
	})
}
