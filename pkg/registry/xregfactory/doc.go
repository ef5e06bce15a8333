// Package xregfactory 按配置选择后端并创建注册中心。
//
// 配置示例（YAML）：
//
//	registry:
//	  type: redis            # memory | etcd | redis | mongo
//	  options:
//	    sessionTimeout: 30s
//	    cacheSize: 4096
//	  redis:
//	    addrs: ["localhost:6379"]
//	  log:
//	    level: info
//	    format: json
//
// memory 类型使用进程内共享后端，同一进程内的多个注册中心互相可见。
//
// 用法：
//
//	cfg, err := xconf.New("app.yaml")
//	c, err := xregfactory.Load(cfg, "registry")
//	logger, cleanup, err := xregfactory.NewLogger(c.Log)
//	defer cleanup()
//	reg, err := xregfactory.Open(ctx, c, xregfactory.WithLogger(logger))
//	w, err := xregfactory.WatchLogLevel(cfg, "registry", logger)
//	defer w.Stop()
package xregfactory
