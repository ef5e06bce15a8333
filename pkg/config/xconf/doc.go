// Package xconf 基于 koanf 的配置加载，支持 YAML/JSON 文件与内存字节。
//
// 注册中心的配置按节组织，通过 [Config.Unmarshal] 解析到具体结构体：
//
//	cfg, err := xconf.New("registry.yaml")
//	var rc xregfactory.Config
//	err = cfg.Unmarshal("registry", &rc)
//
// 时长字段支持 "30s"、"500ms" 等字符串形式。
//
// [Watch] 基于 fsnotify 监听配置文件变更，去抖后重新加载并回调，
// 用于日志级别等可热更新的配置项。
package xconf
