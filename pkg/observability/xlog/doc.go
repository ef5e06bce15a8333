// Package xlog 基于 log/slog 的结构化日志库，供注册中心各组件统一使用。
//
// # 创建 Logger
//
// 使用 Builder 模式（first-error-wins：遇到第一个配置错误后，后续 Set 操作被跳过）：
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		SetRotation("/var/log/xreg/registry.log", xlog.WithMaxSize(100)).
//		Build()
//	if err != nil { ... }
//	defer cleanup()
//
// 所有日志方法强制传入 context.Context，便于后续接入 trace 信息。
//
// # 全局 Logger
//
// [Default] 惰性创建 stderr/Info/text 的默认 Logger，[SetDefault] 可替换。
// 服务端推荐依赖注入，显式持有 Logger。
//
// # 静默 Logger
//
// [Discard] 返回丢弃全部输出的 Logger，适用于测试和未配置日志的组件。
//
// # 便捷属性
//
// [Err]、[Duration]、[Component]、[Operation]、[Path]、[Session]、[State]、[Revision]。
package xlog
