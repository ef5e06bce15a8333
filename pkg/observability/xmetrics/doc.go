// Package xmetrics 提供统一的观测接口，并以 OpenTelemetry 作为默认实现。
//
// 注册中心的每个公开操作都通过 [Start] 开启一个跨度，结束时记录：
//   - trace span（名称为操作名，附带 component/operation 属性）
//   - 计数器 xreg.operation.total（component/operation/status 维度）
//   - 直方图 xreg.operation.duration（单位秒）
//
// 会话状态迁移、事件分发等非请求型事件通过 [RecordEvent] 计入
// xreg.event.total，Observer 未实现 [EventRecorder] 时静默忽略。
//
// 未配置 Observer 时使用 [NoopObserver]，调用方无需判空。
package xmetrics
