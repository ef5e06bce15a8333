// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持文件轮转和运行期调整级别
//   - xmetrics: 统一观测接口（追踪 span、操作计数和耗时），默认空实现，可接 OpenTelemetry
package observability
