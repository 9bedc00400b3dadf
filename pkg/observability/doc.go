// Package observability 提供客户端的可观测性子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog，支持动态级别与文件轮转
//   - xmetrics: 统一的观测接口，OpenTelemetry 实现同时产出 span 与指标
//   - xpromstats: 把客户端统计 JSON 导出为 Prometheus 指标
//
// 日志在 context 带有 span 时自动附加 trace_id 与 span_id。
package observability
